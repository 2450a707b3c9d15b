package basemodel

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringSlice 字符串切片，以JSON数组形式存储 (capabilities 等字段)
type StringSlice []string

// Scan 实现sql.Scanner接口
func (s *StringSlice) Scan(value interface{}) error {
	str, err := asString(value)
	if err != nil {
		return fmt.Errorf("StringSlice.Scan 失败: %w", err)
	}
	if str == "" || str == "null" {
		*s = StringSlice{}
		return nil
	}
	return json.Unmarshal([]byte(str), (*[]string)(s))
}

// Value 实现driver.Valuer接口
func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, fmt.Errorf("StringSlice.Value 失败: %w", err)
	}
	return string(b), nil
}

// Contains 是否包含指定元素
func (s StringSlice) Contains(item string) bool {
	for _, v := range s {
		if v == item {
			return true
		}
	}
	return false
}

// JSONMap 任意键值对象，以JSON对象形式存储 (任务配置、输入等字段)
type JSONMap map[string]interface{}

// Scan 实现sql.Scanner接口
func (m *JSONMap) Scan(value interface{}) error {
	str, err := asString(value)
	if err != nil {
		return fmt.Errorf("JSONMap.Scan 失败: %w", err)
	}
	if str == "" || str == "null" {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal([]byte(str), (*map[string]interface{})(m))
}

// Value 实现driver.Valuer接口
func (m JSONMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]interface{}(m))
	if err != nil {
		return nil, fmt.Errorf("JSONMap.Value 失败: %w", err)
	}
	return string(b), nil
}

// GetString 读取字符串字段，不存在或类型不符返回空串
func (m JSONMap) GetString(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// asString 统一数据库返回值
func asString(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("无法将 %T 转换为字符串", value)
	}
}
