package base

import (
	"encoding/json"
	"fmt"
	"strconv"

	"neotask/internal/model/basemodel"
	orcModel "neotask/internal/model/orchestrator"
)

// TaskConfig 归一化后的任务配置
// Params 对应任务的类型相关配置，Input 对应认知任务输入
type TaskConfig struct {
	TaskID      string
	Type        orcModel.TaskType
	Action      string
	Title       string
	Description string
	Params      basemodel.JSONMap
	Input       basemodel.JSONMap
}

// FromTask 从任务实体构造执行配置
func FromTask(t *orcModel.Task) *TaskConfig {
	cfg := &TaskConfig{
		TaskID:      t.TaskID,
		Type:        t.Type,
		Action:      t.Action,
		Title:       t.Title,
		Description: t.Description,
		Params:      t.Config,
		Input:       t.Input,
	}
	if cfg.Params == nil {
		cfg.Params = basemodel.JSONMap{}
	}
	if cfg.Input == nil {
		cfg.Input = basemodel.JSONMap{}
	}
	// action 也可以写在配置里
	if cfg.Action == "" {
		cfg.Action = cfg.Params.GetString("action")
	}
	return cfg
}

// String 读取字符串参数
func (c *TaskConfig) String(key string) string {
	return c.Params.GetString(key)
}

// RequireString 读取必填字符串参数，缺失时返回 ConfigurationError
func (c *TaskConfig) RequireString(op, key string) (string, error) {
	v := c.Params.GetString(key)
	if v == "" {
		return "", orcModel.ConfigError(op, "missing required config field %q", key)
	}
	return v, nil
}

// Strings 读取字符串数组参数，兼容 []interface{} 与 []string
func (c *TaskConfig) Strings(key string) []string {
	return toStrings(c.Params[key])
}

// Int 读取整数参数，兼容 JSON 数字与字符串
func (c *TaskConfig) Int(key string, def int) int {
	switch v := c.Params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Map 读取对象参数
func (c *TaskConfig) Map(key string) map[string]interface{} {
	if m, ok := c.Params[key].(map[string]interface{}); ok {
		return m
	}
	return nil
}

// InputString 读取认知输入字段，非字符串值以JSON输出
func (c *TaskConfig) InputString(key string) string {
	v, ok := c.Input[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func toStrings(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprintf("%v", item))
			}
		}
		return out
	case string:
		if vv == "" {
			return nil
		}
		return []string{vv}
	}
	return nil
}
