package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// DecodeJSON 将生成文本解析为结构体
// 去掉 markdown 代码块，截取首个 JSON 对象；解析失败时尝试修复一次
func DecodeJSON(raw string, v interface{}) error {
	text := extractObject(raw)
	if text == "" {
		return fmt.Errorf("no JSON object in model output")
	}

	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return fmt.Errorf("model output is not valid JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("model output does not match expected structure: %w", err)
	}
	return nil
}

// extractObject 截取第一个 '{' 到最后一个 '}' 之间的内容
func extractObject(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		// 截断的输出交给修复逻辑补齐
		return s[start:]
	}
	return s[start : end+1]
}
