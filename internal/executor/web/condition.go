package web

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	orcModel "neotask/internal/model/orchestrator"
)

// 条件操作符
const (
	OpEquals      = "equals"
	OpContains    = "contains"
	OpGreaterThan = "greaterThan"
	OpLessThan    = "lessThan"
)

// Condition 监控条件
type Condition struct {
	Selector string
	Operator string
	Value    string
}

// ConditionResult 单个条件的评估结果
type ConditionResult struct {
	Met      bool   `json:"met"`
	Value    string `json:"value"`
	Expected string `json:"expected"`
}

var leadingNumber = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// Evaluate 比较页面上提取的文本与期望值；未知操作符返回 ConfigurationError
// 数值比较取两侧文本开头的数字，任一侧无法解析时条件不成立
func Evaluate(actual string, cond Condition) (bool, error) {
	switch cond.Operator {
	case OpEquals:
		return actual == cond.Value, nil
	case OpContains:
		return strings.Contains(actual, cond.Value), nil
	case OpGreaterThan:
		return parseNumber(actual) > parseNumber(cond.Value), nil
	case OpLessThan:
		return parseNumber(actual) < parseNumber(cond.Value), nil
	}
	return false, orcModel.ConfigError("web.monitor", "unsupported condition operator: %s", cond.Operator)
}

// parseNumber 解析开头的数字，失败返回 NaN (与任何数比较均为 false)
func parseNumber(s string) float64 {
	m := leadingNumber.FindString(strings.TrimSpace(s))
	if m == "" {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// parseConditions 从配置解析条件表
func parseConditions(raw map[string]interface{}) (map[string]Condition, error) {
	if len(raw) == 0 {
		return nil, orcModel.ConfigError("web.monitor", "missing required config field %q", "conditions")
	}
	out := make(map[string]Condition, len(raw))
	for name, v := range raw {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, orcModel.ConfigError("web.monitor", "condition %q must be an object", name)
		}
		cond := Condition{
			Selector: stringOf(m["selector"]),
			Operator: stringOf(m["operator"]),
			Value:    stringOf(m["value"]),
		}
		if cond.Selector == "" {
			return nil, orcModel.ConfigError("web.monitor", "condition %q has no selector", name)
		}
		out[name] = cond
	}
	return out, nil
}

func stringOf(v interface{}) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}
