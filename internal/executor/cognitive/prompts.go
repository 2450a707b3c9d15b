package cognitive

import (
	"fmt"

	"neotask/internal/executor/base"
)

// orDefault 输入缺失时使用默认说明
func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func summarizePrompt(cfg *base.TaskConfig) string {
	return fmt.Sprintf(`Summarize the following content:
Context: %s
Content: %s
Instructions: %s

Please provide a summary that:
1. Captures the main points
2. Is clear and concise
3. Follows any specific instructions provided`,
		cfg.Description,
		cfg.InputString("content"),
		orDefault(cfg.InputString("instructions"), "Provide a concise summary"))
}

func analyzePrompt(cfg *base.TaskConfig) string {
	return fmt.Sprintf(`Analyze the following:
Context: %s
Content: %s
Analysis Type: %s
Instructions: %s

Please provide an analysis that:
1. Identifies key patterns or insights
2. Supports findings with evidence
3. Follows any specific instructions provided`,
		cfg.Description,
		cfg.InputString("content"),
		orDefault(cfg.InputString("analysisType"), "general"),
		orDefault(cfg.InputString("instructions"), "Provide a detailed analysis"))
}

func reportPrompt(cfg *base.TaskConfig) string {
	return fmt.Sprintf(`Generate a report based on the following:
Context: %s
Data: %s
Format: %s
Instructions: %s`,
		cfg.Description,
		cfg.InputString("data"),
		orDefault(cfg.InputString("format"), "markdown"),
		orDefault(cfg.InputString("instructions"), "Generate a comprehensive report"))
}

func monitorPrompt(cfg *base.TaskConfig, content string) string {
	return fmt.Sprintf(`Analyze the following webpage content for significant changes:
Content: %s
Previous State: %s
Criteria: %s`,
		content,
		orDefault(cfg.InputString("previousState"), "None"),
		orDefault(cfg.InputString("criteria"), "Look for any significant changes"))
}

func alertPrompt(cfg *base.TaskConfig) string {
	return fmt.Sprintf(`Evaluate the following condition and determine if an alert should be triggered:
Condition: %s
Data: %s
Instructions: %s

Respond with a JSON object containing:
1. "alert": true if the condition is met, otherwise false
2. "explanation": a brief explanation of why
3. "actions": a list of recommended actions, empty if none apply`,
		cfg.InputString("condition"),
		cfg.InputString("data"),
		orDefault(cfg.InputString("instructions"), "Evaluate if the condition is met"))
}

// alertSchema 告警判定的结构化输出约束
const alertSchema = `{
  "type": "object",
  "properties": {
    "alert": {"type": "boolean"},
    "explanation": {"type": "string"},
    "actions": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["alert", "explanation"]
}`
