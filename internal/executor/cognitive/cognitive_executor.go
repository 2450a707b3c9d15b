/**
 * 认知任务执行器
 * @date: 2026.10.17
 * @description: summarize/analyze/report/monitor/alert 五类任务，
 *   由任务描述与输入字段构造提示词后交给文本生成后端。
 *   alert 要求后端返回结构化判定，无法解析时任务失败。
 */
package cognitive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"neotask/internal/executor/base"
	"neotask/internal/executor/web"
	orcModel "neotask/internal/model/orchestrator"
	"neotask/internal/pkg/llm"
	"neotask/internal/service/orchestrator/access"

	"github.com/microcosm-cc/bluemonday"
)

// AlertDecision 告警判定
type AlertDecision struct {
	Alert       *bool    `json:"alert"`
	Explanation string   `json:"explanation"`
	Actions     []string `json:"actions"`
}

// Executor 认知任务执行器
type Executor struct {
	client  llm.Client
	fetcher *web.Fetcher
	policy  *bluemonday.Policy
	now     func() time.Time
}

// NewExecutor 创建认知任务执行器
func NewExecutor(client llm.Client, fetcher *web.Fetcher) *Executor {
	return &Executor{
		client:  client,
		fetcher: fetcher,
		policy:  bluemonday.StrictPolicy(),
		now:     time.Now,
	}
}

// Name 执行器名称
func (e *Executor) Name() string { return "cognitive" }

// Types 处理的任务类型
func (e *Executor) Types() []orcModel.TaskType {
	return []orcModel.TaskType{
		orcModel.TaskTypeSummarize,
		orcModel.TaskTypeAnalyze,
		orcModel.TaskTypeReport,
		orcModel.TaskTypeMonitor,
		orcModel.TaskTypeAlert,
	}
}

// AccessRequest 认知任务不需要资源授权
func (e *Executor) AccessRequest(cfg *base.TaskConfig) (access.Request, error) {
	if !cfg.Type.IsCognitive() {
		return access.Request{}, orcModel.ConfigError("cognitive", "unsupported task type: %s", cfg.Type)
	}
	return access.Request{TaskType: cfg.Type, Action: string(cfg.Type)}, nil
}

// Execute 执行认知任务
func (e *Executor) Execute(ctx context.Context, cfg *base.TaskConfig, _ []orcModel.Grant) (*base.Result, error) {
	if _, err := e.AccessRequest(cfg); err != nil {
		return nil, err
	}
	op := "cognitive." + string(cfg.Type)

	switch cfg.Type {
	case orcModel.TaskTypeSummarize:
		return e.generate(ctx, op, summarizePrompt(cfg))
	case orcModel.TaskTypeAnalyze:
		return e.generate(ctx, op, analyzePrompt(cfg))
	case orcModel.TaskTypeReport:
		return e.generate(ctx, op, reportPrompt(cfg))
	case orcModel.TaskTypeMonitor:
		return e.monitor(ctx, op, cfg)
	default:
		return e.alert(ctx, op, cfg)
	}
}

// generate 单轮生成，返回原始文本
func (e *Executor) generate(ctx context.Context, op, prompt string) (*base.Result, error) {
	text, err := e.client.Chat(ctx, llm.ChatRequest{Messages: llm.Prompt(prompt)})
	if err != nil {
		return nil, orcModel.ExecError(op, err)
	}
	return base.NewResult(text), nil
}

// monitor 抓取页面；analyzeChanges 为真时把页面正文交给后端分析
func (e *Executor) monitor(ctx context.Context, op string, cfg *base.TaskConfig) (*base.Result, error) {
	url := cfg.InputString("url")
	if url == "" {
		return nil, orcModel.ConfigError(op, "missing required input field %q", "url")
	}

	html, err := e.fetcher.FetchHTML(ctx, url)
	if err != nil {
		return nil, orcModel.ExecError(op, err)
	}

	if !inputBool(cfg, "analyzeChanges") {
		return base.NewResult(map[string]interface{}{
			"timestamp": e.now(),
			"content":   html,
			"url":       url,
		}), nil
	}

	return e.generate(ctx, op, monitorPrompt(cfg, e.plainText(html)))
}

// alert 要求后端按 alertSchema 返回判定
func (e *Executor) alert(ctx context.Context, op string, cfg *base.TaskConfig) (*base.Result, error) {
	zero := 0.0
	raw, err := e.client.Chat(ctx, llm.ChatRequest{
		Messages:    llm.Prompt(alertPrompt(cfg)),
		Format:      json.RawMessage(alertSchema),
		Temperature: &zero,
	})
	if err != nil {
		return nil, orcModel.ExecError(op, err)
	}

	var decision AlertDecision
	if err := llm.DecodeJSON(raw, &decision); err != nil {
		return nil, orcModel.ExecError(op, err)
	}
	if decision.Alert == nil {
		return nil, orcModel.ExecError(op, fmt.Errorf("model output has no boolean %q field", "alert"))
	}
	if decision.Actions == nil {
		decision.Actions = []string{}
	}

	return base.NewResult(map[string]interface{}{
		"timestamp":   e.now(),
		"alert":       *decision.Alert,
		"explanation": decision.Explanation,
		"actions":     decision.Actions,
		"evaluation":  raw,
	}), nil
}

// plainText 去掉所有标签并折叠空白
func (e *Executor) plainText(html string) string {
	return strings.Join(strings.Fields(e.policy.Sanitize(html)), " ")
}

func inputBool(cfg *base.TaskConfig, key string) bool {
	switch v := cfg.Input[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	case float64:
		return v != 0
	}
	return false
}
