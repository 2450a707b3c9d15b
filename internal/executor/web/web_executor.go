/**
 * Web执行器
 * @date: 2026.10.17
 * @description: search (固定的模拟结果集)、scrape (按选择器提取字段)、
 *   monitor (按选择器取值并评估条件)。Web 任务不需要资源授权。
 */
package web

import (
	"context"
	"strings"
	"time"

	"neotask/internal/executor/base"
	orcModel "neotask/internal/model/orchestrator"
	"neotask/internal/service/orchestrator/access"

	"github.com/PuerkitoBio/goquery"
)

const (
	ActionSearch  = "search"
	ActionScrape  = "scrape"
	ActionMonitor = "monitor"

	defaultEngine     = "google"
	defaultNumResults = 5
)

// SearchResult 搜索结果条目
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// mockResults 搜索引擎接入前的固定结果
var mockResults = []SearchResult{
	{Title: "Example Search Result 1", URL: "https://example.com/1", Snippet: "Example search result content..."},
	{Title: "Example Search Result 2", URL: "https://example.com/2", Snippet: "Example search result content..."},
}

// Executor Web执行器
type Executor struct {
	fetcher *Fetcher
	now     func() time.Time
}

// NewExecutor 创建Web执行器
func NewExecutor(fetcher *Fetcher) *Executor {
	return &Executor{fetcher: fetcher, now: time.Now}
}

// Name 执行器名称
func (e *Executor) Name() string { return "web" }

// Types 处理的任务类型
func (e *Executor) Types() []orcModel.TaskType {
	return []orcModel.TaskType{orcModel.TaskTypeWeb}
}

// AccessRequest Web任务始终放行，这里只校验操作
func (e *Executor) AccessRequest(cfg *base.TaskConfig) (access.Request, error) {
	switch cfg.Action {
	case ActionSearch, ActionScrape, ActionMonitor:
	default:
		return access.Request{}, orcModel.ConfigError("web."+cfg.Action, "unsupported web action: %s", cfg.Action)
	}
	return access.Request{TaskType: orcModel.TaskTypeWeb, Action: cfg.Action, Target: cfg.String("url")}, nil
}

// Execute 执行Web任务
func (e *Executor) Execute(ctx context.Context, cfg *base.TaskConfig, _ []orcModel.Grant) (*base.Result, error) {
	if _, err := e.AccessRequest(cfg); err != nil {
		return nil, err
	}

	switch cfg.Action {
	case ActionSearch:
		return e.search(cfg)
	case ActionScrape:
		return e.scrape(ctx, cfg)
	default:
		return e.monitor(ctx, cfg)
	}
}

func (e *Executor) search(cfg *base.TaskConfig) (*base.Result, error) {
	engine := cfg.String("engine")
	if engine == "" {
		engine = defaultEngine
	}
	n := cfg.Int("num_results", defaultNumResults)
	if n < 0 {
		n = 0
	}
	results := mockResults
	if n < len(results) {
		results = results[:n]
	}

	return base.NewResult(map[string]interface{}{
		"engine":    engine,
		"query":     cfg.String("query"),
		"timestamp": e.now(),
		"results":   results,
	}), nil
}

// scrape 选择器可以是字符串 (取第一个匹配的文本) 或 {selector, type: list} (取全部匹配的文本)
func (e *Executor) scrape(ctx context.Context, cfg *base.TaskConfig) (*base.Result, error) {
	const op = "web.scrape"

	url, err := cfg.RequireString(op, "url")
	if err != nil {
		return nil, err
	}
	selectors := cfg.Map("selectors")
	if len(selectors) == 0 {
		return nil, orcModel.ConfigError(op, "missing required config field %q", "selectors")
	}

	doc, err := e.fetcher.Document(ctx, url)
	if err != nil {
		return nil, orcModel.ExecError(op, err)
	}

	results := make(map[string]interface{}, len(selectors))
	for key, sel := range selectors {
		switch s := sel.(type) {
		case string:
			results[key] = strings.TrimSpace(doc.Find(s).First().Text())
		case map[string]interface{}:
			query := stringOf(s["selector"])
			if query == "" {
				return nil, orcModel.ConfigError(op, "selector %q has no selector field", key)
			}
			if stringOf(s["type"]) == "list" {
				items := make([]string, 0)
				doc.Find(query).Each(func(_ int, node *goquery.Selection) {
					items = append(items, strings.TrimSpace(node.Text()))
				})
				results[key] = items
			} else {
				results[key] = strings.TrimSpace(doc.Find(query).First().Text())
			}
		default:
			return nil, orcModel.ConfigError(op, "selector %q must be a string or an object", key)
		}
	}

	return base.NewResult(map[string]interface{}{
		"url":       url,
		"timestamp": e.now(),
		"results":   results,
	}), nil
}

func (e *Executor) monitor(ctx context.Context, cfg *base.TaskConfig) (*base.Result, error) {
	const op = "web.monitor"

	url, err := cfg.RequireString(op, "url")
	if err != nil {
		return nil, err
	}
	conditions, err := parseConditions(cfg.Map("conditions"))
	if err != nil {
		return nil, err
	}
	// 操作符在抓取之前校验
	for _, cond := range conditions {
		if _, err := Evaluate("", cond); err != nil {
			return nil, err
		}
	}

	doc, err := e.fetcher.Document(ctx, url)
	if err != nil {
		return nil, orcModel.ExecError(op, err)
	}

	results := make(map[string]ConditionResult, len(conditions))
	for key, cond := range conditions {
		value := strings.TrimSpace(doc.Find(cond.Selector).First().Text())
		met, _ := Evaluate(value, cond)
		results[key] = ConditionResult{Met: met, Value: value, Expected: cond.Value}
	}

	return base.NewResult(map[string]interface{}{
		"url":        url,
		"timestamp":  e.now(),
		"conditions": results,
	}), nil
}
