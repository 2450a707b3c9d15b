// 文本生成后端客户端
package llm

import (
	"context"
	"encoding/json"
)

// DefaultSystemPrompt 认知任务使用的系统提示词
const DefaultSystemPrompt = "You are a helpful assistant that performs various tasks like summarization, analysis, and report generation."

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 单条对话消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest 生成请求
// Format 为空时返回自由文本；为 JSON Schema 时要求后端按该结构输出
type ChatRequest struct {
	Messages    []Message
	Format      json.RawMessage
	Temperature *float64
}

// Client 文本生成后端
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// ClientFunc 函数适配器
type ClientFunc func(ctx context.Context, req ChatRequest) (string, error)

// Chat 实现 Client
func (f ClientFunc) Chat(ctx context.Context, req ChatRequest) (string, error) {
	return f(ctx, req)
}

// Prompt 以默认系统提示词构造一次单轮对话
func Prompt(user string) []Message {
	return []Message{
		{Role: RoleSystem, Content: DefaultSystemPrompt},
		{Role: RoleUser, Content: user},
	}
}
