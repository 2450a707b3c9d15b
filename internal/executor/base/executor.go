/**
 * 执行器基础接口
 * @date: 2026.10.17
 * @description: 所有任务执行器的统一契约。执行器不做授权判断，
 *   只声明自己的访问请求 (AccessRequest)，由执行框架在调用前校验。
 */
package base

import (
	"context"
	"time"

	orcModel "neotask/internal/model/orchestrator"
	"neotask/internal/service/orchestrator/access"
)

// Executor 执行器接口
type Executor interface {
	// Name 执行器名称
	Name() string
	// Types 该执行器处理的任务类型
	Types() []orcModel.TaskType
	// AccessRequest 根据任务配置给出需要校验的访问请求；配置不完整时返回 ConfigurationError
	AccessRequest(cfg *TaskConfig) (access.Request, error)
	// Execute 执行任务；ctx 携带超时与取消
	Execute(ctx context.Context, cfg *TaskConfig, grants []orcModel.Grant) (*Result, error)
}

// Result 执行结果
type Result struct {
	Output   interface{}   `json:"output"`
	Duration time.Duration `json:"-"`
}

// NewResult 创建执行结果
func NewResult(output interface{}) *Result {
	return &Result{Output: output}
}
