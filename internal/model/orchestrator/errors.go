package orchestrator

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind 任务失败类别
type ErrorKind string

const (
	KindNoCapableAgent       ErrorKind = "NoCapableAgent"       // 无满足能力的代理，任务保持 pending
	KindResourceAccessDenied ErrorKind = "ResourceAccessDenied" // 授权校验失败，不重试
	KindExecution            ErrorKind = "ExecutionError"       // 执行器失败，不重试
	KindConfiguration        ErrorKind = "ConfigurationError"   // 不支持的类型/操作符等调用方错误
	KindCanceled             ErrorKind = "Canceled"             // 被外部取消
	KindTimeout              ErrorKind = "Timeout"              // 超过执行期限
)

var (
	// ErrTaskAlreadyClaimed 条件更新未命中：任务已被其他 tick 认领或状态已变化
	ErrTaskAlreadyClaimed = errors.New("task already claimed")
	// ErrTaskNotFound 任务不存在
	ErrTaskNotFound = errors.New("task not found")
	// ErrAgentNotFound 代理不存在
	ErrAgentNotFound = errors.New("agent not found")
	// ErrAgentExists 代理已存在
	ErrAgentExists = errors.New("agent already exists")
	// ErrResourceNotFound 资源不存在
	ErrResourceNotFound = errors.New("resource not found")
	// ErrGrantNotFound 代理没有该资源的授权
	ErrGrantNotFound = errors.New("grant not found")
)

// TaskError 带类别的任务错误
type TaskError struct {
	Kind     ErrorKind
	Op       string // 出错的操作，如 process.execute
	Message  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *TaskError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// NewTaskError 创建任务错误
func NewTaskError(kind ErrorKind, op, format string, args ...interface{}) *TaskError {
	return &TaskError{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// WrapError 包装底层错误；上下文取消/超时会被归入对应类别
func WrapError(kind ErrorKind, op string, err error) *TaskError {
	if err == nil {
		return nil
	}
	var te *TaskError
	if errors.As(err, &te) {
		return te
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, context.Canceled):
		kind = KindCanceled
	}
	return &TaskError{Kind: kind, Op: op, Message: err.Error(), Err: err}
}

// AccessDenied 授权失败错误
func AccessDenied(op, format string, args ...interface{}) *TaskError {
	return NewTaskError(KindResourceAccessDenied, op, format, args...)
}

// ConfigError 配置错误
func ConfigError(op, format string, args ...interface{}) *TaskError {
	return NewTaskError(KindConfiguration, op, format, args...)
}

// ExecError 执行错误
func ExecError(op string, err error) *TaskError {
	return WrapError(KindExecution, op, err)
}

// KindOf 提取错误类别，未分类的错误视为执行错误
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var te *TaskError
	if errors.As(err, &te) {
		return te.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindExecution
}

// IsKind 判断错误类别
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
