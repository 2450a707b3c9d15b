/**
 * 文件系统执行器
 * @date: 2026.10.17
 * @description: read/write/delete 三种操作；执行前再次按授权解析路径，
 *   只操作校验通过的规范化路径。系统调用错误归为 ExecutionError。
 */
package filesystem

import (
	"context"
	"os"
	"path/filepath"

	"neotask/internal/executor/base"
	orcModel "neotask/internal/model/orchestrator"
	"neotask/internal/service/orchestrator/access"
)

const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionDelete = "delete"
)

// Executor 文件系统执行器
// 配置: action, path, content (write 时使用)
type Executor struct{}

// NewExecutor 创建文件系统执行器
func NewExecutor() *Executor {
	return &Executor{}
}

// Name 执行器名称
func (e *Executor) Name() string { return "filesystem" }

// Types 处理的任务类型
func (e *Executor) Types() []orcModel.TaskType {
	return []orcModel.TaskType{orcModel.TaskTypeFilesystem}
}

// AccessRequest 目标为配置中的 path
func (e *Executor) AccessRequest(cfg *base.TaskConfig) (access.Request, error) {
	op := "filesystem." + cfg.Action
	switch cfg.Action {
	case ActionRead, ActionWrite, ActionDelete:
	default:
		return access.Request{}, orcModel.ConfigError(op, "unsupported filesystem action %q", cfg.Action)
	}
	path, err := cfg.RequireString(op, "path")
	if err != nil {
		return access.Request{}, err
	}
	return access.Request{TaskType: orcModel.TaskTypeFilesystem, Action: cfg.Action, Target: path}, nil
}

// Execute 执行文件操作
func (e *Executor) Execute(ctx context.Context, cfg *base.TaskConfig, grants []orcModel.Grant) (*base.Result, error) {
	req, err := e.AccessRequest(cfg)
	if err != nil {
		return nil, err
	}
	op := "filesystem." + cfg.Action

	path, ok := access.ResolveFilesystemPath(grants, req.Target, req.Action)
	if !ok {
		return nil, orcModel.AccessDenied(op, "path %q is outside the allowed paths", req.Target)
	}

	if err := ctx.Err(); err != nil {
		return nil, orcModel.ExecError(op, err)
	}

	switch cfg.Action {
	case ActionRead:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, orcModel.ExecError(op, err)
		}
		return base.NewResult(map[string]interface{}{
			"path":    path,
			"content": string(data),
			"size":    len(data),
		}), nil

	case ActionWrite:
		content := cfg.String("content")
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, orcModel.ExecError(op, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return nil, orcModel.ExecError(op, err)
		}
		return base.NewResult(map[string]interface{}{
			"path":          path,
			"bytes_written": len(content),
		}), nil

	default: // ActionDelete
		if err := os.Remove(path); err != nil {
			return nil, orcModel.ExecError(op, err)
		}
		return base.NewResult(map[string]interface{}{
			"path":    path,
			"deleted": true,
		}), nil
	}
}
