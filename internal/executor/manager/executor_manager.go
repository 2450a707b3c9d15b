/**
 * 执行器管理器 (执行框架)
 * @date: 2026.10.17
 * @description: 维护 任务类型 -> 执行器 的注册表。一次执行依次完成
 *   解析代理授权、资源访问校验、按类型分发，执行器的类型化错误原样返回。
 */
package manager

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"neotask/internal/executor/base"
	orcModel "neotask/internal/model/orchestrator"
	"neotask/internal/pkg/logger"
	"neotask/internal/service/orchestrator/access"
)

// GrantResolver 解析代理的资源授权
type GrantResolver interface {
	ResolveGrants(ctx context.Context, agentID string) ([]orcModel.Grant, error)
}

// GrantResolverFunc 函数适配器
type GrantResolverFunc func(ctx context.Context, agentID string) ([]orcModel.Grant, error)

// ResolveGrants 实现 GrantResolver
func (f GrantResolverFunc) ResolveGrants(ctx context.Context, agentID string) ([]orcModel.Grant, error) {
	return f(ctx, agentID)
}

// ExecutorManager 执行器管理器
type ExecutorManager struct {
	executors      map[orcModel.TaskType]base.Executor
	executorsMutex sync.RWMutex

	grants GrantResolver
}

// NewExecutorManager 创建执行器管理器
func NewExecutorManager(grants GrantResolver) *ExecutorManager {
	return &ExecutorManager{
		executors: make(map[orcModel.TaskType]base.Executor),
		grants:    grants,
	}
}

// ==================== 注册表 ====================

// Register 注册执行器，同一任务类型只能有一个执行器
func (m *ExecutorManager) Register(executor base.Executor) error {
	m.executorsMutex.Lock()
	defer m.executorsMutex.Unlock()

	for _, t := range executor.Types() {
		if existing, ok := m.executors[t]; ok {
			return fmt.Errorf("task type %s already handled by executor %s", t, existing.Name())
		}
	}
	for _, t := range executor.Types() {
		m.executors[t] = executor
	}
	return nil
}

// MustRegister 注册失败时 panic，用于启动装配
func (m *ExecutorManager) MustRegister(executors ...base.Executor) {
	for _, e := range executors {
		if err := m.Register(e); err != nil {
			panic(err)
		}
	}
}

// GetExecutor 按任务类型获取执行器
func (m *ExecutorManager) GetExecutor(taskType orcModel.TaskType) (base.Executor, bool) {
	m.executorsMutex.RLock()
	defer m.executorsMutex.RUnlock()
	e, ok := m.executors[taskType]
	return e, ok
}

// SupportedTypes 已注册的任务类型 (有序)
func (m *ExecutorManager) SupportedTypes() []orcModel.TaskType {
	m.executorsMutex.RLock()
	defer m.executorsMutex.RUnlock()
	types := make([]orcModel.TaskType, 0, len(m.executors))
	for t := range m.executors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ==================== 执行 ====================

// Execute 以代理身份执行任务
func (m *ExecutorManager) Execute(ctx context.Context, agentID string, cfg *base.TaskConfig) (*base.Result, error) {
	// 1. 未知类型直接失败，不解析授权
	executor, ok := m.GetExecutor(cfg.Type)
	if !ok {
		return nil, orcModel.ConfigError("execute", "unsupported task type: %s", cfg.Type)
	}

	// 2. 解析授权
	var grants []orcModel.Grant
	if m.grants != nil {
		var err error
		grants, err = m.grants.ResolveGrants(ctx, agentID)
		if err != nil {
			return nil, orcModel.ExecError("execute.resolve_grants", err)
		}
	}

	return m.run(ctx, executor, cfg, grants)
}

// ExecuteWithGrants 使用已解析的授权执行任务
func (m *ExecutorManager) ExecuteWithGrants(ctx context.Context, grants []orcModel.Grant, cfg *base.TaskConfig) (*base.Result, error) {
	executor, ok := m.GetExecutor(cfg.Type)
	if !ok {
		return nil, orcModel.ConfigError("execute", "unsupported task type: %s", cfg.Type)
	}
	return m.run(ctx, executor, cfg, grants)
}

func (m *ExecutorManager) run(ctx context.Context, executor base.Executor, cfg *base.TaskConfig, grants []orcModel.Grant) (result *base.Result, err error) {
	// 3. 资源访问校验
	req, err := executor.AccessRequest(cfg)
	if err != nil {
		return nil, err
	}
	if err := access.Check(grants, req); err != nil {
		return nil, err
	}

	// 4. 分发；执行器内的 panic 转为执行错误
	defer func() {
		if r := recover(); r != nil {
			logger.LogError(fmt.Errorf("executor panic: %v", r), "executor.manager.run", "EXEC", map[string]interface{}{
				"task_id":   cfg.TaskID,
				"task_type": string(cfg.Type),
				"executor":  executor.Name(),
				"stack":     string(debug.Stack()),
			})
			result = nil
			err = orcModel.NewTaskError(orcModel.KindExecution, executor.Name()+"."+cfg.Action, "executor panic: %v", r)
		}
	}()

	start := time.Now()
	result, err = executor.Execute(ctx, cfg, grants)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = base.NewResult(nil)
	}
	result.Duration = time.Since(start)
	return result, nil
}
