/**
 * 代理编排服务
 * @date: 2026.10.17
 * @description: 维护代理注册表，按固定间隔扫描待处理任务，首个匹配的代理认领后异步执行。
 *   认领是存储层的条件更新，多个 tick 重叠时同一任务只会分发一次。
 *   单个任务的失败只会写入该任务的结果，不会中断循环。
 */
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"neotask/internal/config"
	"neotask/internal/executor/base"
	orcModel "neotask/internal/model/orchestrator"
	"neotask/internal/pkg/logger"
	"neotask/internal/pkg/metrics"
	orcRepo "neotask/internal/repo/mysql/orchestrator"
	"neotask/internal/service/orchestrator/allocator"

	"github.com/sirupsen/logrus"
)

// TaskExecutor 执行框架
type TaskExecutor interface {
	Execute(ctx context.Context, agentID string, cfg *base.TaskConfig) (*base.Result, error)
}

// Orchestrator 代理编排服务
type Orchestrator struct {
	cfg       config.OrchestratorConfig
	agentRepo orcRepo.AgentRepository
	taskRepo  orcRepo.TaskRepository
	resRepo   orcRepo.ResourceRepository
	executor  TaskExecutor
	alloc     *allocator.Allocator
	metrics   *metrics.Metrics
	now       func() time.Time

	// 执行上下文独立于 tick 的上下文，Stop 时统一取消
	execCtx    context.Context
	execCancel context.CancelFunc

	mu        sync.Mutex
	inflight  map[string]*Dispatch
	cancelers []Canceler
	wg        sync.WaitGroup

	stopChan chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	loopDone chan struct{}
}

// NewOrchestrator 创建编排服务
func NewOrchestrator(
	cfg config.OrchestratorConfig,
	agentRepo orcRepo.AgentRepository,
	taskRepo orcRepo.TaskRepository,
	resRepo orcRepo.ResourceRepository,
	executor TaskExecutor,
	m *metrics.Metrics,
) *Orchestrator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	execCtx, execCancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:        cfg,
		agentRepo:  agentRepo,
		taskRepo:   taskRepo,
		resRepo:    resRepo,
		executor:   executor,
		alloc:      allocator.NewAllocator(),
		metrics:    m,
		now:        time.Now,
		execCtx:    execCtx,
		execCancel: execCancel,
		inflight:   make(map[string]*Dispatch),
		stopChan:   make(chan struct{}),
		loopDone:   make(chan struct{}),
	}
}

// ==================== 生命周期 ====================

// Start 加载并注册全部已持久化的代理，然后启动 tick 循环
func (o *Orchestrator) Start(ctx context.Context) error {
	agents, err := o.agentRepo.List(ctx)
	if err != nil {
		return err
	}
	for _, agent := range agents {
		if err := o.Register(ctx, agent); err != nil {
			logger.LogError(err, "service.orchestrator.Start", "REPO", map[string]interface{}{"agent_id": agent.AgentID})
		}
	}

	logger.LogSystemEvent("orchestrator", "startup", "orchestrator started", logrus.InfoLevel, map[string]interface{}{
		"agents":        len(agents),
		"tick_interval": o.cfg.TickInterval.String(),
	})
	o.started.Store(true)
	go o.loop(ctx)
	return nil
}

// Stop 停止 tick 循环，等待进行中的执行最多 DrainTimeout，超时后取消剩余执行
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		close(o.stopChan)
	})
	if o.started.Load() {
		<-o.loopDone
	}

	drained := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(drained)
	}()

	if o.cfg.DrainTimeout > 0 {
		select {
		case <-drained:
		case <-time.After(o.cfg.DrainTimeout):
			logger.LogWarn("drain timeout reached, canceling in-flight executions", "service.orchestrator.Stop", "INTERNAL", map[string]interface{}{
				"inflight": o.InflightCount(),
			})
		}
	}
	o.execCancel()
	<-drained

	logger.LogSystemEvent("orchestrator", "shutdown", "orchestrator stopped", logrus.InfoLevel, nil)
}

// Wait 等待当前全部执行结束
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// loop tick 循环
func (o *Orchestrator) loop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()
	defer close(o.loopDone)

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopChan:
			return
		case <-ticker.C:
			if _, err := o.Tick(ctx); err != nil {
				logger.LogError(err, "service.orchestrator.loop", "REPO", nil)
			}
		}
	}
}

// ==================== 注册表 ====================

// Register 注册代理并把 available 状态回写存储；存储中没有的代理会被创建
func (o *Orchestrator) Register(ctx context.Context, agent *orcModel.Agent) error {
	now := o.now()
	o.alloc.Register(*agent)

	err := o.agentRepo.UpdateStatus(ctx, agent.AgentID, orcModel.AgentStatusAvailable, now)
	if errors.Is(err, orcModel.ErrAgentNotFound) {
		stored := *agent
		stored.Status = orcModel.AgentStatusAvailable
		stored.LastActive = &now
		err = o.agentRepo.Save(ctx, &stored)
	}
	if err != nil {
		return err
	}

	logger.LogInfo("agent registered", "service.orchestrator.Register", "INTERNAL", map[string]interface{}{
		"agent_id":     agent.AgentID,
		"capabilities": []string(agent.Capabilities),
	})
	return nil
}

// Deregister 从注册表移除代理，进行中的任务继续执行至结束
func (o *Orchestrator) Deregister(ctx context.Context, agentID string) error {
	active, ok := o.alloc.Deregister(agentID)
	if !ok {
		return orcModel.ErrAgentNotFound
	}
	o.metrics.DeleteAgent(agentID)

	logger.LogInfo("agent deregistered", "service.orchestrator.Deregister", "INTERNAL", map[string]interface{}{
		"agent_id":     agentID,
		"active_tasks": active,
	})
	return o.agentRepo.UpdateStatus(ctx, agentID, orcModel.AgentStatusOffline, o.now())
}

// SetAgentStatus 显式修改代理状态；任务结果不会改变代理状态
func (o *Orchestrator) SetAgentStatus(ctx context.Context, agentID string, status orcModel.AgentStatus) error {
	if !status.Valid() {
		return orcModel.ConfigError("agent.status", "invalid agent status: %s", status)
	}
	if !o.alloc.SetStatus(agentID, status) {
		return orcModel.ErrAgentNotFound
	}
	return o.agentRepo.UpdateStatus(ctx, agentID, status, o.now())
}

// Agents 注册表快照
func (o *Orchestrator) Agents(ctx context.Context) []orcModel.AgentSnapshot {
	snap := o.alloc.Snapshot()
	if o.resRepo == nil {
		return snap
	}
	for i := range snap {
		if n, err := o.resRepo.CountGrants(ctx, snap[i].AgentID); err == nil {
			snap[i].Grants = int(n)
		}
	}
	return snap
}

// ==================== 调度 ====================

// Tick 读取到期的待处理任务并逐个匹配分发，返回本次分发的任务数
// 匹配在当前 goroutine 顺序进行，执行并发进行
func (o *Orchestrator) Tick(ctx context.Context) (int, error) {
	tasks, err := o.taskRepo.GetPending(ctx, o.now(), o.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, task := range tasks {
		if _, err := o.MatchAndDispatch(ctx, task); err != nil {
			o.logDispatchError(task, err)
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

func (o *Orchestrator) logDispatchError(task *orcModel.Task, err error) {
	fields := map[string]interface{}{
		"task_id":   task.TaskID,
		"task_type": string(task.Type),
	}
	switch {
	case orcModel.IsKind(err, orcModel.KindNoCapableAgent):
		logger.WithFields(fields).Debug(err.Error())
	case errors.Is(err, orcModel.ErrTaskAlreadyClaimed):
		logger.WithFields(fields).Debug("task already claimed by another tick")
	default:
		logger.LogError(err, "service.orchestrator.Tick", "REPO", fields)
	}
}
