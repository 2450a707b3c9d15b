package orchestrator

import (
	"context"
	"errors"
	"time"

	"neotask/internal/executor/base"
	orcModel "neotask/internal/model/orchestrator"
	"neotask/internal/pkg/logger"
	"neotask/internal/service/orchestrator/allocator"
)

// Outcome 一次执行的最终结果
type Outcome struct {
	TaskID   string
	AgentID  string
	Status   orcModel.TaskStatus
	Result   *base.Result
	Err      error
	Duration time.Duration
}

// Dispatch 已认领并在后台执行的任务句柄
type Dispatch struct {
	TaskID  string
	AgentID string

	done   chan Outcome
	cancel context.CancelFunc
}

// Done 执行结束时收到一次 Outcome
func (d *Dispatch) Done() <-chan Outcome {
	return d.done
}

// Cancel 取消执行；执行器观察到上下文取消后任务进入 canceled
func (d *Dispatch) Cancel() {
	d.cancel()
}

// MatchAndDispatch 为单个 pending 任务选择代理、认领并异步执行
// 无可用代理时返回 NoCapableAgent 错误，任务保持 pending 留待下一次 tick
func (o *Orchestrator) MatchAndDispatch(ctx context.Context, task *orcModel.Task) (*Dispatch, error) {
	lease, match := o.alloc.Acquire(task)
	switch match {
	case allocator.NoCapableAgent:
		o.metrics.IncDispatch("no_capable_agent")
		return nil, orcModel.NewTaskError(orcModel.KindNoCapableAgent, "orchestrator.match",
			"no available agent has capabilities %v", []string(task.RequiredCapabilities))
	case allocator.Saturated:
		o.metrics.IncDispatch("saturated")
		return nil, orcModel.NewTaskError(orcModel.KindNoCapableAgent, "orchestrator.match",
			"all capable agents are at their concurrency limit")
	}

	if err := o.taskRepo.ClaimPending(ctx, task.TaskID, lease.AgentID, o.now()); err != nil {
		lease.Release()
		if errors.Is(err, orcModel.ErrTaskAlreadyClaimed) {
			o.metrics.IncDispatch("already_claimed")
		} else {
			o.metrics.IncDispatch("error")
		}
		return nil, err
	}
	o.metrics.IncDispatch("dispatched")
	o.metrics.SetActiveTasks(lease.AgentID, o.alloc.ActiveTasks(lease.AgentID))

	timeout := task.Timeout(lease.Agent.Config, o.cfg.DefaultTimeout)
	execCtx, cancel := context.WithTimeout(o.execCtx, timeout)
	d := &Dispatch{
		TaskID:  task.TaskID,
		AgentID: lease.AgentID,
		done:    make(chan Outcome, 1),
		cancel:  cancel,
	}

	o.mu.Lock()
	o.inflight[task.TaskID] = d
	o.mu.Unlock()

	logger.LogTaskEvent(task.TaskID, string(task.Type), lease.AgentID, "assigned", 0, map[string]interface{}{
		"timeout": timeout.String(),
	})

	o.wg.Add(1)
	go o.execute(execCtx, d, lease, task)
	return d, nil
}

// execute 在独立 goroutine 中运行任务并持久化结果
func (o *Orchestrator) execute(ctx context.Context, d *Dispatch, lease *allocator.Lease, task *orcModel.Task) {
	defer o.wg.Done()
	defer d.cancel()

	outcome := Outcome{TaskID: task.TaskID, AgentID: lease.AgentID}
	defer func() {
		lease.Release()
		o.metrics.SetActiveTasks(lease.AgentID, o.alloc.ActiveTasks(lease.AgentID))

		o.mu.Lock()
		delete(o.inflight, task.TaskID)
		o.mu.Unlock()

		d.done <- outcome
		close(d.done)
	}()

	// 持久化使用独立上下文，执行被取消后结果仍然要落库
	storeCtx := context.Background()

	if err := o.taskRepo.MarkRunning(storeCtx, task.TaskID, o.now()); err != nil {
		outcome.Err = err
		if errors.Is(err, orcModel.ErrTaskAlreadyClaimed) {
			// 在开始执行前已被取消
			outcome.Status = orcModel.TaskStatusCanceled
			logger.LogTaskEvent(task.TaskID, string(task.Type), lease.AgentID, "canceled", 0, nil)
			return
		}
		outcome.Status = orcModel.TaskStatusFailed
		logger.LogError(err, "service.orchestrator.execute", "REPO", map[string]interface{}{"task_id": task.TaskID})
		return
	}
	logger.LogTaskEvent(task.TaskID, string(task.Type), lease.AgentID, "started", 0, nil)

	start := time.Now()
	res, err := o.executor.Execute(ctx, lease.AgentID, base.FromTask(task))
	outcome.Duration = time.Since(start)
	outcome.Result = res
	outcome.Err = err
	outcome.Status = base.StatusFor(err)

	if err := o.taskRepo.AppendResult(storeCtx, base.NewTaskResult(task.TaskID, lease.AgentID, res, outcome.Err, o.now())); err != nil {
		logger.LogError(err, "service.orchestrator.execute", "REPO", map[string]interface{}{"task_id": task.TaskID})
	}
	if err := o.taskRepo.Finish(storeCtx, task.TaskID, outcome.Status, o.now()); err != nil {
		logger.LogError(err, "service.orchestrator.execute", "REPO", map[string]interface{}{
			"task_id": task.TaskID,
			"status":  string(outcome.Status),
		})
	}

	o.metrics.ObserveExecution(string(task.Type), string(outcome.Status), outcome.Duration)
	fields := map[string]interface{}{"status": string(outcome.Status)}
	if outcome.Err != nil {
		fields["error"] = outcome.Err.Error()
		fields["error_kind"] = string(orcModel.KindOf(outcome.Err))
	}
	logger.LogTaskEvent(task.TaskID, string(task.Type), lease.AgentID, string(outcome.Status), outcome.Duration, fields)
}

// CancelTask 取消任务：未开始的任务直接在存储中置为 canceled，
// 正在执行的任务通过上下文取消，由执行结果落为 canceled
// 返回取消前的状态
func (o *Orchestrator) CancelTask(ctx context.Context, taskID string) (orcModel.TaskStatus, error) {
	prev, err := o.taskRepo.Cancel(ctx, taskID, o.now())
	if err != nil {
		return prev, err
	}
	if prev.IsTerminal() {
		return prev, orcModel.ConfigError("orchestrator.cancel", "task %s is already %s", taskID, prev)
	}

	o.Cancel(taskID)
	logger.LogInfo("task cancel requested", "service.orchestrator.CancelTask", "INTERNAL", map[string]interface{}{
		"task_id":     taskID,
		"prev_status": string(prev),
	})
	return prev, nil
}

// Canceler 其他执行循环 (如周期调度) 的本地取消入口
type Canceler interface {
	Cancel(taskID string) bool
}

// AddCanceler 注册其他执行循环，Cancel 时一并通知
func (o *Orchestrator) AddCanceler(c Canceler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelers = append(o.cancelers, c)
}

// Cancel 取消本进程内正在执行的任务，返回任务是否在执行中
func (o *Orchestrator) Cancel(taskID string) bool {
	o.mu.Lock()
	d, ok := o.inflight[taskID]
	cancelers := append([]Canceler(nil), o.cancelers...)
	o.mu.Unlock()
	if ok {
		d.Cancel()
	}
	for _, c := range cancelers {
		if c.Cancel(taskID) {
			ok = true
		}
	}
	return ok
}

// InflightCount 当前执行中的任务数
func (o *Orchestrator) InflightCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight)
}
