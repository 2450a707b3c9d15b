package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"neotask/internal/config"
	"neotask/internal/executor/base"
	orcModel "neotask/internal/model/orchestrator"
	"neotask/internal/pkg/logger"
	"neotask/internal/pkg/metrics"
	orcRepo "neotask/internal/repo/mysql/orchestrator"

	"github.com/sirupsen/logrus"
)

// dueBatchSize 单次 tick 最多读取的到期任务数
const dueBatchSize = 100

// TaskExecutor 执行框架
// 指定了代理的任务按代理授权执行，未指定的任务不带授权执行 (认知类与 web 任务不需要授权)
type TaskExecutor interface {
	Execute(ctx context.Context, agentID string, cfg *base.TaskConfig) (*base.Result, error)
	ExecuteWithGrants(ctx context.Context, grants []orcModel.Grant, cfg *base.TaskConfig) (*base.Result, error)
}

// SchedulerService 周期调度服务接口
type SchedulerService interface {
	Start(ctx context.Context)
	Stop()
	Tick(ctx context.Context) (int, error)
	Cancel(taskID string) bool
	Wait()
}

type schedulerService struct {
	cfg      config.SchedulerConfig
	taskRepo orcRepo.TaskRepository
	executor TaskExecutor
	metrics  *metrics.Metrics
	loc      *time.Location
	now      func() time.Time

	execCtx    context.Context
	execCancel context.CancelFunc

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	wg       sync.WaitGroup

	stopChan chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}
	started  bool
}

// NewSchedulerService 创建周期调度服务
func NewSchedulerService(
	cfg config.SchedulerConfig,
	taskRepo orcRepo.TaskRepository,
	executor TaskExecutor,
	m *metrics.Metrics,
) SchedulerService {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
	execCtx, execCancel := context.WithCancel(context.Background())
	return &schedulerService{
		cfg:        cfg,
		taskRepo:   taskRepo,
		executor:   executor,
		metrics:    m,
		loc:        cfg.Location(),
		now:        time.Now,
		execCtx:    execCtx,
		execCancel: execCancel,
		inflight:   make(map[string]context.CancelFunc),
		stopChan:   make(chan struct{}),
		loopDone:   make(chan struct{}),
	}
}

// Start 启动调度循环
func (s *schedulerService) Start(ctx context.Context) {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	logger.LogSystemEvent("scheduler", "startup", "scheduler started", logrus.InfoLevel, map[string]interface{}{
		"tick_interval": s.cfg.TickInterval.String(),
		"timezone":      s.loc.String(),
	})
	go s.loop(ctx)
}

// Stop 停止调度循环，等待运行中的任务最多 DrainTimeout
func (s *schedulerService) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.loopDone
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	if s.cfg.DrainTimeout > 0 {
		select {
		case <-drained:
		case <-time.After(s.cfg.DrainTimeout):
			logger.LogWarn("drain timeout reached, canceling running tasks", "service.scheduler.Stop", "INTERNAL", nil)
		}
	}
	s.execCancel()
	<-drained

	logger.LogSystemEvent("scheduler", "shutdown", "scheduler stopped", logrus.InfoLevel, nil)
}

// Wait 等待当前全部运行结束
func (s *schedulerService) Wait() {
	s.wg.Wait()
}

// loop 调度循环
func (s *schedulerService) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	defer close(s.loopDone)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				logger.LogError(err, "service.scheduler.loop", "REPO", nil)
			}
		}
	}
}

// Tick 读取到期任务 (按 next_run 升序)，逐个认领并异步运行，返回本次启动的任务数
func (s *schedulerService) Tick(ctx context.Context) (int, error) {
	now := s.now()
	tasks, err := s.taskRepo.GetDue(ctx, now, dueBatchSize)
	if err != nil {
		return 0, err
	}

	started := 0
	for _, task := range tasks {
		if err := s.taskRepo.ClaimScheduled(ctx, task.TaskID, now); err != nil {
			if errors.Is(err, orcModel.ErrTaskAlreadyClaimed) {
				logger.WithFields(logrus.Fields{"task_id": task.TaskID}).Debug("scheduled task already claimed")
				continue
			}
			logger.LogError(err, "service.scheduler.Tick", "REPO", map[string]interface{}{"task_id": task.TaskID})
			continue
		}

		runCtx, cancel := context.WithTimeout(s.execCtx, s.timeout(task))
		s.mu.Lock()
		s.inflight[task.TaskID] = cancel
		s.mu.Unlock()

		s.wg.Add(1)
		go s.run(runCtx, cancel, task)
		started++
	}
	return started, nil
}

// Cancel 取消本进程内正在运行的周期任务
func (s *schedulerService) Cancel(taskID string) bool {
	s.mu.Lock()
	cancel, ok := s.inflight[taskID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (s *schedulerService) timeout(task *orcModel.Task) time.Duration {
	if task.TimeoutSeconds > 0 {
		return time.Duration(task.TimeoutSeconds) * time.Second
	}
	return s.cfg.DefaultTimeout
}

// run 运行一次周期任务：追加结果，然后回到 scheduled 或进入终态
func (s *schedulerService) run(ctx context.Context, cancel context.CancelFunc, task *orcModel.Task) {
	defer s.wg.Done()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.inflight, task.TaskID)
		s.mu.Unlock()
	}()

	frequency := orcModel.FrequencyOnce
	if task.Schedule != nil {
		frequency = task.Schedule.Frequency
	}
	logger.LogTaskEvent(task.TaskID, string(task.Type), task.AgentID, "started", 0, map[string]interface{}{
		"frequency": string(frequency),
	})

	start := time.Now()
	var (
		res *base.Result
		err error
	)
	cfg := base.FromTask(task)
	if task.AgentID != "" {
		res, err = s.executor.Execute(ctx, task.AgentID, cfg)
	} else {
		res, err = s.executor.ExecuteWithGrants(ctx, nil, cfg)
	}
	duration := time.Since(start)
	status := base.StatusFor(err)

	storeCtx := context.Background()
	if appendErr := s.taskRepo.AppendResult(storeCtx, base.NewTaskResult(task.TaskID, task.AgentID, res, err, s.now())); appendErr != nil {
		logger.LogError(appendErr, "service.scheduler.run", "REPO", map[string]interface{}{"task_id": task.TaskID})
	}
	s.metrics.ObserveExecution(string(task.Type), string(status), duration)

	fields := map[string]interface{}{"status": string(status)}
	if err != nil {
		fields["error"] = err.Error()
		fields["error_kind"] = string(orcModel.KindOf(err))
	}
	logger.LogTaskEvent(task.TaskID, string(task.Type), task.AgentID, string(status), duration, fields)

	s.advance(storeCtx, task, status)
}

// advance 周期任务计算下次运行时间并回到 scheduled；once、取消、超过结束日期的任务进入终态
func (s *schedulerService) advance(ctx context.Context, task *orcModel.Task, status orcModel.TaskStatus) {
	fields := map[string]interface{}{
		"task_id":   task.TaskID,
		"task_type": string(task.Type),
		"agent_id":  task.AgentID,
	}

	if status != orcModel.TaskStatusCanceled && task.Schedule.IsRecurring() {
		next, ok, err := NextRun(task.Schedule, s.now(), s.loc)
		switch {
		case err != nil:
			logger.LogError(err, "service.scheduler.advance", "INTERNAL", fields)
			status = orcModel.TaskStatusFailed
		case ok:
			if err := s.taskRepo.Reschedule(ctx, task.TaskID, next); err != nil {
				logger.LogError(err, "service.scheduler.advance", "REPO", fields)
				return
			}
			s.metrics.IncSchedulerRun("rescheduled")
			fields["next_run"] = next.Format(time.RFC3339)
			logger.LogTaskEvent(task.TaskID, string(task.Type), task.AgentID, "rescheduled", 0, fields)
			return
		}
	}

	if err := s.taskRepo.Finish(ctx, task.TaskID, status, s.now()); err != nil {
		logger.LogError(err, "service.scheduler.advance", "REPO", fields)
		return
	}
	s.metrics.IncSchedulerRun(string(status))
}
