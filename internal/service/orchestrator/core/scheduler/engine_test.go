package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"neotask/internal/config"
	"neotask/internal/executor/base"
	orcModel "neotask/internal/model/orchestrator"
	"neotask/internal/pkg/database"
	orcRepo "neotask/internal/repo/mysql/orchestrator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	calls     atomic.Int32
	withAgent atomic.Int32
	lastAgent atomic.Value
	fn        func(ctx context.Context, cfg *base.TaskConfig) (*base.Result, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, agentID string, cfg *base.TaskConfig) (*base.Result, error) {
	f.withAgent.Add(1)
	f.lastAgent.Store(agentID)
	return f.ExecuteWithGrants(ctx, nil, cfg)
}

func (f *fakeExecutor) ExecuteWithGrants(ctx context.Context, grants []orcModel.Grant, cfg *base.TaskConfig) (*base.Result, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, cfg)
	}
	return base.NewResult("summary"), nil
}

type fixture struct {
	tasks orcRepo.TaskRepository
	exec  *fakeExecutor
	svc   *schedulerService
	now   time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewSQLiteConnection(&config.SQLiteConfig{Path: ":memory:", LogLevel: "silent"})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(orcModel.AllModels()...))
	t.Cleanup(func() { _ = database.Close(db) })

	f := &fixture{tasks: orcRepo.NewTaskRepository(db), exec: &fakeExecutor{}, now: at(19, 10, 0)}
	f.svc = f.newService()
	return f
}

func (f *fixture) newService() *schedulerService {
	svc := NewSchedulerService(config.SchedulerConfig{
		TickInterval: 10 * time.Millisecond,
		Timezone:     "UTC",
		DrainTimeout: time.Second,
	}, f.tasks, f.exec, nil).(*schedulerService)
	svc.now = func() time.Time { return f.now }
	return svc
}

func (f *fixture) schedule(t *testing.T, id string, s *orcModel.TaskSchedule, nextRun time.Time) {
	t.Helper()
	require.NoError(t, f.tasks.Create(context.Background(), &orcModel.Task{
		TaskID:   id,
		Title:    id,
		Type:     orcModel.TaskTypeSummarize,
		Status:   orcModel.TaskStatusScheduled,
		Schedule: s,
		NextRun:  &nextRun,
		Input:    map[string]interface{}{"content": "text"},
	}))
}

func (f *fixture) get(t *testing.T, id string) *orcModel.Task {
	t.Helper()
	task, err := f.tasks.GetByTaskID(context.Background(), id)
	require.NoError(t, err)
	return task
}

func (f *fixture) tick(t *testing.T) int {
	t.Helper()
	n, err := f.svc.Tick(context.Background())
	require.NoError(t, err)
	f.svc.Wait()
	return n
}

func daily() *orcModel.TaskSchedule {
	return &orcModel.TaskSchedule{Frequency: orcModel.FrequencyDaily, TimeOfDay: "09:00"}
}

func TestRecurringTaskReturnsToScheduled(t *testing.T) {
	f := setup(t)
	f.schedule(t, "daily", daily(), at(19, 9, 0))

	assert.Equal(t, 1, f.tick(t))

	task := f.get(t, "daily")
	assert.Equal(t, orcModel.TaskStatusScheduled, task.Status)
	require.NotNil(t, task.NextRun)
	assert.True(t, at(20, 9, 0).Equal(*task.NextRun), "got %s", task.NextRun)
	require.NotNil(t, task.LastRun)
	assert.True(t, f.now.Equal(*task.LastRun))

	results, err := f.tasks.ListResults(context.Background(), "daily")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "summary", results[0].Output)

	// 未到期不会再次运行
	assert.Equal(t, 0, f.tick(t))
	assert.Equal(t, int32(1), f.exec.calls.Load())
}

func TestFailedRecurringRunIsRescheduled(t *testing.T) {
	f := setup(t)
	f.exec.fn = func(ctx context.Context, cfg *base.TaskConfig) (*base.Result, error) {
		return nil, errors.New("backend unavailable")
	}
	f.schedule(t, "daily", daily(), at(19, 9, 0))

	f.tick(t)

	task := f.get(t, "daily")
	assert.Equal(t, orcModel.TaskStatusScheduled, task.Status)
	results, err := f.tasks.ListResults(context.Background(), "daily")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, orcModel.KindExecution, results[0].ErrorKind)
	assert.Equal(t, "backend unavailable", results[0].Error)
}

func TestOnceTaskFinishes(t *testing.T) {
	f := setup(t)
	f.schedule(t, "ok", &orcModel.TaskSchedule{Frequency: orcModel.FrequencyOnce}, at(19, 9, 0))
	f.schedule(t, "bad", &orcModel.TaskSchedule{Frequency: orcModel.FrequencyOnce}, at(19, 9, 30))
	f.exec.fn = func(ctx context.Context, cfg *base.TaskConfig) (*base.Result, error) {
		if cfg.TaskID == "bad" {
			return nil, orcModel.ExecError("cognitive.summarize", errors.New("empty reply"))
		}
		return base.NewResult("done"), nil
	}

	assert.Equal(t, 2, f.tick(t))
	assert.Equal(t, orcModel.TaskStatusCompleted, f.get(t, "ok").Status)
	assert.Equal(t, orcModel.TaskStatusFailed, f.get(t, "bad").Status)

	// 终态不会被改回
	f.now = at(30, 0, 0)
	assert.Equal(t, 0, f.tick(t))
	assert.Equal(t, orcModel.TaskStatusCompleted, f.get(t, "ok").Status)
	assert.Nil(t, f.get(t, "ok").NextRun)
}

func TestEndDateFinishesRecurringTask(t *testing.T) {
	f := setup(t)
	end := at(19, 23, 0)
	s := daily()
	s.EndDate = &end
	f.schedule(t, "bounded", s, at(19, 9, 0))

	f.tick(t)
	assert.Equal(t, orcModel.TaskStatusCompleted, f.get(t, "bounded").Status)
}

func TestNotDueTaskIsUntouched(t *testing.T) {
	f := setup(t)
	f.schedule(t, "later", daily(), at(19, 11, 0))

	assert.Equal(t, 0, f.tick(t))
	assert.Equal(t, orcModel.TaskStatusScheduled, f.get(t, "later").Status)
	assert.Equal(t, int32(0), f.exec.calls.Load())
}

func TestAgentBoundTaskUsesAgentGrants(t *testing.T) {
	f := setup(t)
	next := at(19, 9, 0)
	require.NoError(t, f.tasks.Create(context.Background(), &orcModel.Task{
		TaskID:   "bound",
		Title:    "bound",
		Type:     orcModel.TaskTypeProcess,
		Action:   "execute",
		Status:   orcModel.TaskStatusScheduled,
		AgentID:  "agent-1",
		Schedule: &orcModel.TaskSchedule{Frequency: orcModel.FrequencyHourly},
		NextRun:  &next,
	}))
	f.schedule(t, "free", daily(), at(19, 9, 0))

	assert.Equal(t, 2, f.tick(t))
	assert.Equal(t, int32(2), f.exec.calls.Load())
	assert.Equal(t, int32(1), f.exec.withAgent.Load())
	assert.Equal(t, "agent-1", f.exec.lastAgent.Load())

	task := f.get(t, "bound")
	require.NotNil(t, task.NextRun)
	assert.True(t, at(19, 11, 0).Equal(*task.NextRun))
}

func TestOverlappingTicksRunOnce(t *testing.T) {
	f := setup(t)
	f.schedule(t, "daily", daily(), at(19, 9, 0))
	other := f.newService()

	var wg sync.WaitGroup
	var started atomic.Int32
	for _, svc := range []*schedulerService{f.svc, other} {
		wg.Add(1)
		go func(svc *schedulerService) {
			defer wg.Done()
			n, err := svc.Tick(context.Background())
			assert.NoError(t, err)
			started.Add(int32(n))
		}(svc)
	}
	wg.Wait()
	f.svc.Wait()
	other.Wait()

	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, int32(1), f.exec.calls.Load())
}

// heldDueRepo 返回到期列表前阻塞，直到 release 关闭
type heldDueRepo struct {
	orcRepo.TaskRepository
	listed  chan struct{}
	release chan struct{}
}

func (r *heldDueRepo) GetDue(ctx context.Context, now time.Time, limit int) ([]*orcModel.Task, error) {
	tasks, err := r.TaskRepository.GetDue(ctx, now, limit)
	close(r.listed)
	<-r.release
	return tasks, err
}

func TestStaleDueListDoesNotRerunRescheduledTask(t *testing.T) {
	f := setup(t)
	f.schedule(t, "daily", daily(), at(19, 9, 0))

	held := &heldDueRepo{TaskRepository: f.tasks, listed: make(chan struct{}), release: make(chan struct{})}
	stale := f.newService()
	stale.taskRepo = held

	staleStarted := make(chan int, 1)
	go func() {
		n, err := stale.Tick(context.Background())
		assert.NoError(t, err)
		staleStarted <- n
	}()
	<-held.listed

	// 另一个 tick 运行并改期到明天
	assert.Equal(t, 1, f.tick(t))
	task := f.get(t, "daily")
	assert.Equal(t, orcModel.TaskStatusScheduled, task.Status)
	require.NotNil(t, task.NextRun)
	assert.True(t, at(20, 9, 0).Equal(*task.NextRun))

	close(held.release)
	assert.Equal(t, 0, <-staleStarted)
	stale.Wait()

	assert.Equal(t, int32(1), f.exec.calls.Load())
	assert.True(t, at(20, 9, 0).Equal(*f.get(t, "daily").NextRun))
}

func TestCancelRunningRecurringTask(t *testing.T) {
	f := setup(t)
	running := make(chan struct{})
	f.exec.fn = func(ctx context.Context, cfg *base.TaskConfig) (*base.Result, error) {
		close(running)
		<-ctx.Done()
		return nil, orcModel.WrapError(orcModel.KindExecution, "cognitive.summarize", ctx.Err())
	}
	f.schedule(t, "daily", daily(), at(19, 9, 0))

	n, err := f.svc.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	<-running

	assert.True(t, f.svc.Cancel("daily"))
	f.svc.Wait()
	assert.False(t, f.svc.Cancel("daily"))

	task := f.get(t, "daily")
	assert.Equal(t, orcModel.TaskStatusCanceled, task.Status)
}

func TestStartStop(t *testing.T) {
	f := setup(t)
	f.schedule(t, "daily", daily(), at(19, 9, 0))

	f.svc.Start(context.Background())
	assert.Eventually(t, func() bool {
		task, err := f.tasks.GetByTaskID(context.Background(), "daily")
		return err == nil && task.LastRun != nil && task.Status == orcModel.TaskStatusScheduled
	}, 5*time.Second, 20*time.Millisecond)
	f.svc.Stop()
}
