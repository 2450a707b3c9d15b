package master

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"neotask/internal/config"
	orcModel "neotask/internal/model/orchestrator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.Mode = "test"
	cfg.Database.Driver = "sqlite"
	cfg.Database.SQLite = config.SQLiteConfig{Path: ":memory:", LogLevel: "silent"}
	cfg.Orchestrator = config.OrchestratorConfig{Enabled: true, TickInterval: 10 * time.Millisecond, DrainTimeout: time.Second}
	cfg.Scheduler = config.SchedulerConfig{Enabled: true, TickInterval: 10 * time.Millisecond, Timezone: "UTC"}
	return cfg
}

func TestAppEndToEnd(t *testing.T) {
	app, err := NewApp(testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	require.NoError(t, app.db.AutoMigrate(orcModel.AllModels()...))

	ctx := context.Background()
	require.NoError(t, app.db.Create(&orcModel.Agent{AgentID: "agent-1", Name: "searcher", Capabilities: []string{"web"}}).Error)

	// 通过控制接口提交一个 mock 搜索任务
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(
		`{"title":"search","type":"web","action":"search","required_capabilities":["web"],"config":{"query":"golang","num_results":1}}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	app.GetRouter().GetEngine().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	tasks, err := app.taskRepo.List(ctx, orcModel.TaskStatusPending, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	taskID := tasks[0].TaskID

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- app.Run(runCtx) }()

	assert.Eventually(t, func() bool {
		task, err := app.taskRepo.GetByTaskID(ctx, taskID)
		return err == nil && task.Status == orcModel.TaskStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	results, err := app.taskRepo.ListResults(ctx, taskID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Contains(t, results[0].Output, "golang")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestAppRecoversInterruptedTasks(t *testing.T) {
	cfg := testConfig()
	cfg.Orchestrator.Enabled = false
	cfg.Scheduler.Enabled = false
	app, err := NewApp(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	require.NoError(t, app.db.AutoMigrate(orcModel.AllModels()...))

	ctx := context.Background()
	require.NoError(t, app.taskRepo.Create(ctx, &orcModel.Task{TaskID: "stuck", Title: "stuck", Type: orcModel.TaskTypeWeb, Status: orcModel.TaskStatusRunning}))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- app.Run(runCtx) }()

	assert.Eventually(t, func() bool {
		task, err := app.taskRepo.GetByTaskID(ctx, "stuck")
		return err == nil && task.Status == orcModel.TaskStatusFailed
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
