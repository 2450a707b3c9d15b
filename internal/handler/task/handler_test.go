package task

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"neotask/internal/config"
	orcModel "neotask/internal/model/orchestrator"
	"neotask/internal/pkg/database"
	orcRepo "neotask/internal/repo/mysql/orchestrator"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeControl struct {
	prev orcModel.TaskStatus
	err  error
	got  string
}

func (f *fakeControl) CancelTask(ctx context.Context, taskID string) (orcModel.TaskStatus, error) {
	f.got = taskID
	return f.prev, f.err
}

type fakeBus struct {
	published []string
}

func (f *fakeBus) Publish(ctx context.Context, taskID, reason string) error {
	f.published = append(f.published, taskID)
	return nil
}

type fakeRegistry struct {
	agents     []orcModel.AgentSnapshot
	err        error
	status     orcModel.AgentStatus
	registered []string
}

func (f *fakeRegistry) Register(ctx context.Context, agent *orcModel.Agent) error {
	f.registered = append(f.registered, agent.AgentID)
	return nil
}

func (f *fakeRegistry) Agents(ctx context.Context) []orcModel.AgentSnapshot {
	return f.agents
}

func (f *fakeRegistry) SetAgentStatus(ctx context.Context, agentID string, status orcModel.AgentStatus) error {
	f.status = status
	return f.err
}

type envelope struct {
	Code    int             `json:"code"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type testServer struct {
	engine    *gin.Engine
	tasks     orcRepo.TaskRepository
	agents    orcRepo.AgentRepository
	resources orcRepo.ResourceRepository
	control   *fakeControl
	bus     *fakeBus
	reg     *fakeRegistry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewSQLiteConnection(&config.SQLiteConfig{Path: ":memory:", LogLevel: "silent"})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(orcModel.AllModels()...))
	t.Cleanup(func() { _ = database.Close(db) })

	s := &testServer{
		engine:    gin.New(),
		tasks:     orcRepo.NewTaskRepository(db),
		agents:    orcRepo.NewAgentRepository(db),
		resources: orcRepo.NewResourceRepository(db),
		control:   &fakeControl{prev: orcModel.TaskStatusPending},
		bus:       &fakeBus{},
		reg:       &fakeRegistry{},
	}
	th := NewTaskHandler(s.tasks, s.control, s.bus, time.UTC)
	th.now = func() time.Time { return time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC) }
	ah := NewAgentHandler(s.reg, s.agents, s.resources, s.tasks)

	api := s.engine.Group("/api/v1")
	api.POST("/tasks", th.SubmitTask)
	api.GET("/tasks", th.ListTasks)
	api.GET("/tasks/:id", th.GetTask)
	api.POST("/tasks/:id/cancel", th.CancelTask)
	api.POST("/agents", ah.CreateAgent)
	api.GET("/agents", ah.ListAgents)
	api.PUT("/agents/:id/status", ah.UpdateAgentStatus)
	api.POST("/agents/:id/resources", ah.GrantResource)
	api.DELETE("/agents/:id/resources", ah.RevokeResource)
	api.GET("/agents/:id/metrics", ah.GetAgentMetrics)
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestSubmitPendingTask(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodPost, "/api/v1/tasks", map[string]interface{}{
		"title":                 "list files",
		"type":                  "process",
		"action":                "execute",
		"priority":              3,
		"required_capabilities": []string{"shell"},
		"config":                map[string]interface{}{"command": "ls -la"},
	})
	require.Equal(t, http.StatusCreated, code, env.Error)

	var task orcModel.Task
	require.NoError(t, json.Unmarshal(env.Data, &task))
	assert.NotEmpty(t, task.TaskID)
	assert.Equal(t, orcModel.TaskStatusPending, task.Status)
	assert.Nil(t, task.NextRun)

	stored, err := s.tasks.GetByTaskID(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Priority)
	assert.Equal(t, "ls -la", stored.Config["command"])
	assert.True(t, stored.RequiredCapabilities.Contains("shell"))
}

func TestSubmitScheduledTask(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodPost, "/api/v1/tasks", map[string]interface{}{
		"title": "weekly report",
		"type":  "report",
		"input": map[string]interface{}{"data": "numbers"},
		"schedule": map[string]interface{}{
			"frequency":    "weekly",
			"time_of_day":  "09:00",
			"days_of_week": []int{1, 3},
		},
	})
	require.Equal(t, http.StatusCreated, code, env.Error)

	var task orcModel.Task
	require.NoError(t, json.Unmarshal(env.Data, &task))
	assert.Equal(t, orcModel.TaskStatusScheduled, task.Status)
	require.NotNil(t, task.NextRun)
	assert.True(t, time.Date(2026, 10, 21, 9, 0, 0, 0, time.UTC).Equal(*task.NextRun), "got %s", task.NextRun)
}

func TestSubmitRejectsInvalidTasks(t *testing.T) {
	s := newTestServer(t)

	cases := []map[string]interface{}{
		{"type": "process"},
		{"title": "x", "type": "teleport"},
		{"title": "x", "type": "summarize", "schedule": map[string]interface{}{"frequency": "daily"}},
	}
	for _, body := range cases {
		code, env := s.do(t, http.MethodPost, "/api/v1/tasks", body)
		assert.Equal(t, http.StatusBadRequest, code, "%v", body)
		assert.Equal(t, "error", env.Status)
	}
}

func TestGetTaskWithResults(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.tasks.Create(ctx, &orcModel.Task{TaskID: "t1", Title: "t1", Type: orcModel.TaskTypeWeb, Status: orcModel.TaskStatusCompleted}))
	require.NoError(t, s.tasks.AppendResult(ctx, &orcModel.TaskResult{TaskID: "t1", Timestamp: time.Now(), Success: true, Output: "ok"}))

	code, env := s.do(t, http.MethodGet, "/api/v1/tasks/t1", nil)
	require.Equal(t, http.StatusOK, code)
	var detail orcModel.TaskDetailResponse
	require.NoError(t, json.Unmarshal(env.Data, &detail))
	assert.Equal(t, "t1", detail.Task.TaskID)
	require.Len(t, detail.Results, 1)
	assert.Equal(t, "ok", detail.Results[0].Output)

	code, _ = s.do(t, http.MethodGet, "/api/v1/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestListTasks(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.tasks.Create(ctx, &orcModel.Task{TaskID: "a", Title: "a", Type: orcModel.TaskTypeWeb, Status: orcModel.TaskStatusPending}))
	require.NoError(t, s.tasks.Create(ctx, &orcModel.Task{TaskID: "b", Title: "b", Type: orcModel.TaskTypeWeb, Status: orcModel.TaskStatusFailed}))

	code, env := s.do(t, http.MethodGet, "/api/v1/tasks?status=failed", nil)
	require.Equal(t, http.StatusOK, code)
	var tasks []orcModel.Task
	require.NoError(t, json.Unmarshal(env.Data, &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "b", tasks[0].TaskID)

	code, _ = s.do(t, http.MethodGet, "/api/v1/tasks?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCancelTask(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, http.MethodPost, "/api/v1/tasks/t1/cancel", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "t1", s.control.got)
	assert.Empty(t, s.bus.published)

	s.control.prev = orcModel.TaskStatusRunning
	code, _ = s.do(t, http.MethodPost, "/api/v1/tasks/t2/cancel", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"t2"}, s.bus.published)

	s.control.err = orcModel.ErrTaskNotFound
	code, _ = s.do(t, http.MethodPost, "/api/v1/tasks/t3/cancel", nil)
	assert.Equal(t, http.StatusNotFound, code)

	s.control.err = orcModel.ConfigError("orchestrator.cancel", "task t4 is already completed")
	code, _ = s.do(t, http.MethodPost, "/api/v1/tasks/t4/cancel", nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestAgentEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.reg.agents = []orcModel.AgentSnapshot{{AgentID: "agent-1", Status: orcModel.AgentStatusAvailable, MaxTasks: 2}}

	code, env := s.do(t, http.MethodGet, "/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, code)
	var agents []orcModel.AgentSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &agents))
	require.Len(t, agents, 1)
	assert.Equal(t, 2, agents[0].MaxTasks)

	code, _ = s.do(t, http.MethodPut, "/api/v1/agents/agent-1/status", map[string]string{"status": "busy"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, orcModel.AgentStatusBusy, s.reg.status)

	code, _ = s.do(t, http.MethodPut, "/api/v1/agents/agent-1/status", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	s.reg.err = orcModel.ErrAgentNotFound
	code, _ = s.do(t, http.MethodPut, "/api/v1/agents/ghost/status", map[string]string{"status": "busy"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreateAgent(t *testing.T) {
	s := newTestServer(t)

	body := map[string]interface{}{
		"agent_id":     "agent-new",
		"name":         "New",
		"capabilities": []string{"shell", "web"},
		"config":       map[string]interface{}{"max_concurrent_tasks": 3},
	}
	code, env := s.do(t, http.MethodPost, "/api/v1/agents", body)
	require.Equal(t, http.StatusCreated, code, env.Error)
	assert.Equal(t, []string{"agent-new"}, s.reg.registered)

	stored, err := s.agents.GetByAgentID(context.Background(), "agent-new")
	require.NoError(t, err)
	assert.Equal(t, orcModel.AgentTypeTask, stored.Type)
	assert.Equal(t, 3, stored.Config.MaxConcurrentTasks)
	assert.Equal(t, orcModel.DefaultAgentTimeoutSecond, stored.Config.TimeoutSeconds)
	assert.True(t, stored.Capabilities.Contains("shell"))

	code, _ = s.do(t, http.MethodPost, "/api/v1/agents", body)
	assert.Equal(t, http.StatusConflict, code)
	assert.Len(t, s.reg.registered, 1)

	code, _ = s.do(t, http.MethodPost, "/api/v1/agents", map[string]interface{}{"name": "no id"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGrantAndRevokeResource(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.agents.Create(ctx, &orcModel.Agent{AgentID: "agent-1", Name: "one"}))
	require.NoError(t, s.resources.Create(ctx, &orcModel.Resource{Name: "workspace", Type: orcModel.ResourceFilesystem}))

	code, env := s.do(t, http.MethodPost, "/api/v1/agents/agent-1/resources", map[string]string{"resource": "workspace"})
	require.Equal(t, http.StatusOK, code, env.Error)
	grants, err := s.resources.ResolveGrants(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, orcModel.PermissionRead, grants[0].Permission)

	// 重复授予只更新权限
	code, _ = s.do(t, http.MethodPost, "/api/v1/agents/agent-1/resources", map[string]string{"resource": "workspace", "permission": "write"})
	require.Equal(t, http.StatusOK, code)
	grants, err = s.resources.ResolveGrants(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, orcModel.PermissionWrite, grants[0].Permission)

	code, _ = s.do(t, http.MethodPost, "/api/v1/agents/agent-1/resources", map[string]string{"resource": "workspace", "permission": "root"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, http.MethodPost, "/api/v1/agents/agent-1/resources", map[string]string{"resource": "missing"})
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(t, http.MethodPost, "/api/v1/agents/ghost/resources", map[string]string{"resource": "workspace"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, http.MethodDelete, "/api/v1/agents/agent-1/resources", map[string]string{"resource": "workspace"})
	require.Equal(t, http.StatusOK, code)
	count, err := s.resources.CountGrants(ctx, "agent-1")
	require.NoError(t, err)
	assert.Zero(t, count)

	code, _ = s.do(t, http.MethodDelete, "/api/v1/agents/agent-1/resources", map[string]string{"resource": "workspace"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAgentMetrics(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	active := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.agents.Create(ctx, &orcModel.Agent{AgentID: "agent-1", Name: "one", LastActive: &active}))
	require.NoError(t, s.agents.Create(ctx, &orcModel.Agent{AgentID: "idle", Name: "idle"}))

	last := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	results := []*orcModel.TaskResult{
		{TaskID: "t1", AgentID: "agent-1", Timestamp: last.Add(-time.Hour), Success: true, DurationMs: 100},
		{TaskID: "t2", AgentID: "agent-1", Timestamp: last, Success: true, DurationMs: 300},
		{TaskID: "t3", AgentID: "agent-1", Timestamp: last.Add(-2 * time.Hour), ErrorKind: orcModel.KindExecution, Error: "boom", DurationMs: 200},
		{TaskID: "t4", AgentID: "other", Timestamp: last, Success: true, DurationMs: 5000},
	}
	for _, r := range results {
		require.NoError(t, s.tasks.AppendResult(ctx, r))
	}

	code, env := s.do(t, http.MethodGet, "/api/v1/agents/agent-1/metrics", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	var m orcModel.AgentMetrics
	require.NoError(t, json.Unmarshal(env.Data, &m))
	assert.Equal(t, int64(2), m.TasksCompleted)
	assert.Equal(t, int64(1), m.TasksFailed)
	assert.InDelta(t, 200.0, m.AverageDurationMs, 0.001)
	assert.InDelta(t, 2.0/3.0, m.SuccessRate, 0.001)
	require.NotNil(t, m.LastActive)
	assert.True(t, last.Equal(*m.LastActive), "got %s", m.LastActive)

	code, env = s.do(t, http.MethodGet, "/api/v1/agents/idle/metrics", nil)
	require.Equal(t, http.StatusOK, code)
	m = orcModel.AgentMetrics{}
	require.NoError(t, json.Unmarshal(env.Data, &m))
	assert.Zero(t, m.TasksCompleted)
	assert.Zero(t, m.SuccessRate)
	assert.Nil(t, m.LastActive)

	code, _ = s.do(t, http.MethodGet, "/api/v1/agents/ghost/metrics", nil)
	assert.Equal(t, http.StatusNotFound, code)
}
