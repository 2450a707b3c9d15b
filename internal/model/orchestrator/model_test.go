package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"neotask/internal/model/basemodel"

	"github.com/stretchr/testify/assert"
)

func TestAgentHasCapabilities(t *testing.T) {
	a := &Agent{Capabilities: basemodel.StringSlice{"repository_access", "command_execution"}}

	assert.True(t, a.HasCapabilities(nil))
	assert.True(t, a.HasCapabilities([]string{"command_execution"}))
	assert.False(t, a.HasCapabilities([]string{"command_execution", "web_access"}))
}

func TestAgentConfigDefaults(t *testing.T) {
	cfg := AgentConfig{}.WithDefaults()
	assert.Equal(t, 1, cfg.MaxConcurrentTasks)
	assert.Equal(t, 30, cfg.TimeoutSeconds)
	assert.Equal(t, 0, cfg.RetryAttempts)

	cfg = AgentConfig{MaxConcurrentTasks: 4, TimeoutSeconds: 5, RetryAttempts: 3}.WithDefaults()
	assert.Equal(t, 4, cfg.MaxConcurrentTasks)
	assert.Equal(t, 3, cfg.RetryAttempts)
}

func TestTaskTimeoutPrecedence(t *testing.T) {
	task := &Task{TimeoutSeconds: 10}
	assert.Equal(t, 10*time.Second, task.Timeout(AgentConfig{TimeoutSeconds: 20}, time.Minute))

	task.TimeoutSeconds = 0
	assert.Equal(t, 20*time.Second, task.Timeout(AgentConfig{TimeoutSeconds: 20}, time.Minute))
	assert.Equal(t, time.Minute, task.Timeout(AgentConfig{}, time.Minute))
}

func TestTaskTypeClassification(t *testing.T) {
	assert.True(t, TaskTypeAlert.IsCognitive())
	assert.False(t, TaskTypeWeb.IsCognitive())
	assert.Equal(t, ResourceFilesystem, TaskTypeFilesystem.ResourceType())
	assert.Equal(t, ResourceType(""), TaskTypeSummarize.ResourceType())
}

func TestScheduleIsRecurring(t *testing.T) {
	var nilSchedule *TaskSchedule
	assert.False(t, nilSchedule.IsRecurring())
	assert.False(t, (&TaskSchedule{Frequency: FrequencyOnce}).IsRecurring())
	assert.True(t, (&TaskSchedule{Frequency: FrequencyWeekly}).IsRecurring())
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, TaskStatusCompleted.IsTerminal())
	assert.True(t, TaskStatusCanceled.IsTerminal())
	assert.False(t, TaskStatusScheduled.IsTerminal())
	assert.False(t, TaskStatusAssigned.IsTerminal())
}

func TestTaskErrorKinds(t *testing.T) {
	denied := AccessDenied("filesystem.read", "path %s not allowed", "/etc/passwd")
	assert.Equal(t, KindResourceAccessDenied, KindOf(denied))
	assert.Contains(t, denied.Error(), "/etc/passwd")

	wrapped := fmt.Errorf("dispatch: %w", denied)
	assert.True(t, IsKind(wrapped, KindResourceAccessDenied))

	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindCanceled, WrapError(KindExecution, "web.fetch", context.Canceled).Kind)
	assert.Equal(t, KindExecution, KindOf(errors.New("boom")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.Nil(t, WrapError(KindExecution, "x", nil))

	// 已分类的错误不会被重新归类
	cfgErr := ConfigError("web.monitor", "unsupported operator %q", "between")
	assert.Same(t, cfgErr, ExecError("web.monitor", cfgErr))

	inner := errors.New("exit status 2")
	execErr := ExecError("process.execute", inner)
	assert.ErrorIs(t, execErr, inner)
}
