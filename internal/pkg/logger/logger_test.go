package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"neotask/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLoggerRejectsNil(t *testing.T) {
	_, err := InitLogger(nil)
	assert.Error(t, err)
}

func TestInitLoggerInvalidFormat(t *testing.T) {
	_, err := InitLogger(&config.LogConfig{Level: "info", Format: "xml", Output: "stdout"})
	assert.Error(t, err)
}

// TestFileHookSplitsByType 不同 type 的日志写入不同文件
func TestFileHookSplitsByType(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.LogConfig{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: filepath.Join(dir, "app.log"),
		MaxSize:  1,
	}

	lm, err := InitLogger(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { LoggerInstance = nil })

	LogTaskEvent("task-1", "command", "agent-1", "completed", 120*time.Millisecond, nil)
	LogError(errors.New("boom"), "service.orchestrator.tick", "TICK", map[string]interface{}{"task_id": "task-2"})
	LogSystemEvent("orchestrator", "startup", "started", logrus.InfoLevel, nil)
	lm.GetLogger().Info("untyped")

	taskLog, err := os.ReadFile(filepath.Join(dir, "task.log"))
	require.NoError(t, err)
	assert.Contains(t, string(taskLog), `"task_id":"task-1"`)
	assert.Contains(t, string(taskLog), `"duration_ms":120`)

	errLog, err := os.ReadFile(filepath.Join(dir, "error.log"))
	require.NoError(t, err)
	assert.Contains(t, string(errLog), "boom")

	sysLog, err := os.ReadFile(filepath.Join(dir, "system.log"))
	require.NoError(t, err)
	assert.Contains(t, string(sysLog), "System event: orchestrator - startup")

	appLog, err := os.ReadFile(filepath.Join(dir, "app.log"))
	require.NoError(t, err)
	assert.Contains(t, string(appLog), "untyped")
}

func TestUpdateConfigChangesLevel(t *testing.T) {
	lm, err := InitLogger(&config.LogConfig{Level: "info", Format: "text", Output: "stdout"})
	require.NoError(t, err)
	t.Cleanup(func() { LoggerInstance = nil })

	require.NoError(t, ReloadCallback(nil, &config.Config{Log: config.LogConfig{Level: "debug", Format: "text", Output: "stdout"}}))
	assert.Equal(t, logrus.DebugLevel, lm.GetLogger().GetLevel())
	assert.Equal(t, "debug", lm.GetConfig().Level)

	assert.Error(t, lm.UpdateConfig(&config.LogConfig{Level: "loud", Format: "text", Output: "stdout"}))
}

func TestHelpersWithoutInstance(t *testing.T) {
	LoggerInstance = nil
	assert.NotPanics(t, func() {
		LogInfo("hello", "test", "OP", nil)
		LogWarn("hello", "test", "OP", nil)
		LogError(errors.New("x"), "test", "OP", nil)
		LogTaskEvent("t", "web", "a", "started", 0, nil)
		WithField("k", "v").Debug("noop")
	})
}
