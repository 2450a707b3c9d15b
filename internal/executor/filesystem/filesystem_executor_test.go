package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"neotask/internal/executor/base"
	"neotask/internal/model/basemodel"
	orcModel "neotask/internal/model/orchestrator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grantFor(dir string, perms ...string) []orcModel.Grant {
	return []orcModel.Grant{{
		Type:       orcModel.ResourceFilesystem,
		Permission: orcModel.PermissionWrite,
		Config: orcModel.ResourceConfig{
			AllowedPaths: []orcModel.PathRule{{Path: dir, Permissions: perms}},
		},
	}}
}

func taskConfig(action string, params basemodel.JSONMap) *base.TaskConfig {
	return &base.TaskConfig{Type: orcModel.TaskTypeFilesystem, Action: action, Params: params}
}

func TestWriteReadDelete(t *testing.T) {
	dir := t.TempDir()
	grants := grantFor(dir, "read", "write")
	e := NewExecutor()
	target := filepath.Join(dir, "sub", "note.txt")

	res, err := e.Execute(context.Background(), taskConfig(ActionWrite, basemodel.JSONMap{"path": target, "content": "hello"}), grants)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Output.(map[string]interface{})["bytes_written"])

	res, err = e.Execute(context.Background(), taskConfig(ActionRead, basemodel.JSONMap{"path": target}), grants)
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Output.(map[string]interface{})["content"])

	_, err = e.Execute(context.Background(), taskConfig(ActionDelete, basemodel.JSONMap{"path": target}), grants)
	require.NoError(t, err)
	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr))
}

func TestReadMissingFileIsExecutionError(t *testing.T) {
	dir := t.TempDir()
	_, err := NewExecutor().Execute(context.Background(),
		taskConfig(ActionRead, basemodel.JSONMap{"path": filepath.Join(dir, "missing.txt")}), grantFor(dir, "read"))
	require.Error(t, err)
	assert.True(t, orcModel.IsKind(err, orcModel.KindExecution))
}

func TestTraversalDenied(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(dir, "..", "escape.txt")
	_, err := NewExecutor().Execute(context.Background(),
		taskConfig(ActionWrite, basemodel.JSONMap{"path": outside, "content": "x"}), grantFor(filepath.Join(dir), "write"))
	require.Error(t, err)
	assert.True(t, orcModel.IsKind(err, orcModel.KindResourceAccessDenied))
	_, statErr := os.Stat(filepath.Clean(outside))
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteNeedsWritePermission(t *testing.T) {
	dir := t.TempDir()
	_, err := NewExecutor().Execute(context.Background(),
		taskConfig(ActionWrite, basemodel.JSONMap{"path": filepath.Join(dir, "a.txt"), "content": "x"}), grantFor(dir, "read"))
	assert.True(t, orcModel.IsKind(err, orcModel.KindResourceAccessDenied))
}

func TestRelativePathUsesBasePath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rel.txt"), []byte("rel"), 0644))
	grants := []orcModel.Grant{{
		Type:       orcModel.ResourceFilesystem,
		Permission: orcModel.PermissionRead,
		Config: orcModel.ResourceConfig{
			BasePath:     dir,
			AllowedPaths: []orcModel.PathRule{{Path: ".", Permissions: []string{"read"}}},
		},
	}}

	res, err := NewExecutor().Execute(context.Background(), taskConfig(ActionRead, basemodel.JSONMap{"path": "rel.txt"}), grants)
	require.NoError(t, err)
	assert.Equal(t, "rel", res.Output.(map[string]interface{})["content"])
}

func TestAccessRequestValidation(t *testing.T) {
	e := NewExecutor()

	_, err := e.AccessRequest(taskConfig("chmod", basemodel.JSONMap{"path": "/tmp/x"}))
	assert.True(t, orcModel.IsKind(err, orcModel.KindConfiguration))

	_, err = e.AccessRequest(taskConfig(ActionRead, basemodel.JSONMap{}))
	assert.True(t, orcModel.IsKind(err, orcModel.KindConfiguration))

	req, err := e.AccessRequest(taskConfig(ActionDelete, basemodel.JSONMap{"path": "/tmp/x"}))
	require.NoError(t, err)
	assert.Equal(t, "delete", req.Action)
	assert.Equal(t, "/tmp/x", req.Target)
}
