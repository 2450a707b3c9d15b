package cognitive

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"neotask/internal/config"
	"neotask/internal/executor/base"
	"neotask/internal/executor/web"
	"neotask/internal/model/basemodel"
	orcModel "neotask/internal/model/orchestrator"
	"neotask/internal/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingClient 记录收到的请求并返回固定回复
type recordingClient struct {
	reply string
	err   error
	reqs  []llm.ChatRequest
}

func (c *recordingClient) Chat(_ context.Context, req llm.ChatRequest) (string, error) {
	c.reqs = append(c.reqs, req)
	return c.reply, c.err
}

func (c *recordingClient) lastUserPrompt() string {
	if len(c.reqs) == 0 {
		return ""
	}
	msgs := c.reqs[len(c.reqs)-1].Messages
	return msgs[len(msgs)-1].Content
}

func newExecutor(client llm.Client) *Executor {
	return NewExecutor(client, web.NewFetcher(config.WebExecutorConfig{}))
}

func TestSummarizeBuildsPrompt(t *testing.T) {
	client := &recordingClient{reply: "short summary"}
	res, err := newExecutor(client).Execute(context.Background(), &base.TaskConfig{
		Type:        orcModel.TaskTypeSummarize,
		Description: "weekly notes",
		Input:       basemodel.JSONMap{"content": "a long text"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "short summary", res.Output)

	require.Len(t, client.reqs, 1)
	msgs := client.reqs[0].Messages
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, llm.DefaultSystemPrompt, msgs[0].Content)
	prompt := client.lastUserPrompt()
	assert.Contains(t, prompt, "Context: weekly notes")
	assert.Contains(t, prompt, "Content: a long text")
	assert.Contains(t, prompt, "Instructions: Provide a concise summary")
}

func TestAnalyzeAndReportDefaults(t *testing.T) {
	client := &recordingClient{reply: "ok"}
	e := newExecutor(client)

	_, err := e.Execute(context.Background(), &base.TaskConfig{
		Type:  orcModel.TaskTypeAnalyze,
		Input: basemodel.JSONMap{"content": "logs", "analysisType": "security"},
	}, nil)
	require.NoError(t, err)
	assert.Contains(t, client.lastUserPrompt(), "Analysis Type: security")
	assert.Contains(t, client.lastUserPrompt(), "Instructions: Provide a detailed analysis")

	_, err = e.Execute(context.Background(), &base.TaskConfig{
		Type:  orcModel.TaskTypeReport,
		Input: basemodel.JSONMap{"data": map[string]interface{}{"visits": float64(42)}},
	}, nil)
	require.NoError(t, err)
	assert.Contains(t, client.lastUserPrompt(), "Format: markdown")
	assert.Contains(t, client.lastUserPrompt(), `"visits": 42`)
}

func TestBackendErrorIsExecutionError(t *testing.T) {
	client := &recordingClient{err: errors.New("connection refused")}
	_, err := newExecutor(client).Execute(context.Background(), &base.TaskConfig{Type: orcModel.TaskTypeSummarize}, nil)
	require.Error(t, err)
	assert.True(t, orcModel.IsKind(err, orcModel.KindExecution))
}

func TestAlertStructuredDecision(t *testing.T) {
	client := &recordingClient{reply: "```json\n{\"alert\": true, \"explanation\": \"cpu above 90\", \"actions\": [\"scale out\"]}\n```"}
	res, err := newExecutor(client).Execute(context.Background(), &base.TaskConfig{
		Type:  orcModel.TaskTypeAlert,
		Input: basemodel.JSONMap{"condition": "cpu > 90", "data": "cpu=95"},
	}, nil)
	require.NoError(t, err)

	out := res.Output.(map[string]interface{})
	assert.Equal(t, true, out["alert"])
	assert.Equal(t, "cpu above 90", out["explanation"])
	assert.Equal(t, []string{"scale out"}, out["actions"])

	require.Len(t, client.reqs, 1)
	assert.NotEmpty(t, client.reqs[0].Format)
	require.NotNil(t, client.reqs[0].Temperature)
	assert.Equal(t, 0.0, *client.reqs[0].Temperature)
}

func TestAlertFalseIsNotSubstringMatched(t *testing.T) {
	client := &recordingClient{reply: `{"alert": false, "explanation": "it is not true that cpu is high"}`}
	res, err := newExecutor(client).Execute(context.Background(), &base.TaskConfig{Type: orcModel.TaskTypeAlert}, nil)
	require.NoError(t, err)
	out := res.Output.(map[string]interface{})
	assert.Equal(t, false, out["alert"])
	assert.Equal(t, []string{}, out["actions"])
}

func TestAlertUnparseableReplyFails(t *testing.T) {
	for _, reply := range []string{"Yes, this is true.", `{"explanation": "missing flag"}`} {
		client := &recordingClient{reply: reply}
		_, err := newExecutor(client).Execute(context.Background(), &base.TaskConfig{Type: orcModel.TaskTypeAlert}, nil)
		require.Error(t, err, reply)
		assert.True(t, orcModel.IsKind(err, orcModel.KindExecution), reply)
	}
}

func TestMonitorReturnsPageWithoutAnalysis(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body><p>status: green</p></body></html>"))
	}))
	defer srv.Close()

	client := &recordingClient{}
	res, err := newExecutor(client).Execute(context.Background(), &base.TaskConfig{
		Type:  orcModel.TaskTypeMonitor,
		Input: basemodel.JSONMap{"url": srv.URL},
	}, nil)
	require.NoError(t, err)

	out := res.Output.(map[string]interface{})
	assert.Equal(t, srv.URL, out["url"])
	assert.Contains(t, out["content"], "status: green")
	assert.Empty(t, client.reqs)
}

func TestMonitorAnalyzeChangesSendsPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><head><script>var x=1;</script></head><body><h1>Release</h1>\n<p>v2   shipped</p></body></html>"))
	}))
	defer srv.Close()

	client := &recordingClient{reply: "one significant change"}
	res, err := newExecutor(client).Execute(context.Background(), &base.TaskConfig{
		Type:  orcModel.TaskTypeMonitor,
		Input: basemodel.JSONMap{"url": srv.URL, "analyzeChanges": true, "previousState": "v1"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "one significant change", res.Output)

	prompt := client.lastUserPrompt()
	assert.Contains(t, prompt, "Content: Release v2 shipped")
	assert.NotContains(t, prompt, "<h1>")
	assert.NotContains(t, prompt, "var x")
	assert.Contains(t, prompt, "Previous State: v1")
}

func TestMonitorRequiresURL(t *testing.T) {
	_, err := newExecutor(&recordingClient{}).Execute(context.Background(), &base.TaskConfig{Type: orcModel.TaskTypeMonitor}, nil)
	assert.True(t, orcModel.IsKind(err, orcModel.KindConfiguration))
}

func TestRejectsNonCognitiveType(t *testing.T) {
	_, err := newExecutor(&recordingClient{}).Execute(context.Background(), &base.TaskConfig{Type: orcModel.TaskTypeProcess}, nil)
	assert.True(t, orcModel.IsKind(err, orcModel.KindConfiguration))
}
