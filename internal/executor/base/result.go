package base

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	orcModel "neotask/internal/model/orchestrator"
)

// StatusFor 执行结果对应的任务终态
func StatusFor(err error) orcModel.TaskStatus {
	switch {
	case err == nil:
		return orcModel.TaskStatusCompleted
	case orcModel.IsKind(err, orcModel.KindCanceled):
		return orcModel.TaskStatusCanceled
	default:
		return orcModel.TaskStatusFailed
	}
}

// NewTaskResult 把一次执行转成结果历史记录
// 失败时记录错误类别、信息，进程失败额外记录退出码与 stderr
func NewTaskResult(taskID, agentID string, res *Result, err error, at time.Time) *orcModel.TaskResult {
	record := &orcModel.TaskResult{
		TaskID:    taskID,
		AgentID:   agentID,
		Timestamp: at,
		Success:   err == nil,
	}
	if res != nil {
		record.DurationMs = res.Duration.Milliseconds()
		if res.Output != nil {
			record.Output = encodeOutput(res.Output)
		}
	}
	if err == nil {
		return record
	}

	record.ErrorKind = orcModel.KindOf(err)
	record.Error = err.Error()
	var te *orcModel.TaskError
	if errors.As(err, &te) {
		if te.ExitCode != 0 {
			code := te.ExitCode
			record.ExitCode = &code
		}
		record.Stderr = te.Stderr
	}
	return record
}

func encodeOutput(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
