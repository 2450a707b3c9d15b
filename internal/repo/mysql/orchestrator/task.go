/**
 * 任务仓库层
 * @date: 2026.10.17
 * @description: 任务与结果历史的数据访问。所有状态迁移都是带前置状态的条件更新，
 *   RowsAffected 为 0 表示任务已被其他循环认领或状态已变化。
 *   时间统一以 UTC 写入。
 */
package orchestrator

import (
	"context"
	"errors"
	"time"

	orcModel "neotask/internal/model/orchestrator"

	"gorm.io/gorm"
)

// TaskRepository 任务仓库接口
type TaskRepository interface {
	Create(ctx context.Context, task *orcModel.Task) error
	GetByTaskID(ctx context.Context, taskID string) (*orcModel.Task, error)
	List(ctx context.Context, status orcModel.TaskStatus, limit int) ([]*orcModel.Task, error)

	// 即时分发
	GetPending(ctx context.Context, now time.Time, limit int) ([]*orcModel.Task, error)
	ClaimPending(ctx context.Context, taskID, agentID string, now time.Time) error
	MarkRunning(ctx context.Context, taskID string, now time.Time) error
	Finish(ctx context.Context, taskID string, status orcModel.TaskStatus, now time.Time) error

	// 周期调度
	GetDue(ctx context.Context, now time.Time, limit int) ([]*orcModel.Task, error)
	ClaimScheduled(ctx context.Context, taskID string, now time.Time) error
	Reschedule(ctx context.Context, taskID string, nextRun time.Time) error

	Cancel(ctx context.Context, taskID string, now time.Time) (orcModel.TaskStatus, error)
	RecoverInterrupted(ctx context.Context, now time.Time) (int, error)

	// 结果历史
	AppendResult(ctx context.Context, result *orcModel.TaskResult) error
	ListResults(ctx context.Context, taskID string) ([]*orcModel.TaskResult, error)
	AgentResultStats(ctx context.Context, agentID string) (*orcModel.ResultStats, error)
}

type taskRepository struct {
	db *gorm.DB
}

// NewTaskRepository 创建任务仓库
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepository{db: db}
}

// Create 创建任务
func (r *taskRepository) Create(ctx context.Context, task *orcModel.Task) error {
	task.NextAttempt = utcPtr(task.NextAttempt)
	task.NextRun = utcPtr(task.NextRun)
	return r.db.WithContext(ctx).Create(task).Error
}

// GetByTaskID 获取任务
func (r *taskRepository) GetByTaskID(ctx context.Context, taskID string) (*orcModel.Task, error) {
	var task orcModel.Task
	err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, orcModel.ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

// List 按状态列出任务 (status 为空时不过滤)，最新的在前
func (r *taskRepository) List(ctx context.Context, status orcModel.TaskStatus, limit int) ([]*orcModel.Task, error) {
	var tasks []*orcModel.Task
	q := r.db.WithContext(ctx).Order("created_at desc, id desc")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&tasks).Error
	return tasks, err
}

// GetPending 获取已到最早可分发时间的待处理任务，优先级降序、创建时间升序
func (r *taskRepository) GetPending(ctx context.Context, now time.Time, limit int) ([]*orcModel.Task, error) {
	var tasks []*orcModel.Task
	q := r.db.WithContext(ctx).
		Where("status = ?", orcModel.TaskStatusPending).
		Where("(next_attempt IS NULL OR next_attempt <= ?)", now.UTC()).
		Order("priority desc, created_at asc, id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&tasks).Error
	return tasks, err
}

// ClaimPending 认领任务: pending -> assigned
func (r *taskRepository) ClaimPending(ctx context.Context, taskID, agentID string, now time.Time) error {
	return r.transition(ctx, taskID, []orcModel.TaskStatus{orcModel.TaskStatusPending}, map[string]interface{}{
		"status":      orcModel.TaskStatusAssigned,
		"agent_id":    agentID,
		"assigned_at": now.UTC(),
	})
}

// MarkRunning assigned -> running
func (r *taskRepository) MarkRunning(ctx context.Context, taskID string, now time.Time) error {
	return r.transition(ctx, taskID, []orcModel.TaskStatus{orcModel.TaskStatusAssigned}, map[string]interface{}{
		"status":     orcModel.TaskStatusRunning,
		"started_at": now.UTC(),
	})
}

// Finish assigned|running -> completed|failed|canceled
// 周期任务最后一次运行结束时同时清空 next_run
func (r *taskRepository) Finish(ctx context.Context, taskID string, status orcModel.TaskStatus, now time.Time) error {
	if !status.IsTerminal() {
		return errors.New("finish requires a terminal status, got " + string(status))
	}
	return r.transition(ctx, taskID, []orcModel.TaskStatus{orcModel.TaskStatusAssigned, orcModel.TaskStatusRunning}, map[string]interface{}{
		"status":      status,
		"finished_at": now.UTC(),
		"next_run":    nil,
	})
}

// GetDue 获取到期的周期任务，按 next_run 升序
func (r *taskRepository) GetDue(ctx context.Context, now time.Time, limit int) ([]*orcModel.Task, error) {
	var tasks []*orcModel.Task
	q := r.db.WithContext(ctx).
		Where("status = ? AND next_run IS NOT NULL AND next_run <= ?", orcModel.TaskStatusScheduled, now.UTC()).
		Order("next_run asc, id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&tasks).Error
	return tasks, err
}

// ClaimScheduled scheduled -> running，记录本次运行时间
// 只认领 next_run <= now 的任务: 已被其他 tick 运行并改期到未来的任务不会被旧的到期列表再次认领
func (r *taskRepository) ClaimScheduled(ctx context.Context, taskID string, now time.Time) error {
	return r.transitionWhere(ctx, taskID, []orcModel.TaskStatus{orcModel.TaskStatusScheduled}, map[string]interface{}{
		"status":     orcModel.TaskStatusRunning,
		"last_run":   now.UTC(),
		"started_at": now.UTC(),
	}, "next_run IS NOT NULL AND next_run <= ?", now.UTC())
}

// Reschedule running -> scheduled，写入下次运行时间
func (r *taskRepository) Reschedule(ctx context.Context, taskID string, nextRun time.Time) error {
	return r.transition(ctx, taskID, []orcModel.TaskStatus{orcModel.TaskStatusRunning}, map[string]interface{}{
		"status":      orcModel.TaskStatusScheduled,
		"next_run":    nextRun.UTC(),
		"finished_at": time.Now().UTC(),
	})
}

// cancelAttempts 读取与条件更新之间状态被其他循环改变时的重试次数
const cancelAttempts = 5

// Cancel 取消尚未执行的任务，返回取消前的状态
// 运行中的任务不在这里改状态，由执行方中止后写入 canceled。
// 读取后状态被并发改变 (如 assigned -> running) 时重新读取，按新状态处理
func (r *taskRepository) Cancel(ctx context.Context, taskID string, now time.Time) (orcModel.TaskStatus, error) {
	for attempt := 0; attempt < cancelAttempts; attempt++ {
		task, err := r.GetByTaskID(ctx, taskID)
		if err != nil {
			return "", err
		}
		switch task.Status {
		case orcModel.TaskStatusPending, orcModel.TaskStatusAssigned, orcModel.TaskStatusScheduled:
		default:
			return task.Status, nil
		}

		err = r.transition(ctx, taskID, []orcModel.TaskStatus{task.Status}, map[string]interface{}{
			"status":      orcModel.TaskStatusCanceled,
			"finished_at": now.UTC(),
			"next_run":    nil,
		})
		if errors.Is(err, orcModel.ErrTaskAlreadyClaimed) {
			continue
		}
		return task.Status, err
	}
	return "", orcModel.ErrTaskAlreadyClaimed
}

// RecoverInterrupted 进程重启后处理遗留在 assigned/running 的任务:
// 周期任务回到 scheduled 并立即到期，其余任务标记为 failed，两者都追加一条中断结果
func (r *taskRepository) RecoverInterrupted(ctx context.Context, now time.Time) (int, error) {
	var tasks []*orcModel.Task
	err := r.db.WithContext(ctx).
		Where("status IN ?", []orcModel.TaskStatus{orcModel.TaskStatusAssigned, orcModel.TaskStatusRunning}).
		Find(&tasks).Error
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, t := range tasks {
		updates := map[string]interface{}{"finished_at": now.UTC()}
		if t.Schedule.IsRecurring() {
			updates["status"] = orcModel.TaskStatusScheduled
			updates["next_run"] = now.UTC()
		} else {
			updates["status"] = orcModel.TaskStatusFailed
		}
		if err := r.transition(ctx, t.TaskID, []orcModel.TaskStatus{t.Status}, updates); err != nil {
			if errors.Is(err, orcModel.ErrTaskAlreadyClaimed) {
				continue
			}
			return recovered, err
		}
		if err := r.AppendResult(ctx, &orcModel.TaskResult{
			TaskID:    t.TaskID,
			AgentID:   t.AgentID,
			Timestamp: now,
			ErrorKind: orcModel.KindExecution,
			Error:     "interrupted: process restarted while task was " + string(t.Status),
		}); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// AppendResult 追加结果记录
func (r *taskRepository) AppendResult(ctx context.Context, result *orcModel.TaskResult) error {
	result.Timestamp = result.Timestamp.UTC()
	return r.db.WithContext(ctx).Create(result).Error
}

// ListResults 任务的结果历史，按时间升序
func (r *taskRepository) ListResults(ctx context.Context, taskID string) ([]*orcModel.TaskResult, error) {
	var results []*orcModel.TaskResult
	err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("timestamp asc, id asc").
		Find(&results).Error
	return results, err
}

// AgentResultStats 按代理聚合结果历史: 总数、成功数、平均耗时、最近一次结果时间
func (r *taskRepository) AgentResultStats(ctx context.Context, agentID string) (*orcModel.ResultStats, error) {
	var row struct {
		Total       int64
		Succeeded   int64
		AvgDuration float64
	}
	err := r.db.WithContext(ctx).Model(&orcModel.TaskResult{}).
		Select("COUNT(*) AS total, "+
			"COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS succeeded, "+
			"COALESCE(AVG(duration_ms), 0) AS avg_duration").
		Where("agent_id = ?", agentID).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}

	stats := &orcModel.ResultStats{
		Total:         row.Total,
		Succeeded:     row.Succeeded,
		AvgDurationMs: row.AvgDuration,
	}
	if row.Total == 0 {
		return stats, nil
	}

	var last []*orcModel.TaskResult
	err = r.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("timestamp desc, id desc").
		Limit(1).Find(&last).Error
	if err != nil {
		return nil, err
	}
	if len(last) > 0 {
		ts := last[0].Timestamp
		stats.LastResultAt = &ts
	}
	return stats, nil
}

// transition 条件更新: 只有当前状态属于 from 时才会更新
func (r *taskRepository) transition(ctx context.Context, taskID string, from []orcModel.TaskStatus, updates map[string]interface{}) error {
	return r.transitionWhere(ctx, taskID, from, updates)
}

// transitionWhere 在 transition 的基础上附加条件，cond[0] 为查询语句，其余为参数
func (r *taskRepository) transitionWhere(ctx context.Context, taskID string, from []orcModel.TaskStatus, updates map[string]interface{}, cond ...interface{}) error {
	q := r.db.WithContext(ctx).Model(&orcModel.Task{}).
		Where("task_id = ? AND status IN ?", taskID, from)
	if len(cond) > 0 {
		q = q.Where(cond[0], cond[1:]...)
	}
	result := q.Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return orcModel.ErrTaskAlreadyClaimed
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
