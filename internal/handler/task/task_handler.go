/**
 * 处理器:任务控制接口
 * @date: 2026.10.17
 * @description: 提交任务、查询任务及结果历史、取消任务。
 *   取消时先在存储中取消未开始的任务，再通过取消总线通知其他进程中止正在运行的执行。
 */
package task

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	orcModel "neotask/internal/model/orchestrator"
	"neotask/internal/model/system"
	"neotask/internal/pkg/logger"
	orcRepo "neotask/internal/repo/mysql/orchestrator"
	"neotask/internal/service/orchestrator/core/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TaskControl 编排服务的取消入口
type TaskControl interface {
	CancelTask(ctx context.Context, taskID string) (orcModel.TaskStatus, error)
}

// CancelPublisher 跨进程取消通知
type CancelPublisher interface {
	Publish(ctx context.Context, taskID, reason string) error
}

// TaskHandler 任务控制处理器
type TaskHandler struct {
	taskRepo orcRepo.TaskRepository
	control  TaskControl
	bus      CancelPublisher
	loc      *time.Location
	now      func() time.Time
}

// NewTaskHandler 创建任务控制处理器，bus 可以为 nil
func NewTaskHandler(taskRepo orcRepo.TaskRepository, control TaskControl, bus CancelPublisher, loc *time.Location) *TaskHandler {
	if loc == nil {
		loc = time.Local
	}
	return &TaskHandler{
		taskRepo: taskRepo,
		control:  control,
		bus:      bus,
		loc:      loc,
		now:      time.Now,
	}
}

// SubmitTask 提交任务
// 路由: POST /api/v1/tasks
func (h *TaskHandler) SubmitTask(c *gin.Context) {
	clientIP := c.ClientIP()
	requestID := c.GetString("request_id")

	var req orcModel.SubmitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, system.Fail(http.StatusBadRequest, "Invalid request body", err))
		return
	}

	task, err := h.buildTask(&req)
	if err != nil {
		logger.LogBusinessOperation("submit_task", clientIP, requestID, "failed", "task rejected", map[string]interface{}{
			"task_type": string(req.Type),
			"error":     err.Error(),
		})
		c.JSON(http.StatusBadRequest, system.Fail(http.StatusBadRequest, "Invalid task", err))
		return
	}

	if err := h.taskRepo.Create(c.Request.Context(), task); err != nil {
		logger.LogError(err, "handler.task.SubmitTask", "REPO", map[string]interface{}{"task_id": task.TaskID})
		c.JSON(http.StatusInternalServerError, system.Fail(http.StatusInternalServerError, "Failed to create task", err))
		return
	}

	logger.LogBusinessOperation("submit_task", clientIP, requestID, "success", "task submitted", map[string]interface{}{
		"task_id":   task.TaskID,
		"task_type": string(task.Type),
		"status":    string(task.Status),
	})
	c.JSON(http.StatusCreated, system.Success(http.StatusCreated, "Task submitted successfully", task))
}

// buildTask 把请求转换成任务：带周期规则的任务以 scheduled 创建并计算首次运行时间，其余为 pending
func (h *TaskHandler) buildTask(req *orcModel.SubmitTaskRequest) (*orcModel.Task, error) {
	if !req.Type.Valid() {
		return nil, orcModel.ConfigError("task.submit", "unsupported task type: %s", req.Type)
	}

	task := &orcModel.Task{
		TaskID:               uuid.NewString(),
		ProjectID:            req.ProjectID,
		Title:                req.Title,
		Description:          req.Description,
		Type:                 req.Type,
		Action:               req.Action,
		Status:               orcModel.TaskStatusPending,
		Priority:             req.Priority,
		RequiredCapabilities: req.RequiredCapabilities,
		RequiredResources:    req.RequiredResources,
		Config:               req.Config,
		Input:                req.Input,
		TimeoutSeconds:       req.TimeoutSeconds,
		NextAttempt:          req.NotBefore,
	}

	if req.Schedule != nil && req.Schedule.Frequency != "" {
		first, ok, err := scheduler.FirstRun(req.Schedule, h.now(), h.loc)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, orcModel.ConfigError("task.submit", "schedule has no run before its end_date")
		}
		task.Status = orcModel.TaskStatusScheduled
		task.Schedule = req.Schedule
		task.NextRun = &first
		task.NextAttempt = nil
	}
	return task, nil
}

// GetTask 查询任务及结果历史
// 路由: GET /api/v1/tasks/:id
func (h *TaskHandler) GetTask(c *gin.Context) {
	taskID := c.Param("id")

	task, err := h.taskRepo.GetByTaskID(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, orcModel.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, system.Fail(http.StatusNotFound, "Task not found", err))
			return
		}
		logger.LogError(err, "handler.task.GetTask", "REPO", map[string]interface{}{"task_id": taskID})
		c.JSON(http.StatusInternalServerError, system.Fail(http.StatusInternalServerError, "Failed to get task", err))
		return
	}

	results, err := h.taskRepo.ListResults(c.Request.Context(), taskID)
	if err != nil {
		logger.LogError(err, "handler.task.GetTask", "REPO", map[string]interface{}{"task_id": taskID})
		c.JSON(http.StatusInternalServerError, system.Fail(http.StatusInternalServerError, "Failed to get task results", err))
		return
	}

	c.JSON(http.StatusOK, system.Success(http.StatusOK, "Task fetched successfully", orcModel.TaskDetailResponse{
		Task:    task,
		Results: results,
	}))
}

// ListTasks 按状态列出任务
// 路由: GET /api/v1/tasks?status=pending&limit=50
func (h *TaskHandler) ListTasks(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, system.Fail(http.StatusBadRequest, "limit must be a positive integer", nil))
		return
	}

	tasks, err := h.taskRepo.List(c.Request.Context(), orcModel.TaskStatus(c.Query("status")), limit)
	if err != nil {
		logger.LogError(err, "handler.task.ListTasks", "REPO", nil)
		c.JSON(http.StatusInternalServerError, system.Fail(http.StatusInternalServerError, "Failed to list tasks", err))
		return
	}
	c.JSON(http.StatusOK, system.Success(http.StatusOK, "Tasks fetched successfully", tasks))
}

// CancelTask 取消任务
// 路由: POST /api/v1/tasks/:id/cancel
func (h *TaskHandler) CancelTask(c *gin.Context) {
	clientIP := c.ClientIP()
	requestID := c.GetString("request_id")
	taskID := c.Param("id")

	prev, err := h.control.CancelTask(c.Request.Context(), taskID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, orcModel.ErrTaskNotFound):
			status = http.StatusNotFound
		case orcModel.IsKind(err, orcModel.KindConfiguration):
			status = http.StatusConflict
		default:
			logger.LogError(err, "handler.task.CancelTask", "REPO", map[string]interface{}{"task_id": taskID})
		}
		c.JSON(status, system.Fail(status, "Failed to cancel task", err))
		return
	}

	// 正在运行的任务可能在其他进程中执行
	if prev == orcModel.TaskStatusRunning && h.bus != nil {
		if err := h.bus.Publish(c.Request.Context(), taskID, "canceled via api"); err != nil {
			logger.LogError(err, "handler.task.CancelTask", "REDIS", map[string]interface{}{"task_id": taskID})
		}
	}

	logger.LogBusinessOperation("cancel_task", clientIP, requestID, "success", "task cancel requested", map[string]interface{}{
		"task_id":     taskID,
		"prev_status": string(prev),
	})
	c.JSON(http.StatusOK, system.Success(http.StatusOK, "Task cancel requested", gin.H{
		"task_id":     taskID,
		"prev_status": prev,
	}))
}
