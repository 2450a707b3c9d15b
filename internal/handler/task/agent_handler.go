package task

import (
	"context"
	"errors"
	"net/http"

	orcModel "neotask/internal/model/orchestrator"
	"neotask/internal/model/system"
	"neotask/internal/pkg/logger"
	orcRepo "neotask/internal/repo/mysql/orchestrator"

	"github.com/gin-gonic/gin"
)

// AgentRegistry 编排服务的代理注册表入口
type AgentRegistry interface {
	Register(ctx context.Context, agent *orcModel.Agent) error
	Agents(ctx context.Context) []orcModel.AgentSnapshot
	SetAgentStatus(ctx context.Context, agentID string, status orcModel.AgentStatus) error
}

// AgentHandler 代理注册表处理器
type AgentHandler struct {
	registry  AgentRegistry
	agentRepo orcRepo.AgentRepository
	resRepo   orcRepo.ResourceRepository
	taskRepo  orcRepo.TaskRepository
}

// NewAgentHandler 创建代理注册表处理器
func NewAgentHandler(
	registry AgentRegistry,
	agentRepo orcRepo.AgentRepository,
	resRepo orcRepo.ResourceRepository,
	taskRepo orcRepo.TaskRepository,
) *AgentHandler {
	return &AgentHandler{
		registry:  registry,
		agentRepo: agentRepo,
		resRepo:   resRepo,
		taskRepo:  taskRepo,
	}
}

// CreateAgent 创建代理并注册到编排服务
// 路由: POST /api/v1/agents
func (h *AgentHandler) CreateAgent(c *gin.Context) {
	ctx := c.Request.Context()

	var req orcModel.CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, system.Fail(http.StatusBadRequest, "Invalid request body", err))
		return
	}

	if _, err := h.agentRepo.GetByAgentID(ctx, req.AgentID); err == nil {
		c.JSON(http.StatusConflict, system.Fail(http.StatusConflict, "Failed to create agent", orcModel.ErrAgentExists))
		return
	} else if !errors.Is(err, orcModel.ErrAgentNotFound) {
		h.fail(c, "handler.task.CreateAgent", req.AgentID, "Failed to create agent", err)
		return
	}

	agent := req.ToAgent()
	if err := h.agentRepo.Create(ctx, agent); err != nil {
		h.fail(c, "handler.task.CreateAgent", req.AgentID, "Failed to create agent", err)
		return
	}
	if err := h.registry.Register(ctx, agent); err != nil {
		h.fail(c, "handler.task.CreateAgent", req.AgentID, "Failed to register agent", err)
		return
	}

	stored, err := h.agentRepo.GetByAgentID(ctx, agent.AgentID)
	if err != nil {
		h.fail(c, "handler.task.CreateAgent", req.AgentID, "Failed to fetch agent", err)
		return
	}

	logger.LogBusinessOperation("create_agent", c.ClientIP(), c.GetString("request_id"), "success", "agent created", map[string]interface{}{
		"agent_id":     agent.AgentID,
		"capabilities": req.Capabilities,
	})
	c.JSON(http.StatusCreated, system.Success(http.StatusCreated, "Agent created successfully", stored))
}

// GrantResource 授予代理资源访问权限，重复授予时更新权限级别
// 路由: POST /api/v1/agents/:id/resources
func (h *AgentHandler) GrantResource(c *gin.Context) {
	agentID := c.Param("id")

	var req orcModel.ResourceAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, system.Fail(http.StatusBadRequest, "Invalid request body", err))
		return
	}
	if req.Permission == "" {
		req.Permission = orcModel.PermissionRead
	}
	if !req.Permission.Valid() {
		err := orcModel.ConfigError("agent.grant", "invalid permission: %s", req.Permission)
		c.JSON(http.StatusBadRequest, system.Fail(http.StatusBadRequest, "Invalid request body", err))
		return
	}

	resource, ok := h.lookupAccess(c, "handler.task.GrantResource", agentID, req.Resource)
	if !ok {
		return
	}

	link := &orcModel.AgentResource{
		AgentID:      agentID,
		ResourceID:   resource.ID,
		ResourceType: resource.Type,
		Permission:   req.Permission,
	}
	if err := h.resRepo.GrantToAgent(c.Request.Context(), link); err != nil {
		h.fail(c, "handler.task.GrantResource", agentID, "Failed to grant resource", err)
		return
	}

	logger.LogBusinessOperation("grant_resource", c.ClientIP(), c.GetString("request_id"), "success", "resource granted", map[string]interface{}{
		"agent_id":   agentID,
		"resource":   resource.Name,
		"permission": string(req.Permission),
	})
	c.JSON(http.StatusOK, system.Success(http.StatusOK, "Resource granted successfully", link))
}

// RevokeResource 撤销代理的资源访问权限
// 路由: DELETE /api/v1/agents/:id/resources
func (h *AgentHandler) RevokeResource(c *gin.Context) {
	agentID := c.Param("id")

	var req orcModel.ResourceAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, system.Fail(http.StatusBadRequest, "Invalid request body", err))
		return
	}

	resource, ok := h.lookupAccess(c, "handler.task.RevokeResource", agentID, req.Resource)
	if !ok {
		return
	}

	if err := h.resRepo.RevokeFromAgent(c.Request.Context(), agentID, resource.ID); err != nil {
		if errors.Is(err, orcModel.ErrGrantNotFound) {
			c.JSON(http.StatusNotFound, system.Fail(http.StatusNotFound, "Failed to revoke resource", err))
			return
		}
		h.fail(c, "handler.task.RevokeResource", agentID, "Failed to revoke resource", err)
		return
	}

	logger.LogBusinessOperation("revoke_resource", c.ClientIP(), c.GetString("request_id"), "success", "resource revoked", map[string]interface{}{
		"agent_id": agentID,
		"resource": resource.Name,
	})
	c.JSON(http.StatusOK, system.Success(http.StatusOK, "Resource revoked successfully", gin.H{
		"agent_id": agentID,
		"resource": resource.Name,
	}))
}

// GetAgentMetrics 代理执行统计 (完成数、平均耗时、成功率、最近活跃)
// 路由: GET /api/v1/agents/:id/metrics
func (h *AgentHandler) GetAgentMetrics(c *gin.Context) {
	ctx := c.Request.Context()
	agentID := c.Param("id")

	agent, err := h.agentRepo.GetByAgentID(ctx, agentID)
	if err != nil {
		if errors.Is(err, orcModel.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, system.Fail(http.StatusNotFound, "Agent not found", err))
			return
		}
		h.fail(c, "handler.task.GetAgentMetrics", agentID, "Failed to fetch agent", err)
		return
	}

	stats, err := h.taskRepo.AgentResultStats(ctx, agentID)
	if err != nil {
		h.fail(c, "handler.task.GetAgentMetrics", agentID, "Failed to aggregate results", err)
		return
	}
	c.JSON(http.StatusOK, system.Success(http.StatusOK, "Agent metrics fetched successfully",
		orcModel.NewAgentMetrics(agentID, stats, agent.LastActive)))
}

// lookupAccess 校验代理存在并按名称查找资源，失败时已写入响应
func (h *AgentHandler) lookupAccess(c *gin.Context, op, agentID, resourceName string) (*orcModel.Resource, bool) {
	ctx := c.Request.Context()
	if _, err := h.agentRepo.GetByAgentID(ctx, agentID); err != nil {
		if errors.Is(err, orcModel.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, system.Fail(http.StatusNotFound, "Agent not found", err))
			return nil, false
		}
		h.fail(c, op, agentID, "Failed to fetch agent", err)
		return nil, false
	}

	resource, err := h.resRepo.GetByName(ctx, resourceName)
	if err != nil {
		h.fail(c, op, agentID, "Failed to fetch resource", err)
		return nil, false
	}
	if resource == nil {
		c.JSON(http.StatusNotFound, system.Fail(http.StatusNotFound, "Resource not found", orcModel.ErrResourceNotFound))
		return nil, false
	}
	return resource, true
}

// fail 记录并返回 500
func (h *AgentHandler) fail(c *gin.Context, op, agentID, message string, err error) {
	logger.LogError(err, op, "REPO", map[string]interface{}{"agent_id": agentID})
	c.JSON(http.StatusInternalServerError, system.Fail(http.StatusInternalServerError, message, err))
}

// ListAgents 注册表快照
// 路由: GET /api/v1/agents
func (h *AgentHandler) ListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, system.Success(http.StatusOK, "Agents fetched successfully", h.registry.Agents(c.Request.Context())))
}

// UpdateAgentStatus 显式修改代理状态
// 路由: PUT /api/v1/agents/:id/status
func (h *AgentHandler) UpdateAgentStatus(c *gin.Context) {
	agentID := c.Param("id")

	var req orcModel.UpdateAgentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, system.Fail(http.StatusBadRequest, "Invalid request body", err))
		return
	}

	if err := h.registry.SetAgentStatus(c.Request.Context(), agentID, req.Status); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, orcModel.ErrAgentNotFound):
			status = http.StatusNotFound
		case orcModel.IsKind(err, orcModel.KindConfiguration):
			status = http.StatusBadRequest
		default:
			logger.LogError(err, "handler.task.UpdateAgentStatus", "REPO", map[string]interface{}{"agent_id": agentID})
		}
		c.JSON(status, system.Fail(status, "Failed to update agent status", err))
		return
	}

	logger.LogBusinessOperation("update_agent_status", c.ClientIP(), c.GetString("request_id"), "success", "agent status updated", map[string]interface{}{
		"agent_id": agentID,
		"status":   string(req.Status),
	})
	c.JSON(http.StatusOK, system.Success(http.StatusOK, "Agent status updated successfully", gin.H{
		"agent_id": agentID,
		"status":   req.Status,
	}))
}
