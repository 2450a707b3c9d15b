/**
 * 路由:控制接口路由管理器
 * @date: 2026.10.17
 * @description: 任务、代理接口挂在 /api/v1 下，另有健康检查与 Prometheus 指标接口
 */
package master

import (
	"context"
	"net/http"
	"time"

	"neotask/internal/config"
	taskHandler "neotask/internal/handler/task"
	"neotask/internal/model/system"
	"neotask/internal/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessCheck 依赖就绪检查 (数据库、Redis 等)
type ReadinessCheck func(ctx context.Context) error

// Router 路由管理器
type Router struct {
	config       *config.Config
	engine       *gin.Engine
	taskHandler  *taskHandler.TaskHandler
	agentHandler *taskHandler.AgentHandler
	gatherer     prometheus.Gatherer
	ready        ReadinessCheck
}

// NewRouter 创建路由管理器；gatherer 为 nil 时使用默认注册表
func NewRouter(
	cfg *config.Config,
	tasks *taskHandler.TaskHandler,
	agents *taskHandler.AgentHandler,
	gatherer prometheus.Gatherer,
	ready ReadinessCheck,
) *Router {
	switch cfg.Server.Mode {
	case gin.ReleaseMode, gin.TestMode, gin.DebugMode:
		gin.SetMode(cfg.Server.Mode)
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	engine := gin.New()
	engine.Use(RequestIDMiddleware(), LoggingMiddleware(), RecoveryMiddleware())

	return &Router{
		config:       cfg,
		engine:       engine,
		taskHandler:  tasks,
		agentHandler: agents,
		gatherer:     gatherer,
		ready:        ready,
	}
}

// SetupRoutes 注册全部路由
func (r *Router) SetupRoutes() {
	healthPath := r.config.Monitor.Health.Path
	if healthPath == "" {
		healthPath = "/health"
	}
	r.engine.GET(healthPath, r.healthCheck)
	r.engine.GET("/ready", r.readinessCheck)

	if r.config.Monitor.Metrics.Enabled {
		metricsPath := r.config.Monitor.Metrics.Path
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.engine.GET(metricsPath, gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.engine.Group("/api/v1")
	{
		tasks := v1.Group("/tasks")
		tasks.POST("", r.taskHandler.SubmitTask)
		tasks.GET("", r.taskHandler.ListTasks)
		tasks.GET("/:id", r.taskHandler.GetTask)
		tasks.POST("/:id/cancel", r.taskHandler.CancelTask)

		agents := v1.Group("/agents")
		agents.POST("", r.agentHandler.CreateAgent)
		agents.GET("", r.agentHandler.ListAgents)
		agents.PUT("/:id/status", r.agentHandler.UpdateAgentStatus)
		agents.POST("/:id/resources", r.agentHandler.GrantResource)
		agents.DELETE("/:id/resources", r.agentHandler.RevokeResource)
		agents.GET("/:id/metrics", r.agentHandler.GetAgentMetrics)
	}
}

// GetEngine 获取 gin 引擎
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

// healthCheck 存活检查
func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": logger.FormatTimestamp(time.Now()),
	})
}

// readinessCheck 就绪检查
func (r *Router) readinessCheck(c *gin.Context) {
	if r.ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := r.ready(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, system.Fail(http.StatusServiceUnavailable, "not ready", err))
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": logger.FormatTimestamp(time.Now()),
	})
}
