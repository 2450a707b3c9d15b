package orchestrator

import "time"

// SubmitTaskRequest 提交任务请求
// 携带 schedule 且 frequency 非空的任务以 scheduled 状态创建，否则为 pending
type SubmitTaskRequest struct {
	Title                string                 `json:"title" binding:"required"`
	Description          string                 `json:"description"`
	Type                 TaskType               `json:"type" binding:"required"`
	Action               string                 `json:"action"`
	Priority             int                    `json:"priority"`
	RequiredCapabilities []string               `json:"required_capabilities"`
	RequiredResources    []ResourceRequirement  `json:"required_resources"`
	Config               map[string]interface{} `json:"config"`
	Input                map[string]interface{} `json:"input"`
	TimeoutSeconds       int                    `json:"timeout_seconds"`
	NotBefore            *time.Time             `json:"not_before"`
	Schedule             *TaskSchedule          `json:"schedule"`
	ProjectID            string                 `json:"project_id"`
}

// UpdateAgentStatusRequest 更新代理状态请求
type UpdateAgentStatusRequest struct {
	Status AgentStatus `json:"status" binding:"required"`
}

// CreateAgentRequest 创建代理请求
type CreateAgentRequest struct {
	AgentID      string      `json:"agent_id" binding:"required"`
	Name         string      `json:"name" binding:"required"`
	Description  string      `json:"description"`
	Type         AgentType   `json:"type"`
	Capabilities []string    `json:"capabilities"`
	Config       AgentConfig `json:"config"`
}

// ToAgent 转换为代理实体，补全默认值
func (r *CreateAgentRequest) ToAgent() *Agent {
	agentType := r.Type
	if agentType == "" {
		agentType = AgentTypeTask
	}
	return &Agent{
		AgentID:      r.AgentID,
		Name:         r.Name,
		Description:  r.Description,
		Type:         agentType,
		Status:       AgentStatusOffline,
		Capabilities: r.Capabilities,
		Config:       r.Config.WithDefaults(),
	}
}

// ResourceAccessRequest 授予/撤销资源请求，resource 为资源名称
// 授予时 permission 为空按 read 处理
type ResourceAccessRequest struct {
	Resource   string     `json:"resource" binding:"required"`
	Permission Permission `json:"permission"`
}

// ResultStats 按代理聚合的结果历史统计
type ResultStats struct {
	Total         int64      `json:"total"`
	Succeeded     int64      `json:"succeeded"`
	AvgDurationMs float64    `json:"avg_duration_ms"`
	LastResultAt  *time.Time `json:"last_result_at"`
}

// AgentMetrics 代理执行统计
type AgentMetrics struct {
	AgentID           string     `json:"agent_id"`
	TasksCompleted    int64      `json:"tasks_completed"`
	TasksFailed       int64      `json:"tasks_failed"`
	AverageDurationMs float64    `json:"average_task_duration_ms"`
	SuccessRate       float64    `json:"success_rate"`
	LastActive        *time.Time `json:"last_active"`
}

// NewAgentMetrics 由结果统计计算代理统计；没有结果时成功率为 0
func NewAgentMetrics(agentID string, stats *ResultStats, lastActive *time.Time) *AgentMetrics {
	m := &AgentMetrics{
		AgentID:           agentID,
		TasksCompleted:    stats.Succeeded,
		TasksFailed:       stats.Total - stats.Succeeded,
		AverageDurationMs: stats.AvgDurationMs,
		LastActive:        lastActive,
	}
	if stats.Total > 0 {
		m.SuccessRate = float64(stats.Succeeded) / float64(stats.Total)
	}
	// 最近一次结果晚于记录的活跃时间时以结果为准
	if stats.LastResultAt != nil && (m.LastActive == nil || stats.LastResultAt.After(*m.LastActive)) {
		m.LastActive = stats.LastResultAt
	}
	return m
}

// TaskDetailResponse 任务详情及结果历史
type TaskDetailResponse struct {
	Task    *Task         `json:"task"`
	Results []*TaskResult `json:"results"`
}

// AgentSnapshot 注册表中代理的运行时快照
type AgentSnapshot struct {
	AgentID      string      `json:"agent_id"`
	Name         string      `json:"name"`
	Status       AgentStatus `json:"status"`
	Capabilities []string    `json:"capabilities"`
	Grants       int         `json:"grants"`
	ActiveTasks  []string    `json:"active_tasks"`
	MaxTasks     int         `json:"max_concurrent_tasks"`
}
