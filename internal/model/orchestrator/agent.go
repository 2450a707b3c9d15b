/**
 * 模型:Agent 执行代理
 * @date: 2026.10.17
 * @description: 代理身份、能力标签、并发配置与资源授权
 */
package orchestrator

import (
	"time"

	"neotask/internal/model/basemodel"
)

// AgentStatus 代理状态
type AgentStatus string

const (
	AgentStatusAvailable AgentStatus = "available" // 可接收任务
	AgentStatusBusy      AgentStatus = "busy"      // 显式标记为忙碌，不接收新任务
	AgentStatusOffline   AgentStatus = "offline"   // 离线
)

// Valid 判断状态值是否合法
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusAvailable, AgentStatusBusy, AgentStatusOffline:
		return true
	}
	return false
}

// AgentType 代理类型
type AgentType string

const (
	AgentTypeTask      AgentType = "task"
	AgentTypeAssistant AgentType = "assistant"
	AgentTypeSystem    AgentType = "system"
)

// 代理配置默认值
const (
	DefaultMaxConcurrentTasks = 1
	DefaultAgentTimeoutSecond = 30
	DefaultRetryAttempts      = 3
)

// AgentConfig 代理运行配置
// RetryAttempts 仅作记录，编排层不自动重试
type AgentConfig struct {
	MaxConcurrentTasks int `json:"max_concurrent_tasks"` // 最大并发任务数
	TimeoutSeconds     int `json:"timeout_seconds"`      // 单任务执行超时(秒)
	RetryAttempts      int `json:"retry_attempts"`       // 重试次数
}

// WithDefaults 返回补全默认值后的配置
func (c AgentConfig) WithDefaults() AgentConfig {
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = DefaultAgentTimeoutSecond
	}
	if c.RetryAttempts < 0 {
		c.RetryAttempts = 0
	}
	return c
}

// Agent 执行代理实体
type Agent struct {
	basemodel.BaseModel

	AgentID      string                `json:"agent_id" gorm:"uniqueIndex;not null;size:100;comment:代理唯一标识"`
	Name         string                `json:"name" gorm:"size:100;not null;comment:代理名称"`
	Description  string                `json:"description" gorm:"type:text;comment:描述"`
	Type         AgentType             `json:"type" gorm:"size:20;default:'task';comment:代理类型(task/assistant/system)"`
	Status       AgentStatus           `json:"status" gorm:"size:20;default:'offline';index;comment:代理状态(available/busy/offline)"`
	Capabilities basemodel.StringSlice `json:"capabilities" gorm:"type:json;comment:能力标签(JSON)"`
	Config       AgentConfig           `json:"config" gorm:"type:json;serializer:json;comment:运行配置(JSON)"`
	LastActive   *time.Time            `json:"last_active" gorm:"comment:最近活跃时间"`
}

// TableName 定义表名
func (Agent) TableName() string {
	return "agents"
}

// HasCapabilities 代理能力集合是否包含全部所需能力
func (a *Agent) HasCapabilities(required []string) bool {
	for _, c := range required {
		if !a.Capabilities.Contains(c) {
			return false
		}
	}
	return true
}

// Permission 授权级别
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
	PermissionFull  Permission = "full"
)

// Valid 判断授权级别是否合法
func (p Permission) Valid() bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionAdmin, PermissionFull:
		return true
	}
	return false
}

// AgentResource 代理与资源的授权关系
type AgentResource struct {
	basemodel.BaseModel

	AgentID      string       `json:"agent_id" gorm:"index;not null;size:100;comment:代理ID"`
	ResourceID   uint64       `json:"resource_id" gorm:"index;not null;comment:资源ID"`
	ResourceType ResourceType `json:"resource_type" gorm:"size:20;comment:资源类型"`
	Permission   Permission   `json:"permission" gorm:"size:20;default:'read';comment:授权级别(read/write/admin/full)"`
}

// TableName 定义表名
func (AgentResource) TableName() string {
	return "agent_resources"
}
