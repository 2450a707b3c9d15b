/**
 * 模型:Task 任务
 * @date: 2026.10.17
 * @description: 任务实体，承载两套状态机：
 *   即时分发: pending -> assigned -> running -> completed|failed|canceled
 *   周期调度: scheduled -> running -> completed|failed -> scheduled
 */
package orchestrator

import (
	"time"

	"neotask/internal/model/basemodel"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusAssigned  TaskStatus = "assigned"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCanceled  TaskStatus = "canceled"
	TaskStatusScheduled TaskStatus = "scheduled"
)

// IsTerminal 终态不会被任何循环自动改回
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCanceled
}

// TaskType 任务类型
type TaskType string

const (
	TaskTypeRepository TaskType = "repository"
	TaskTypeFilesystem TaskType = "filesystem"
	TaskTypeProcess    TaskType = "process"
	TaskTypeWeb        TaskType = "web"

	// 认知类子类型 (文本生成后端)
	TaskTypeSummarize TaskType = "summarize"
	TaskTypeAnalyze   TaskType = "analyze"
	TaskTypeReport    TaskType = "report"
	TaskTypeMonitor   TaskType = "monitor"
	TaskTypeAlert     TaskType = "alert"
)

// Valid 判断任务类型是否合法
func (t TaskType) Valid() bool {
	return t.ResourceType() != "" || t.IsCognitive()
}

// IsCognitive 是否为认知类任务
func (t TaskType) IsCognitive() bool {
	switch t {
	case TaskTypeSummarize, TaskTypeAnalyze, TaskTypeReport, TaskTypeMonitor, TaskTypeAlert:
		return true
	}
	return false
}

// ResourceType 任务类型对应需要授权的资源类型，认知类任务返回空
func (t TaskType) ResourceType() ResourceType {
	switch t {
	case TaskTypeRepository:
		return ResourceRepository
	case TaskTypeFilesystem:
		return ResourceFilesystem
	case TaskTypeProcess:
		return ResourceProcess
	case TaskTypeWeb:
		return ResourceWeb
	}
	return ""
}

// Frequency 周期频率
type Frequency string

const (
	FrequencyOnce   Frequency = "once"
	FrequencyHourly Frequency = "hourly"
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
	FrequencyCron   Frequency = "cron"
)

// TaskSchedule 周期规则
type TaskSchedule struct {
	Frequency  Frequency  `json:"frequency" yaml:"frequency"`
	TimeOfDay  string     `json:"time_of_day,omitempty" yaml:"time_of_day"`   // HH:mm
	DaysOfWeek []int      `json:"days_of_week,omitempty" yaml:"days_of_week"` // 0=周日
	StartDate  *time.Time `json:"start_date,omitempty" yaml:"start_date"`
	EndDate    *time.Time `json:"end_date,omitempty" yaml:"end_date"`
	Cron       string     `json:"cron,omitempty" yaml:"cron"` // 标准5段表达式，frequency=cron 时使用
}

// IsRecurring 非 once 的规则在每次运行后回到 scheduled
func (s *TaskSchedule) IsRecurring() bool {
	return s != nil && s.Frequency != "" && s.Frequency != FrequencyOnce
}

// ResourceRequirement 任务所需的资源描述
type ResourceRequirement struct {
	Type   ResourceType `json:"type" yaml:"type"`
	Action string       `json:"action" yaml:"action"`
}

// Task 任务实体
type Task struct {
	basemodel.BaseModel

	TaskID      string     `json:"task_id" gorm:"uniqueIndex;not null;size:64;comment:任务唯一标识"`
	ProjectID   string     `json:"project_id,omitempty" gorm:"index;size:64;comment:所属项目"`
	Title       string     `json:"title" gorm:"size:200;not null;comment:标题"`
	Description string     `json:"description" gorm:"type:text;comment:描述"`
	Type        TaskType   `json:"type" gorm:"size:20;index;not null;comment:任务类型"`
	Action      string     `json:"action" gorm:"size:50;comment:操作(clone/create_pr/read/write/delete/execute/search/scrape/monitor)"`
	Status      TaskStatus `json:"status" gorm:"size:20;index;default:'pending';comment:任务状态"`
	Priority    int        `json:"priority" gorm:"default:0;index;comment:优先级(越大越先)"`

	RequiredCapabilities basemodel.StringSlice `json:"required_capabilities" gorm:"type:json;comment:所需能力(JSON)"`
	RequiredResources    []ResourceRequirement `json:"required_resources" gorm:"type:json;serializer:json;comment:所需资源(JSON)"`
	Config               basemodel.JSONMap     `json:"config" gorm:"type:json;comment:类型相关配置(JSON)"`
	Input                basemodel.JSONMap     `json:"input" gorm:"type:json;comment:认知任务输入(JSON)"`

	AgentID        string     `json:"agent_id,omitempty" gorm:"index;size:100;comment:执行代理ID"`
	NextAttempt    *time.Time `json:"next_attempt,omitempty" gorm:"index;comment:最早可分发时间"`
	TimeoutSeconds int        `json:"timeout_seconds" gorm:"default:0;comment:执行超时(秒)，0表示使用代理配置"`

	Schedule *TaskSchedule `json:"schedule,omitempty" gorm:"type:json;serializer:json;comment:周期规则(JSON)"`
	NextRun  *time.Time    `json:"next_run,omitempty" gorm:"index;comment:下次运行时间"`
	LastRun  *time.Time    `json:"last_run,omitempty" gorm:"comment:上次运行时间"`

	AssignedAt *time.Time `json:"assigned_at,omitempty" gorm:"comment:分配时间"`
	StartedAt  *time.Time `json:"started_at,omitempty" gorm:"comment:开始执行时间"`
	FinishedAt *time.Time `json:"finished_at,omitempty" gorm:"comment:完成时间"`
}

// TableName 定义表名
func (Task) TableName() string {
	return "tasks"
}

// Timeout 任务超时：任务配置优先，其次代理配置，最后回退默认值
func (t *Task) Timeout(agentCfg AgentConfig, fallback time.Duration) time.Duration {
	if t.TimeoutSeconds > 0 {
		return time.Duration(t.TimeoutSeconds) * time.Second
	}
	if agentCfg.TimeoutSeconds > 0 {
		return time.Duration(agentCfg.TimeoutSeconds) * time.Second
	}
	return fallback
}

// TaskResult 任务结果历史 (只追加)
type TaskResult struct {
	basemodel.BaseModel

	TaskID     string    `json:"task_id" gorm:"index;not null;size:64;comment:任务ID"`
	AgentID    string    `json:"agent_id,omitempty" gorm:"size:100;comment:执行代理ID"`
	Timestamp  time.Time `json:"timestamp" gorm:"index;comment:结果时间"`
	Success    bool      `json:"success" gorm:"comment:是否成功"`
	Output     string    `json:"output,omitempty" gorm:"type:text;comment:输出(JSON)"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty" gorm:"size:40;comment:错误类别"`
	Error      string    `json:"error,omitempty" gorm:"type:text;comment:错误信息"`
	ExitCode   *int      `json:"exit_code,omitempty" gorm:"comment:进程退出码"`
	Stderr     string    `json:"stderr,omitempty" gorm:"type:text;comment:标准错误输出"`
	DurationMs int64     `json:"duration_ms" gorm:"comment:执行耗时(毫秒)"`
}

// TableName 定义表名
func (TaskResult) TableName() string {
	return "task_results"
}

// AllModels 需要迁移的全部模型
func AllModels() []interface{} {
	return []interface{}{&Agent{}, &AgentResource{}, &Resource{}, &Task{}, &TaskResult{}}
}
