/**
 * 迁移与初始数据
 * @date: 2026.10.17
 * @description: AutoMigrate 全部模型；从 YAML 文件写入代理、资源、授权与初始任务。
 *   文件内容在解析前做环境变量展开，凭据可以写成 ${GITHUB_TOKEN}。
 */
package master

import (
	"context"
	"fmt"
	"os"
	"time"

	orcModel "neotask/internal/model/orchestrator"
	orcRepo "neotask/internal/repo/mysql/orchestrator"
	"neotask/internal/service/orchestrator/core/scheduler"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// SeedFile 初始数据文件
type SeedFile struct {
	Resources []SeedResource `yaml:"resources"`
	Agents    []SeedAgent    `yaml:"agents"`
	Tasks     []SeedTask     `yaml:"tasks"`
}

// SeedResource 资源定义
type SeedResource struct {
	Name        string                  `yaml:"name"`
	Description string                  `yaml:"description"`
	Type        orcModel.ResourceType   `yaml:"type"`
	Config      orcModel.ResourceConfig `yaml:"config"`
	Credentials map[string]string       `yaml:"credentials"`
}

// SeedAgent 代理定义及其授权
type SeedAgent struct {
	AgentID      string             `yaml:"agent_id"`
	Name         string             `yaml:"name"`
	Description  string             `yaml:"description"`
	Type         orcModel.AgentType `yaml:"type"`
	Capabilities []string           `yaml:"capabilities"`
	Config       struct {
		MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`
		TimeoutSeconds     int `yaml:"timeout_seconds"`
		RetryAttempts      int `yaml:"retry_attempts"`
	} `yaml:"config"`
	Grants []SeedGrant `yaml:"grants"`
}

// SeedGrant 授权：按资源名称引用
type SeedGrant struct {
	Resource   string              `yaml:"resource"`
	Permission orcModel.Permission `yaml:"permission"`
}

// SeedTask 初始任务
type SeedTask struct {
	Title                string                 `yaml:"title"`
	Description          string                 `yaml:"description"`
	Type                 orcModel.TaskType      `yaml:"type"`
	Action               string                 `yaml:"action"`
	Priority             int                    `yaml:"priority"`
	AgentID              string                 `yaml:"agent_id"`
	RequiredCapabilities []string               `yaml:"required_capabilities"`
	Config               map[string]interface{} `yaml:"config"`
	Input                map[string]interface{} `yaml:"input"`
	TimeoutSeconds       int                    `yaml:"timeout_seconds"`
	Schedule             *orcModel.TaskSchedule `yaml:"schedule"`
}

// SeedSummary 写入统计
type SeedSummary struct {
	Resources int
	Agents    int
	Grants    int
	Tasks     int
}

// Migrate 迁移全部模型，drop 为 true 时先删除表
func Migrate(db *gorm.DB, drop bool) error {
	models := orcModel.AllModels()
	if drop {
		if err := db.Migrator().DropTable(models...); err != nil {
			return fmt.Errorf("failed to drop tables: %w", err)
		}
	}
	for _, model := range models {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}
	return nil
}

// LoadSeedFile 读取初始数据文件
func LoadSeedFile(path string) (*SeedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed SeedFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return &seed, nil
}

// Seed 写入初始数据。资源按名称、代理按 agent_id 去重，可重复执行
// 任务每次执行都会新建
func Seed(ctx context.Context, db *gorm.DB, seed *SeedFile, loc *time.Location) (SeedSummary, error) {
	var summary SeedSummary
	resourceRepo := orcRepo.NewResourceRepository(db)
	agentRepo := orcRepo.NewAgentRepository(db)
	taskRepo := orcRepo.NewTaskRepository(db)

	resources := make(map[string]*orcModel.Resource, len(seed.Resources))
	for _, r := range seed.Resources {
		existing, err := resourceRepo.GetByName(ctx, r.Name)
		if err != nil {
			return summary, err
		}
		if existing == nil {
			existing = &orcModel.Resource{
				Name:        r.Name,
				Description: r.Description,
				Type:        r.Type,
				Config:      r.Config,
				Credentials: r.Credentials,
			}
			if err := resourceRepo.Create(ctx, existing); err != nil {
				return summary, fmt.Errorf("failed to create resource %s: %w", r.Name, err)
			}
			summary.Resources++
		}
		resources[r.Name] = existing
	}

	for _, a := range seed.Agents {
		agent := &orcModel.Agent{
			AgentID:      a.AgentID,
			Name:         a.Name,
			Description:  a.Description,
			Type:         a.Type,
			Status:       orcModel.AgentStatusOffline,
			Capabilities: a.Capabilities,
			Config: orcModel.AgentConfig{
				MaxConcurrentTasks: a.Config.MaxConcurrentTasks,
				TimeoutSeconds:     a.Config.TimeoutSeconds,
				RetryAttempts:      a.Config.RetryAttempts,
			}.WithDefaults(),
		}
		if agent.Type == "" {
			agent.Type = orcModel.AgentTypeTask
		}
		if err := agentRepo.Save(ctx, agent); err != nil {
			return summary, fmt.Errorf("failed to save agent %s: %w", a.AgentID, err)
		}
		summary.Agents++

		for _, g := range a.Grants {
			res, ok := resources[g.Resource]
			if !ok {
				return summary, fmt.Errorf("agent %s references unknown resource %s", a.AgentID, g.Resource)
			}
			permission := g.Permission
			if permission == "" {
				permission = orcModel.PermissionRead
			}
			if err := resourceRepo.GrantToAgent(ctx, &orcModel.AgentResource{
				AgentID:      a.AgentID,
				ResourceID:   res.ID,
				ResourceType: res.Type,
				Permission:   permission,
			}); err != nil {
				return summary, fmt.Errorf("failed to grant %s to %s: %w", g.Resource, a.AgentID, err)
			}
			summary.Grants++
		}
	}

	now := time.Now()
	for _, t := range seed.Tasks {
		if !t.Type.Valid() {
			return summary, fmt.Errorf("task %q has unsupported type %s", t.Title, t.Type)
		}
		task := &orcModel.Task{
			TaskID:               uuid.NewString(),
			Title:                t.Title,
			Description:          t.Description,
			Type:                 t.Type,
			Action:               t.Action,
			Status:               orcModel.TaskStatusPending,
			Priority:             t.Priority,
			AgentID:              t.AgentID,
			RequiredCapabilities: t.RequiredCapabilities,
			Config:               t.Config,
			Input:                t.Input,
			TimeoutSeconds:       t.TimeoutSeconds,
		}
		if t.Schedule != nil && t.Schedule.Frequency != "" {
			first, ok, err := scheduler.FirstRun(t.Schedule, now, loc)
			if err != nil {
				return summary, fmt.Errorf("task %q: %w", t.Title, err)
			}
			if !ok {
				continue
			}
			task.Status = orcModel.TaskStatusScheduled
			task.Schedule = t.Schedule
			task.NextRun = &first
		}
		if err := taskRepo.Create(ctx, task); err != nil {
			return summary, fmt.Errorf("failed to create task %q: %w", t.Title, err)
		}
		summary.Tasks++
	}
	return summary, nil
}
