/**
 * 代理仓库层
 * @date: 2026.10.17
 * @description: 代理的读取与状态回写，单纯数据访问
 */
package orchestrator

import (
	"context"
	"errors"
	"time"

	orcModel "neotask/internal/model/orchestrator"

	"gorm.io/gorm"
)

// AgentRepository 代理仓库接口
type AgentRepository interface {
	Create(ctx context.Context, agent *orcModel.Agent) error
	Save(ctx context.Context, agent *orcModel.Agent) error
	GetByAgentID(ctx context.Context, agentID string) (*orcModel.Agent, error)
	List(ctx context.Context) ([]*orcModel.Agent, error)
	UpdateStatus(ctx context.Context, agentID string, status orcModel.AgentStatus, lastActive time.Time) error
}

type agentRepository struct {
	db *gorm.DB
}

// NewAgentRepository 创建代理仓库
func NewAgentRepository(db *gorm.DB) AgentRepository {
	return &agentRepository{db: db}
}

// Create 创建代理
func (r *agentRepository) Create(ctx context.Context, agent *orcModel.Agent) error {
	return r.db.WithContext(ctx).Create(agent).Error
}

// Save 按 agent_id 新建或覆盖代理
func (r *agentRepository) Save(ctx context.Context, agent *orcModel.Agent) error {
	existing, err := r.GetByAgentID(ctx, agent.AgentID)
	if err != nil && !errors.Is(err, orcModel.ErrAgentNotFound) {
		return err
	}
	if existing != nil {
		agent.ID = existing.ID
		agent.CreatedAt = existing.CreatedAt
	}
	return r.db.WithContext(ctx).Save(agent).Error
}

// GetByAgentID 获取代理
func (r *agentRepository) GetByAgentID(ctx context.Context, agentID string) (*orcModel.Agent, error) {
	var agent orcModel.Agent
	err := r.db.WithContext(ctx).Where("agent_id = ?", agentID).First(&agent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, orcModel.ErrAgentNotFound
		}
		return nil, err
	}
	return &agent, nil
}

// List 获取全部代理，按主键排序保证首个匹配的顺序稳定
func (r *agentRepository) List(ctx context.Context) ([]*orcModel.Agent, error) {
	var agents []*orcModel.Agent
	err := r.db.WithContext(ctx).Order("id asc").Find(&agents).Error
	return agents, err
}

// UpdateStatus 回写代理状态与最近活跃时间
func (r *agentRepository) UpdateStatus(ctx context.Context, agentID string, status orcModel.AgentStatus, lastActive time.Time) error {
	result := r.db.WithContext(ctx).Model(&orcModel.Agent{}).
		Where("agent_id = ?", agentID).
		Updates(map[string]interface{}{
			"status":      status,
			"last_active": lastActive.UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return orcModel.ErrAgentNotFound
	}
	return nil
}
