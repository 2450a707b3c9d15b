package orchestrator

import (
	"context"

	orcModel "neotask/internal/model/orchestrator"

	"gorm.io/gorm"
)

// ResourceRepository 资源与授权仓库接口
type ResourceRepository interface {
	Create(ctx context.Context, resource *orcModel.Resource) error
	GetByName(ctx context.Context, name string) (*orcModel.Resource, error)
	GrantToAgent(ctx context.Context, link *orcModel.AgentResource) error
	RevokeFromAgent(ctx context.Context, agentID string, resourceID uint64) error
	ResolveGrants(ctx context.Context, agentID string) ([]orcModel.Grant, error)
	CountGrants(ctx context.Context, agentID string) (int64, error)
}

type resourceRepository struct {
	db *gorm.DB
}

// NewResourceRepository 创建资源仓库
func NewResourceRepository(db *gorm.DB) ResourceRepository {
	return &resourceRepository{db: db}
}

// Create 创建资源
func (r *resourceRepository) Create(ctx context.Context, resource *orcModel.Resource) error {
	return r.db.WithContext(ctx).Create(resource).Error
}

// GetByName 按名称获取资源，不存在时返回 nil
func (r *resourceRepository) GetByName(ctx context.Context, name string) (*orcModel.Resource, error) {
	var resources []*orcModel.Resource
	if err := r.db.WithContext(ctx).Where("name = ?", name).Limit(1).Find(&resources).Error; err != nil {
		return nil, err
	}
	if len(resources) == 0 {
		return nil, nil
	}
	return resources[0], nil
}

// GrantToAgent 给代理授予资源，同一 (代理, 资源) 只保留一条，重复授予时更新权限
func (r *resourceRepository) GrantToAgent(ctx context.Context, link *orcModel.AgentResource) error {
	var existing orcModel.AgentResource
	err := r.db.WithContext(ctx).
		Where("agent_id = ? AND resource_id = ?", link.AgentID, link.ResourceID).
		Limit(1).Find(&existing).Error
	if err != nil {
		return err
	}
	if existing.ID != 0 {
		link.ID = existing.ID
		link.CreatedAt = existing.CreatedAt
	}
	return r.db.WithContext(ctx).Save(link).Error
}

// RevokeFromAgent 撤销代理对资源的授权，没有授权时返回 ErrGrantNotFound
func (r *resourceRepository) RevokeFromAgent(ctx context.Context, agentID string, resourceID uint64) error {
	result := r.db.WithContext(ctx).
		Where("agent_id = ? AND resource_id = ?", agentID, resourceID).
		Delete(&orcModel.AgentResource{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return orcModel.ErrGrantNotFound
	}
	return nil
}

// ResolveGrants 解析代理的全部授权 (关联行的权限级别 + 资源的配置与凭据)
func (r *resourceRepository) ResolveGrants(ctx context.Context, agentID string) ([]orcModel.Grant, error) {
	var links []orcModel.AgentResource
	if err := r.db.WithContext(ctx).Where("agent_id = ?", agentID).Order("id asc").Find(&links).Error; err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, nil
	}

	ids := make([]uint64, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.ResourceID)
	}
	var resources []orcModel.Resource
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&resources).Error; err != nil {
		return nil, err
	}
	byID := make(map[uint64]orcModel.Resource, len(resources))
	for _, res := range resources {
		byID[res.ID] = res
	}

	grants := make([]orcModel.Grant, 0, len(links))
	for _, l := range links {
		res, ok := byID[l.ResourceID]
		if !ok {
			// 资源已删除的关联行忽略
			continue
		}
		grants = append(grants, orcModel.Grant{
			ResourceID:  res.ID,
			Type:        res.Type,
			Permission:  l.Permission,
			Config:      res.Config,
			Credentials: res.Credentials,
		})
	}
	return grants, nil
}

// CountGrants 代理的授权数
func (r *resourceRepository) CountGrants(ctx context.Context, agentID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&orcModel.AgentResource{}).Where("agent_id = ?", agentID).Count(&n).Error
	return n, err
}
