package orchestrator

import "neotask/internal/model/basemodel"

// ResourceType 资源类型
type ResourceType string

const (
	ResourceRepository ResourceType = "repository"
	ResourceFilesystem ResourceType = "filesystem"
	ResourceProcess    ResourceType = "process"
	ResourceWeb        ResourceType = "web"
)

// PathRule 允许访问的路径及权限 (read/write/execute)
type PathRule struct {
	Path        string   `json:"path" yaml:"path"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

// CommandRule 允许执行的命令前缀
type CommandRule struct {
	Command     string   `json:"command" yaml:"command"`
	Arguments   []string `json:"arguments,omitempty" yaml:"arguments"`
	Description string   `json:"description,omitempty" yaml:"description"`
}

// RepositoryRule 允许访问的仓库及权限 (read/write)
type RepositoryRule struct {
	URL         string   `json:"url" yaml:"url"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

// ResourceConfig 资源的类型相关配置
type ResourceConfig struct {
	AllowedPaths    []PathRule       `json:"allowed_paths,omitempty" yaml:"allowed_paths"`
	AllowedCommands []CommandRule    `json:"allowed_commands,omitempty" yaml:"allowed_commands"`
	Repositories    []RepositoryRule `json:"repositories,omitempty" yaml:"repositories"`
	AllowedDomains  []string         `json:"allowed_domains,omitempty" yaml:"allowed_domains"`
	BasePath        string           `json:"base_path,omitempty" yaml:"base_path"`
}

// Resource 可授权资源实体
// Credentials 到达本系统时已解密 (如 github_token)
type Resource struct {
	basemodel.BaseModel

	Name        string            `json:"name" gorm:"size:100;not null;comment:资源名称"`
	Description string            `json:"description" gorm:"type:text;comment:描述"`
	Type        ResourceType      `json:"type" gorm:"size:20;index;not null;comment:资源类型(repository/filesystem/process/web)"`
	Config      ResourceConfig    `json:"config" gorm:"type:json;serializer:json;comment:资源配置(JSON)"`
	Credentials map[string]string `json:"-" gorm:"type:json;serializer:json;comment:凭据(JSON)"`
}

// TableName 定义表名
func (Resource) TableName() string {
	return "resources"
}

// Grant 代理对某个资源的已解析授权
type Grant struct {
	ResourceID  uint64            `json:"resource_id"`
	Type        ResourceType      `json:"type"`
	Permission  Permission        `json:"permission"`
	Config      ResourceConfig    `json:"config"`
	Credentials map[string]string `json:"-"`
}

// Credential 读取凭据
func (g Grant) Credential(key string) string {
	if g.Credentials == nil {
		return ""
	}
	return g.Credentials[key]
}

// GrantsOfType 按资源类型过滤授权
func GrantsOfType(grants []Grant, t ResourceType) []Grant {
	out := make([]Grant, 0, len(grants))
	for _, g := range grants {
		if g.Type == t {
			out = append(out, g)
		}
	}
	return out
}
