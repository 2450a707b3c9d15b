package config

import (
	"fmt"
	"time"
)

// Config 应用配置结构体 [这里的字段和配置文件中一级字段保持一致，否则会没有值]
type Config struct {
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`             // 服务器配置
	Database     DatabaseConfig     `yaml:"database" mapstructure:"database"`         // 数据库配置
	Log          LogConfig          `yaml:"log" mapstructure:"log"`                   // 日志配置
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"` // 编排器配置
	Scheduler    SchedulerConfig    `yaml:"scheduler" mapstructure:"scheduler"`       // 周期调度配置
	Executor     ExecutorConfig     `yaml:"executor" mapstructure:"executor"`         // 执行器配置
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`                   // 文本生成后端配置
	Monitor      MonitorConfig      `yaml:"monitor" mapstructure:"monitor"`           // 监控配置
	App          AppConfig          `yaml:"app" mapstructure:"app"`                   // 应用配置
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host           string        `yaml:"host" mapstructure:"host"`                         // 服务器主机地址
	Port           int           `yaml:"port" mapstructure:"port"`                         // 服务器端口
	Mode           string        `yaml:"mode" mapstructure:"mode"`                         // 运行模式: debug, release, test
	ReadTimeout    time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`         // 读取超时时间
	WriteTimeout   time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`       // 写入超时时间
	IdleTimeout    time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`         // 空闲超时时间
	MaxHeaderBytes int           `yaml:"max_header_bytes" mapstructure:"max_header_bytes"` // 最大请求头字节数
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string       `yaml:"driver" mapstructure:"driver"` // 存储驱动: mysql, sqlite
	MySQL  MySQLConfig  `yaml:"mysql" mapstructure:"mysql"`   // MySQL配置
	SQLite SQLiteConfig `yaml:"sqlite" mapstructure:"sqlite"` // SQLite配置 (单机/开发)
	Redis  RedisConfig  `yaml:"redis" mapstructure:"redis"`   // Redis配置
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path     string `yaml:"path" mapstructure:"path"`           // 数据库文件路径
	LogLevel string `yaml:"log_level" mapstructure:"log_level"` // 日志级别
}

// MySQLConfig MySQL数据库配置
type MySQLConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`                             // 数据库主机
	Port            int           `yaml:"port" mapstructure:"port"`                             // 数据库端口
	Username        string        `yaml:"username" mapstructure:"username"`                     // 用户名
	Password        string        `yaml:"password" mapstructure:"password"`                     // 密码
	Database        string        `yaml:"database" mapstructure:"database"`                     // 数据库名
	Charset         string        `yaml:"charset" mapstructure:"charset"`                       // 字符集
	ParseTime       bool          `yaml:"parse_time" mapstructure:"parse_time"`                 // 是否解析时间
	Loc             string        `yaml:"loc" mapstructure:"loc"`                               // 时区
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`         // 最大空闲连接数
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`         // 最大打开连接数
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`   // 连接最大生存时间
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"` // 连接最大空闲时间
	LogLevel        string        `yaml:"log_level" mapstructure:"log_level"`                   // 日志级别
}

// RedisConfig Redis配置
// Redis 只承担跨进程的任务取消广播，关闭时仅进程内取消生效
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`               // 是否启用
	Host         string        `yaml:"host" mapstructure:"host"`                     // Redis主机
	Port         int           `yaml:"port" mapstructure:"port"`                     // Redis端口
	Password     string        `yaml:"password" mapstructure:"password"`             // Redis密码
	Database     int           `yaml:"database" mapstructure:"database"`             // Redis数据库索引
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`           // 连接池大小
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"` // 最小空闲连接数
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`     // 连接超时
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`     // 读取超时
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`   // 写入超时
	PoolTimeout  time.Duration `yaml:"pool_timeout" mapstructure:"pool_timeout"`     // 连接池超时
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`     // 空闲超时
	CancelTopic  string        `yaml:"cancel_topic" mapstructure:"cancel_topic"`     // 任务取消广播频道
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`             // 日志级别
	Format     string `yaml:"format" mapstructure:"format"`           // 日志格式: json, text
	Output     string `yaml:"output" mapstructure:"output"`           // 输出方式: stdout, stderr, file
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`     // 日志文件路径
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // 单个日志文件最大大小(MB)
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // 保留的日志文件数量
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // 日志文件保留天数
	Compress   bool   `yaml:"compress" mapstructure:"compress"`       // 是否压缩日志文件
	Caller     bool   `yaml:"caller" mapstructure:"caller"`           // 是否显示调用者信息
}

// OrchestratorConfig 编排器配置 (即时分发循环)
type OrchestratorConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`                 // 是否启用
	TickInterval   time.Duration `yaml:"tick_interval" mapstructure:"tick_interval"`     // 轮询间隔，默认5s
	BatchSize      int           `yaml:"batch_size" mapstructure:"batch_size"`           // 单次tick最多读取的pending任务数
	DefaultTimeout time.Duration `yaml:"default_timeout" mapstructure:"default_timeout"` // 任务默认执行超时
	DrainTimeout   time.Duration `yaml:"drain_timeout" mapstructure:"drain_timeout"`     // 停机时等待执行中任务的最长时间
}

// SchedulerConfig 周期调度配置 (定时循环)
type SchedulerConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`                 // 是否启用
	TickInterval   time.Duration `yaml:"tick_interval" mapstructure:"tick_interval"`     // 轮询间隔，默认60s
	Timezone       string        `yaml:"timezone" mapstructure:"timezone"`               // 计算 time_of_day 使用的时区
	DefaultTimeout time.Duration `yaml:"default_timeout" mapstructure:"default_timeout"` // 单次运行默认超时
	DrainTimeout   time.Duration `yaml:"drain_timeout" mapstructure:"drain_timeout"`     // 停机时等待运行中任务的最长时间
}

// ExecutorConfig 执行器配置
type ExecutorConfig struct {
	ScratchDir string                   `yaml:"scratch_dir" mapstructure:"scratch_dir"` // 克隆等操作使用的临时工作目录
	Process    ProcessExecutorConfig    `yaml:"process" mapstructure:"process"`         // 进程执行器
	Web        WebExecutorConfig        `yaml:"web" mapstructure:"web"`                 // Web执行器
	Repository RepositoryExecutorConfig `yaml:"repository" mapstructure:"repository"`   // 代码仓库执行器
}

// ProcessExecutorConfig 进程执行器配置
type ProcessExecutorConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout" mapstructure:"default_timeout"`   // 未指定超时时使用的时长
	MaxOutputBytes int           `yaml:"max_output_bytes" mapstructure:"max_output_bytes"` // stdout/stderr 各自保留的最大字节数
}

// WebExecutorConfig Web执行器配置
type WebExecutorConfig struct {
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`               // 单次抓取超时
	UserAgent    string        `yaml:"user_agent" mapstructure:"user_agent"`         // 请求UA
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"` // 最大响应体
}

// RepositoryExecutorConfig 代码仓库执行器配置
type RepositoryExecutorConfig struct {
	APIBaseURL string        `yaml:"api_base_url" mapstructure:"api_base_url"` // 托管平台API地址 (为空则使用 api.github.com)
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`           // API 调用超时
	GitBinary  string        `yaml:"git_binary" mapstructure:"git_binary"`     // git 可执行文件
}

// LLMConfig 文本生成后端配置
type LLMConfig struct {
	Provider    string        `yaml:"provider" mapstructure:"provider"`       // 目前支持 ollama
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`       // 后端地址
	Model       string        `yaml:"model" mapstructure:"model"`             // 模型名称
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`         // 请求超时
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"` // 采样温度
}

// MonitorConfig 监控配置
type MonitorConfig struct {
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"` // 指标监控配置
	Health  HealthConfig  `yaml:"health" mapstructure:"health"`   // 健康检查配置
}

// MetricsConfig 指标监控配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"` // 是否启用指标监控
	Path    string `yaml:"path" mapstructure:"path"`       // 指标接口路径
}

// HealthConfig 健康检查配置
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"` // 是否启用健康检查
	Path    string `yaml:"path" mapstructure:"path"`       // 健康检查接口路径
}

// AppConfig 应用配置
type AppConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`               // 应用名称
	Version     string `yaml:"version" mapstructure:"version"`         // 应用版本
	Environment string `yaml:"environment" mapstructure:"environment"` // 运行环境
	Debug       bool   `yaml:"debug" mapstructure:"debug"`             // 是否调试模式
}

// GetAddress 获取服务器完整地址
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsDevelopment 判断是否为开发环境
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction 判断是否为生产环境
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// GetMySQLDSN 获取MySQL数据源名称
func (m *MySQLConfig) GetMySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
		m.Username, m.Password, m.Host, m.Port, m.Database, m.Charset, m.ParseTime, m.Loc)
}

// GetRedisAddress 获取Redis地址
func (r *RedisConfig) GetRedisAddress() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Location 返回调度器使用的时区，解析失败回退到本地时区
func (s *SchedulerConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
