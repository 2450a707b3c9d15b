package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	// GlobalConfig 全局配置实例
	GlobalConfig *Config
)

// envPrefix 环境变量前缀
const envPrefix = "NEOTASK"

// LoadConfig 加载配置文件
// configPath: 配置目录或配置文件路径，如果为空则使用默认路径
// env: 环境标识，支持 development, test, production
func LoadConfig(configPath, env string) (*Config, error) {
	// 1. 加载 .env (不存在时忽略)
	_ = godotenv.Load()

	// 设置默认环境
	if env == "" {
		env = getEnvFromEnvironment()
	}

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	// 2. 根据环境选择配置文件
	configFile := configPath
	if info, err := os.Stat(configPath); err == nil && info.IsDir() {
		configFile = getConfigFileName(configPath, env)
	}
	v.SetConfigFile(configFile)

	// 3. 环境变量覆盖
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvironmentVariables(v)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	GlobalConfig = &config
	return &config, nil
}

// getEnvFromEnvironment 从环境变量获取环境标识
func getEnvFromEnvironment() string {
	env := os.Getenv(envPrefix + "_ENV")
	if env == "" {
		env = os.Getenv("GO_ENV")
	}
	if env == "" {
		env = "development"
	}
	return env
}

// getDefaultConfigPath 获取默认配置文件路径
func getDefaultConfigPath() string {
	if configPath := os.Getenv(envPrefix + "_CONFIG_PATH"); configPath != "" {
		return configPath
	}
	return "configs"
}

// getConfigFileName 根据环境获取配置文件名
func getConfigFileName(configPath, env string) string {
	var configFile string

	switch env {
	case "production", "prod":
		configFile = filepath.Join(configPath, "config.prod.yaml")
	case "test", "testing":
		configFile = filepath.Join(configPath, "config.test.yaml")
	default:
		configFile = filepath.Join(configPath, "config.yaml")
	}

	// 环境专属文件不存在时回退到 config.yaml
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		defaultConfig := filepath.Join(configPath, "config.yaml")
		if _, err := os.Stat(defaultConfig); err == nil {
			return defaultConfig
		}
	}

	return configFile
}

// bindEnvironmentVariables 绑定环境变量
func bindEnvironmentVariables(v *viper.Viper) {
	// 数据库配置
	v.BindEnv("database.driver", envPrefix+"_DB_DRIVER")
	v.BindEnv("database.mysql.host", envPrefix+"_MYSQL_HOST")
	v.BindEnv("database.mysql.port", envPrefix+"_MYSQL_PORT")
	v.BindEnv("database.mysql.username", envPrefix+"_MYSQL_USERNAME")
	v.BindEnv("database.mysql.password", envPrefix+"_MYSQL_PASSWORD")
	v.BindEnv("database.mysql.database", envPrefix+"_MYSQL_DATABASE")

	v.BindEnv("database.redis.enabled", envPrefix+"_REDIS_ENABLED")
	v.BindEnv("database.redis.host", envPrefix+"_REDIS_HOST")
	v.BindEnv("database.redis.port", envPrefix+"_REDIS_PORT")
	v.BindEnv("database.redis.password", envPrefix+"_REDIS_PASSWORD")

	// 服务器配置
	v.BindEnv("server.host", envPrefix+"_SERVER_HOST")
	v.BindEnv("server.port", envPrefix+"_SERVER_PORT")
	v.BindEnv("server.mode", envPrefix+"_SERVER_MODE")

	// 文本生成后端
	v.BindEnv("llm.base_url", envPrefix+"_LLM_BASE_URL", "OLLAMA_HOST")
	v.BindEnv("llm.model", envPrefix+"_LLM_MODEL", "OLLAMA_MODEL")

	// 应用配置
	v.BindEnv("app.environment", envPrefix+"_APP_ENVIRONMENT")
	v.BindEnv("app.debug", envPrefix+"_APP_DEBUG")
}

// setDefaults 设置默认值，配置文件缺省的字段使用这里的值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.max_header_bytes", 1<<20)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.sqlite.path", "data/neotask.db")
	v.SetDefault("database.sqlite.log_level", "warn")
	v.SetDefault("database.mysql.charset", "utf8mb4")
	v.SetDefault("database.mysql.parse_time", true)
	v.SetDefault("database.mysql.loc", "Local")
	v.SetDefault("database.mysql.max_idle_conns", 10)
	v.SetDefault("database.mysql.max_open_conns", 100)
	v.SetDefault("database.mysql.conn_max_lifetime", time.Hour)
	v.SetDefault("database.mysql.log_level", "warn")
	v.SetDefault("database.redis.cancel_topic", "neotask:task:cancel")
	v.SetDefault("database.redis.pool_size", 10)
	v.SetDefault("database.redis.dial_timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)

	v.SetDefault("orchestrator.enabled", true)
	v.SetDefault("orchestrator.tick_interval", 5*time.Second)
	v.SetDefault("orchestrator.batch_size", 100)
	v.SetDefault("orchestrator.default_timeout", 30*time.Second)
	v.SetDefault("orchestrator.drain_timeout", 30*time.Second)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.tick_interval", time.Minute)
	v.SetDefault("scheduler.default_timeout", 5*time.Minute)
	v.SetDefault("scheduler.drain_timeout", 30*time.Second)

	v.SetDefault("executor.process.default_timeout", 30*time.Second)
	v.SetDefault("executor.process.max_output_bytes", 1<<20)
	v.SetDefault("executor.web.timeout", 30*time.Second)
	v.SetDefault("executor.web.user_agent", "Mozilla/5.0 (compatible; LocalAIBot/1.0)")
	v.SetDefault("executor.web.max_body_bytes", 5<<20)
	v.SetDefault("executor.repository.timeout", 30*time.Second)
	v.SetDefault("executor.repository.git_binary", "git")

	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.base_url", "http://localhost:11434")
	v.SetDefault("llm.model", "deepseek-coder:6.7b")
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("llm.temperature", 0.7)

	v.SetDefault("monitor.metrics.enabled", true)
	v.SetDefault("monitor.metrics.path", "/metrics")
	v.SetDefault("monitor.health.enabled", true)
	v.SetDefault("monitor.health.path", "/health")

	v.SetDefault("app.name", "neotask")
	v.SetDefault("app.environment", "development")
}

// validateConfig 验证配置
func validateConfig(config *Config) error {
	// 验证服务器配置
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	validModes := []string{"debug", "release", "test"}
	if !contains(validModes, config.Server.Mode) {
		return fmt.Errorf("invalid server mode: %s", config.Server.Mode)
	}

	// 验证数据库配置
	switch config.Database.Driver {
	case "mysql":
		if config.Database.MySQL.Host == "" {
			return fmt.Errorf("mysql host is required")
		}
		if config.Database.MySQL.Database == "" {
			return fmt.Errorf("mysql database name is required")
		}
	case "sqlite":
		if config.Database.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", config.Database.Driver)
	}
	if config.Database.Redis.Enabled && config.Database.Redis.Host == "" {
		return fmt.Errorf("redis host is required when redis is enabled")
	}

	// 验证日志配置
	validLogLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
	if !contains(validLogLevels, config.Log.Level) {
		return fmt.Errorf("invalid log level: %s", config.Log.Level)
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, config.Log.Format) {
		return fmt.Errorf("invalid log format: %s", config.Log.Format)
	}

	validLogOutputs := []string{"stdout", "stderr", "file"}
	if !contains(validLogOutputs, config.Log.Output) {
		return fmt.Errorf("invalid log output: %s", config.Log.Output)
	}

	if config.Log.Output == "file" && config.Log.FilePath == "" {
		return fmt.Errorf("log file path is required when output is file")
	}

	// 验证循环间隔
	if config.Orchestrator.TickInterval <= 0 {
		return fmt.Errorf("orchestrator tick_interval must be positive")
	}
	if config.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler tick_interval must be positive")
	}
	if config.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(config.Scheduler.Timezone); err != nil {
			return fmt.Errorf("invalid scheduler timezone %s: %w", config.Scheduler.Timezone, err)
		}
	}

	if config.LLM.Provider != "ollama" {
		return fmt.Errorf("unsupported llm provider: %s", config.LLM.Provider)
	}

	return nil
}

// contains 检查切片是否包含指定元素
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// GetConfig 获取全局配置
func GetConfig() *Config {
	return GlobalConfig
}

// MustLoadConfig 加载配置，如果失败则panic
func MustLoadConfig(configPath, env string) *Config {
	config, err := LoadConfig(configPath, env)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	return config
}
