package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	Queue     QueueConfig     `mapstructure:"queue"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, postgres, sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	DSN          string `mapstructure:"dsn"` // 设置后忽略上面的连接字段
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type LogConfig struct {
	Env   string `mapstructure:"env"`   // production 使用 JSON 输出
	Level string `mapstructure:"level"` // debug, info, warn, error
}

type QueueConfig struct {
	AnalysisQueue string `mapstructure:"analysis_queue"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// ProcessorConfig 增强分析后台处理器配置
type ProcessorConfig struct {
	MaxConcurrent            int `mapstructure:"max_concurrent"`
	PollIntervalSeconds      int `mapstructure:"poll_interval_seconds"`
	ProcessingTimeoutSeconds int `mapstructure:"processing_timeout_seconds"`
	BatchLimit               int `mapstructure:"batch_limit"`
}

// GeneratorConfig 自动生成任务配置
type GeneratorConfig struct {
	PausePollSeconds     int `mapstructure:"pause_poll_seconds"`
	MaxConsecutiveErrors int `mapstructure:"max_consecutive_errors"`
	OutlineBatchSize     int `mapstructure:"outline_batch_size"`
	DefaultVersions      int `mapstructure:"default_versions"`
}

// CleanupConfig AI 调用日志保留策略
type CleanupConfig struct {
	LogRetentionDays       int `mapstructure:"log_retention_days"`
	FailedLogRetentionDays int `mapstructure:"failed_log_retention_days"`
}

// Defaults 为未配置的字段填充默认值
func (c *Config) Defaults() *Config {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Queue.AnalysisQueue == "" {
		c.Queue.AnalysisQueue = "pending_analysis_queue"
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		c.RateLimit.RequestsPerMinute = 100
	}
	if c.Processor.MaxConcurrent <= 0 {
		c.Processor.MaxConcurrent = 3
	}
	if c.Processor.PollIntervalSeconds <= 0 {
		c.Processor.PollIntervalSeconds = 10
	}
	if c.Processor.ProcessingTimeoutSeconds <= 0 {
		c.Processor.ProcessingTimeoutSeconds = 600
	}
	if c.Processor.BatchLimit <= 0 {
		c.Processor.BatchLimit = 10
	}
	if c.Generator.PausePollSeconds <= 0 {
		c.Generator.PausePollSeconds = 10
	}
	if c.Generator.MaxConsecutiveErrors <= 0 {
		c.Generator.MaxConsecutiveErrors = 5
	}
	if c.Generator.OutlineBatchSize <= 0 {
		c.Generator.OutlineBatchSize = 10
	}
	if c.Generator.DefaultVersions <= 0 {
		c.Generator.DefaultVersions = 3
	}
	if c.Cleanup.LogRetentionDays <= 0 {
		c.Cleanup.LogRetentionDays = 30
	}
	if c.Cleanup.FailedLogRetentionDays <= 0 {
		c.Cleanup.FailedLogRetentionDays = 7
	}
	return c
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	// 供应商密钥（SILICONFLOW_API_KEY 等）可以放在 .env 中
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return cfg.Defaults(), nil
}
