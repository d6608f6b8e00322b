package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"aquant/internal/backtest"
)

// Config 应用配置
type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	JWT        JWTConfig        `yaml:"jwt"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	CORS       CORSConfig       `yaml:"cors"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Logging    LoggingConfig    `yaml:"logging"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Sweep      SweepConfig      `yaml:"sweep"`

	// Backtest 回测引擎默认配置，API请求可按字段覆盖
	Backtest backtest.Config `yaml:"backtest"`
}

// AppConfig 应用基础信息
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	DBName         string        `yaml:"dbname"`
	SSLMode        string        `yaml:"sslmode"`
	MaxOpen        int           `yaml:"max_open"`
	MaxIdle        int           `yaml:"max_idle"`
	Timeout        time.Duration `yaml:"timeout"`
	MigrationsPath string        `yaml:"migrations_path"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	SecretKey string        `yaml:"secret_key"`
	Duration  time.Duration `yaml:"duration"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPath    string `yaml:"prometheus_path"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

// RateLimitConfig API限流配置
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// IngestConfig 行情文件导入配置
type IngestConfig struct {
	DataDir     string `yaml:"data_dir"`
	RefreshCron string `yaml:"refresh_cron"` // 每日收盘后刷新
	CleanupCron string `yaml:"cleanup_cron"` // 过期会话与已完成任务清理
}

// SweepConfig 参数扫描配置
type SweepConfig struct {
	Workers      int           `yaml:"workers"`
	JobRetention time.Duration `yaml:"job_retention"`
}

// Default returns the built-in configuration. Every field can be overridden
// by the YAML file and then by QUANT_-prefixed environment variables.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:    "aquant",
			Version: "1.0.0",
			Env:     "development",
		},
		Server: ServerConfig{
			Port:           8080,
			Host:           "0.0.0.0",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   30 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           "aquant",
			Password:       "",
			DBName:         "aquant",
			SSLMode:        "disable",
			MaxOpen:        25,
			MaxIdle:        5,
			Timeout:        5 * time.Second,
			MigrationsPath: "migrations",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
		},
		JWT: JWTConfig{
			SecretKey: "",
			Duration:  24 * time.Hour,
		},
		Monitoring: MonitoringConfig{
			PrometheusEnabled: true,
			PrometheusPath:    "/metrics",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Origin", "Content-Type", "Authorization"},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 300,
			Burst:             50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File:   "logs/aquant.log",
		},
		Ingest: IngestConfig{
			DataDir:     "data/eod",
			RefreshCron: "0 30 17 * * 1-5", // 工作日17:30
			CleanupCron: "0 0 3 * * *",
		},
		Sweep: SweepConfig{
			Workers:      4,
			JobRetention: 24 * time.Hour,
		},
		Backtest: *backtest.DefaultConfig(),
	}
}

// Load 从YAML文件加载配置并叠加环境变量
func Load(filename string) (*Config, error) {
	config := Default()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.ApplyEnv(NewEnvManager("", ""))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overlays environment variables onto the loaded configuration.
// Secrets (database password, JWT key, Redis password) accept ENC: values.
func (c *Config) ApplyEnv(em *EnvManager) {
	c.App.Env = em.GetString("APP_ENV", c.App.Env)

	c.Server.Host = em.GetString("SERVER_HOST", c.Server.Host)
	c.Server.Port = em.GetInt("SERVER_PORT", c.Server.Port)

	c.Database.Host = em.GetString("DATABASE_HOST", c.Database.Host)
	c.Database.Port = em.GetInt("DATABASE_PORT", c.Database.Port)
	c.Database.User = em.GetString("DATABASE_USER", c.Database.User)
	c.Database.Password = em.GetEncryptedString("DATABASE_PASSWORD", c.Database.Password)
	c.Database.DBName = em.GetString("DATABASE_NAME", c.Database.DBName)
	c.Database.SSLMode = em.GetString("DATABASE_SSLMODE", c.Database.SSLMode)

	c.Redis.Addr = em.GetString("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = em.GetEncryptedString("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = em.GetInt("REDIS_DB", c.Redis.DB)

	c.JWT.SecretKey = em.GetEncryptedString("JWT_SECRET", c.JWT.SecretKey)
	c.JWT.Duration = em.GetDuration("JWT_DURATION", c.JWT.Duration)

	c.Logging.Level = em.GetString("LOG_LEVEL", c.Logging.Level)

	c.Ingest.DataDir = em.GetString("INGEST_DATA_DIR", c.Ingest.DataDir)

	c.Sweep.Workers = em.GetInt("SWEEP_WORKERS", c.Sweep.Workers)
}

// Validate 校验配置基本合法性
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Sweep.Workers <= 0 {
		return fmt.Errorf("sweep workers must be positive: %d", c.Sweep.Workers)
	}
	if err := c.Backtest.Validate(); err != nil {
		return fmt.Errorf("invalid backtest defaults: %w", err)
	}
	return nil
}

// IsProduction reports whether the app runs in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
