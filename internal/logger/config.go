package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// LoggerConfig 完整的日志配置结构
type LoggerConfig struct {
	Logger       Config                       `yaml:"logger"`
	Environments map[string]EnvironmentConfig `yaml:"environments"`
	Modules      map[string]ModuleConfig      `yaml:"modules"`
	Rotation     RotationConfig               `yaml:"rotation"`
	Filters      FiltersConfig                `yaml:"filters"`
}

// EnvironmentConfig 环境特定配置
type EnvironmentConfig struct {
	Logger Config `yaml:"logger"`
}

// ModuleConfig 模块特定配置
type ModuleConfig struct {
	Level        LogLevel `yaml:"level"`
	SeparateFile bool     `yaml:"separate_file"`
	Filename     string   `yaml:"filename"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	Strategy      string `yaml:"strategy"`
	SizeThreshold int    `yaml:"size_threshold"`
	TimeInterval  string `yaml:"time_interval"`
}

// FiltersConfig 日志过滤配置
type FiltersConfig struct {
	SensitiveFields []string `yaml:"sensitive_fields"`
	ExcludePaths    []string `yaml:"exclude_paths"`
}

// LoadConfig 从文件加载日志配置
func LoadConfig(configPath string) (*LoggerConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config LoggerConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	applyDefaults(&config)

	return &config, nil
}

// LoadConfigForEnvironment 为特定环境加载配置
func LoadConfigForEnvironment(configPath, environment string) (*Config, error) {
	loggerConfig, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	config := loggerConfig.Logger

	// 应用环境特定配置
	if envConfig, exists := loggerConfig.Environments[environment]; exists {
		mergeConfigs(&config, &envConfig.Logger)
	}

	return &config, nil
}

// GetModuleConfig 获取模块特定配置
func GetModuleConfig(loggerConfig *LoggerConfig, moduleName string) *ModuleConfig {
	if moduleConfig, exists := loggerConfig.Modules[moduleName]; exists {
		return &moduleConfig
	}
	return nil
}

// validateConfig 验证配置的有效性
func validateConfig(config *LoggerConfig) error {
	validLevels := map[LogLevel]bool{
		LevelTrace: true,
		LevelDebug: true,
		LevelInfo:  true,
		LevelWarn:  true,
		LevelError: true,
		LevelFatal: true,
		LevelPanic: true,
	}
	if config.Logger.Level != "" && !validLevels[config.Logger.Level] {
		return fmt.Errorf("invalid log level: %s", config.Logger.Level)
	}

	validFormats := map[LogFormat]bool{
		FormatJSON: true,
		FormatText: true,
	}
	if config.Logger.Format != "" && !validFormats[config.Logger.Format] {
		return fmt.Errorf("invalid log format: %s", config.Logger.Format)
	}

	validOutputs := map[string]bool{
		"":       true,
		"stdout": true,
		"stderr": true,
		"file":   true,
	}
	if !validOutputs[config.Logger.Output] {
		return fmt.Errorf("invalid output target: %s", config.Logger.Output)
	}

	if config.Logger.Output == "file" && config.Logger.Filename == "" {
		return fmt.Errorf("filename is required when output is 'file'")
	}

	if config.Rotation.Strategy != "" {
		validStrategies := map[string]bool{
			"size": true,
			"time": true,
			"both": true,
		}
		if !validStrategies[config.Rotation.Strategy] {
			return fmt.Errorf("invalid rotation strategy: %s", config.Rotation.Strategy)
		}
	}

	return nil
}

// applyDefaults 应用默认配置值
func applyDefaults(config *LoggerConfig) {
	if config.Logger.Level == "" {
		config.Logger.Level = LevelInfo
	}
	if config.Logger.Format == "" {
		config.Logger.Format = FormatJSON
	}
	if config.Logger.Output == "" {
		config.Logger.Output = "stdout"
	}
	if config.Logger.MaxSize == 0 {
		config.Logger.MaxSize = 100
	}
	if config.Logger.MaxAge == 0 {
		config.Logger.MaxAge = 30
	}
	if config.Logger.MaxBackups == 0 {
		config.Logger.MaxBackups = 10
	}

	if config.Rotation.Strategy == "" {
		config.Rotation.Strategy = "both"
	}
	if config.Rotation.SizeThreshold == 0 {
		config.Rotation.SizeThreshold = 100
	}
	if config.Rotation.TimeInterval == "" {
		config.Rotation.TimeInterval = "daily"
	}
}

// mergeConfigs 合并配置
func mergeConfigs(base *Config, override *Config) {
	if override.Level != "" {
		base.Level = override.Level
	}
	if override.Format != "" {
		base.Format = override.Format
	}
	if override.Output != "" {
		base.Output = override.Output
	}
	if override.Filename != "" {
		base.Filename = override.Filename
	}
	if override.MaxSize != 0 {
		base.MaxSize = override.MaxSize
	}
	if override.MaxAge != 0 {
		base.MaxAge = override.MaxAge
	}
	if override.MaxBackups != 0 {
		base.MaxBackups = override.MaxBackups
	}
	// 布尔值需要特殊处理，因为false是零值
	base.Compress = override.Compress
	base.Caller = override.Caller
	base.Timestamp = override.Timestamp
}

// CreateModuleLogger 为特定模块创建日志器
func CreateModuleLogger(loggerConfig *LoggerConfig, moduleName string) Logger {
	config := loggerConfig.Logger

	if moduleConfig := GetModuleConfig(loggerConfig, moduleName); moduleConfig != nil {
		if moduleConfig.Level != "" {
			config.Level = moduleConfig.Level
		}
		if moduleConfig.SeparateFile && moduleConfig.Filename != "" {
			config.Output = "file"
			config.Filename = moduleConfig.Filename
		}
	}

	logger := NewLogger(config)
	return logger.WithField("module", moduleName)
}

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	if path := os.Getenv("AQUANT_LOG_CONFIG"); path != "" {
		return path
	}

	possiblePaths := []string{
		"configs/logger.yaml",
		"config/logger.yaml",
		"/etc/aquant/logger.yaml",
		filepath.Join(os.Getenv("HOME"), ".aquant", "logger.yaml"),
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "configs/logger.yaml"
}

// InitFromConfig 从配置文件初始化全局日志器
func InitFromConfig(configPath string) error {
	config, err := LoadConfigForEnvironment(configPath, getEnvironment())
	if err != nil {
		return fmt.Errorf("failed to load logger config: %w", err)
	}

	Init(*config)
	return nil
}

// getEnvironment 获取当前环境
func getEnvironment() string {
	env := os.Getenv("AQUANT_ENV")
	if env == "" {
		env = os.Getenv("GO_ENV")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}
