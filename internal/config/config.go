// Package config loads process-wide configuration for the engine from
// environment variables and an optional YAML file, following the same
// viper-defaults-then-unmarshal shape the teacher's API server uses.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the engine's process-wide configuration.
type Config struct {
	LogLevel      string `mapstructure:"log_level"`
	BindAddress   string `mapstructure:"bind_address"`
	WorkspaceRoot string `mapstructure:"workspace_root"`

	MaxConcurrent  int `mapstructure:"max_concurrent"`
	MaxQueueSize   int `mapstructure:"max_queue_size"`
	RequestBodyLimit int64 `mapstructure:"request_body_limit"`

	CompileCPUTimeLimit  time.Duration `mapstructure:"compile_cpu_time_limit"`
	CompileWallTimeLimit time.Duration `mapstructure:"compile_wall_time_limit"`
	CompileMemoryLimit   int64         `mapstructure:"compile_memory_limit"`

	RunCPUTimeLimit   time.Duration `mapstructure:"run_cpu_time_limit"`
	RunWallTimeLimit  time.Duration `mapstructure:"run_wall_time_limit"`
	RunMemoryLimit    int64         `mapstructure:"run_memory_limit"`
	RunStackLimit     int64         `mapstructure:"run_stack_limit"`
	MaxProcessCount   int           `mapstructure:"max_process_count"`
	MaxFileSize       int64         `mapstructure:"max_file_size"`
	OutputMaxSizeBytes int64        `mapstructure:"output_max_size_bytes"`

	EnableNetworkDefault bool `mapstructure:"enable_network_default"`

	SandboxBackend string `mapstructure:"sandbox_backend"` // "direct" | "container" | "remote"
	ContainerImage string `mapstructure:"container_image"`
	RemoteEndpoint string `mapstructure:"remote_endpoint"`

	QueueDriver string `mapstructure:"queue_driver"` // "redis" | "memory"
	RedisAddr   string `mapstructure:"redis_addr"`
	QueueKey    string `mapstructure:"queue_key"`

	StoreDriver string `mapstructure:"store_driver"` // "sqlite" | "postgres" | "memory"
	StoreDSN    string `mapstructure:"store_dsn"`

	CallbackTimeout time.Duration `mapstructure:"callback_timeout"`

	LimitOverrides map[string]map[string]interface{} `mapstructure:"limit_overrides"`
}

// Load loads configuration from environment variables (prefixed
// ENGINE_) and an optional config.yaml found in ".", "/etc/engine/", or
// "$HOME/.engine/".
func Load() (*Config, error) {
	viper.SetDefault("log_level", "INFO")
	viper.SetDefault("bind_address", getEnvOrDefault("PORT", "2000"))
	viper.SetDefault("workspace_root", "/var/lib/engine/workspaces")

	viper.SetDefault("max_concurrent", 8)
	viper.SetDefault("max_queue_size", 256)
	viper.SetDefault("request_body_limit", 10_000_000)

	viper.SetDefault("compile_cpu_time_limit", "30s")
	viper.SetDefault("compile_wall_time_limit", "60s")
	viper.SetDefault("compile_memory_limit", 524288) // KiB

	viper.SetDefault("run_cpu_time_limit", "10s")
	viper.SetDefault("run_wall_time_limit", "20s")
	viper.SetDefault("run_memory_limit", 262144) // KiB
	viper.SetDefault("run_stack_limit", 65536)    // KiB
	viper.SetDefault("max_process_count", 32)
	viper.SetDefault("max_file_size", 10240) // KiB
	viper.SetDefault("output_max_size_bytes", 8*1024*1024)

	viper.SetDefault("enable_network_default", false)

	viper.SetDefault("sandbox_backend", "direct")
	viper.SetDefault("container_image", "engine-runtime:latest")
	viper.SetDefault("remote_endpoint", "")

	viper.SetDefault("queue_driver", "redis")
	viper.SetDefault("redis_addr", "127.0.0.1:6379")
	viper.SetDefault("queue_key", "engine:queue")

	viper.SetDefault("store_driver", "sqlite")
	viper.SetDefault("store_dsn", "/var/lib/engine/engine.db")

	viper.SetDefault("callback_timeout", "5s")
	viper.SetDefault("limit_overrides", map[string]map[string]interface{}{})

	viper.SetEnvPrefix("ENGINE")
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/engine/")
	viper.AddConfigPath("$HOME/.engine/")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive")
	}
	if cfg.MaxQueueSize <= 0 {
		return fmt.Errorf("max_queue_size must be positive")
	}
	switch cfg.SandboxBackend {
	case "direct", "container", "remote":
	default:
		return fmt.Errorf("unknown sandbox_backend: %s", cfg.SandboxBackend)
	}
	switch cfg.StoreDriver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unknown store_driver: %s", cfg.StoreDriver)
	}
	switch cfg.QueueDriver {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown queue_driver: %s", cfg.QueueDriver)
	}
	return nil
}

func getEnvOrDefault(env, defaultPort string) string {
	if value := os.Getenv(env); value != "" {
		return "0.0.0.0:" + value
	}
	return "0.0.0.0:" + defaultPort
}

// GetBindAddress returns the complete bind address.
func (c *Config) GetBindAddress() string {
	if c.BindAddress == "" {
		return "0.0.0.0:2000"
	}
	return c.BindAddress
}

// GetLogLevel returns the parsed log level, defaulting to Info.
func (c *Config) GetLogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// GetLimitOverride returns a configured limit override for a language.
func (c *Config) GetLimitOverride(language, limitType string) (interface{}, bool) {
	if langOverrides, exists := c.LimitOverrides[language]; exists {
		if value, exists := langOverrides[limitType]; exists {
			return value, true
		}
	}
	return nil, false
}

// GetIntEnv reads an integer environment variable with a fallback.
func GetIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return fallback
}

// GetBoolEnv reads a boolean environment variable with a fallback.
func GetBoolEnv(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return fallback
}
