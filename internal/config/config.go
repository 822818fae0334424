package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Record store backends
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Records      RecordsConfig      `mapstructure:"records"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Lark         LarkConfig         `mapstructure:"lark"`
	Notification NotificationConfig `mapstructure:"notification"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Logger       LoggerConfig       `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // gin mode: debug, release, test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"` // Empty uses the embedded migrations
}

// RecordsConfig selects where workflow records live
type RecordsConfig struct {
	Backend string `mapstructure:"backend"`
}

// RedisConfig holds Redis configuration for the redis record backend
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LarkConfig holds Lark API configuration. Enabled turns on outbound
// messages; Events additionally subscribes to inbound transition requests
// over the long connection.
type LarkConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Events    bool   `mapstructure:"events"`
	EventType string `mapstructure:"event_type"`
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	BaseURL   string `mapstructure:"base_url"`
}

// NotificationConfig tunes notification delivery
type NotificationConfig struct {
	OutboundTimeout     time.Duration `mapstructure:"outbound_timeout"`
	Concurrency         int           `mapstructure:"concurrency"`
	RetryInterval       time.Duration `mapstructure:"retry_interval"`
	MaxOutboundAttempts int           `mapstructure:"max_outbound_attempts"`
	RetryBatchSize      int           `mapstructure:"retry_batch_size"`
}

// StorageConfig holds export file storage configuration
type StorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// MetricsConfig holds Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from an optional .env file, the YAML file at
// configPath and environment variables, in increasing precedence
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/workflow.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrations_dir", "")

	v.SetDefault("records.backend", BackendSQLite)

	v.SetDefault("lark.events", false)
	v.SetDefault("lark.event_type", "civic.transition_request")

	// Redis defaults
	v.SetDefault("redis.key_prefix", "civic:record")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	// Notification defaults
	v.SetDefault("notification.outbound_timeout", 10*time.Second)
	v.SetDefault("notification.concurrency", 4)
	v.SetDefault("notification.retry_interval", 30*time.Second)
	v.SetDefault("notification.max_outbound_attempts", 5)
	v.SetDefault("notification.retry_batch_size", 50)

	v.SetDefault("storage.base_dir", "data/files")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	// Sensitive credentials from environment
	_ = v.BindEnv("lark.app_id", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	_ = v.BindEnv("redis.url", "REDIS_URL")
	_ = v.BindEnv("database.path", "DATABASE_PATH")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Records.Backend {
	case BackendSQLite:
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required when records.backend is %q", BackendRedis)
		}
	default:
		return fmt.Errorf("records.backend must be %q or %q, got %q", BackendSQLite, BackendRedis, c.Records.Backend)
	}

	if c.Lark.Events && !c.Lark.Enabled {
		return fmt.Errorf("lark.events requires lark.enabled")
	}

	// Lark credentials only matter when the channel is on
	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required")
		}
	}

	if c.Notification.MaxOutboundAttempts < 1 {
		return fmt.Errorf("notification.max_outbound_attempts must be at least 1")
	}
	if c.Notification.Concurrency < 1 {
		return fmt.Errorf("notification.concurrency must be at least 1")
	}
	if c.Notification.OutboundTimeout <= 0 {
		return fmt.Errorf("notification.outbound_timeout must be positive")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	return nil
}
