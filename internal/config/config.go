package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracking  TrackingConfig  `mapstructure:"tracking"`
	Reset     ResetConfig     `mapstructure:"daily_reset"`
	Overrides OverridesConfig `mapstructure:"overrides"`
}

// APIConfig defines the loopback HTTP API settings.
type APIConfig struct {
	Port        int    `mapstructure:"port"`
	BindAddress string `mapstructure:"bind_address"`
	// PublicURL is the base URL the browser client reaches the daemon
	// at; interstitial redirects are built from it.
	PublicURL string `mapstructure:"public_url"`
}

// MetricsConfig defines the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Port        int    `mapstructure:"port"`
	BindAddress string `mapstructure:"bind_address"`
}

// StorageConfig defines storage backend settings.
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "bolt" or "redis"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings.
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TrackingConfig defines session tracking settings.
type TrackingConfig struct {
	TickInterval      string `mapstructure:"tick_interval"`
	SessionStaleAfter string `mapstructure:"session_stale_after"`
	// RestoredNotifyCap bounds restored-access notifications per
	// re-evaluation pass.
	RestoredNotifyCap int `mapstructure:"restored_notify_cap"`
}

// ResetConfig defines the daily reset schedule.
type ResetConfig struct {
	Time string `mapstructure:"time"` // "HH:MM" local time
}

// OverridesConfig defines the optional rego override policies.
type OverridesConfig struct {
	PolicyDir string `mapstructure:"policy_dir"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("FOCUSGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// API defaults
	v.SetDefault("api.port", 8347)
	v.SetDefault("api.bind_address", "127.0.0.1")
	v.SetDefault("api.public_url", "http://127.0.0.1:8347")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9347)
	v.SetDefault("metrics.bind_address", "127.0.0.1")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/focusgate/focusgate.bolt")
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Tracking defaults
	v.SetDefault("tracking.tick_interval", "2s")
	v.SetDefault("tracking.session_stale_after", "60s")
	v.SetDefault("tracking.restored_notify_cap", 3)

	// Daily reset defaults
	v.SetDefault("daily_reset.time", "00:00")

	// Overrides default to disabled
	v.SetDefault("overrides.policy_dir", "")
}

// validate validates the configuration.
func validate(cfg *Config) error {
	if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.API.Port)
	}
	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}

	switch cfg.Storage.Type {
	case "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for bolt storage")
		}
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required for redis storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s (must be 'bolt' or 'redis')", cfg.Storage.Type)
	}

	if _, err := time.ParseDuration(cfg.Tracking.TickInterval); err != nil {
		return fmt.Errorf("invalid tracking.tick_interval: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Tracking.SessionStaleAfter); err != nil {
		return fmt.Errorf("invalid tracking.session_stale_after: %w", err)
	}
	if cfg.Tracking.RestoredNotifyCap < 0 {
		return fmt.Errorf("tracking.restored_notify_cap must not be negative")
	}

	if _, err := time.Parse("15:04", cfg.Reset.Time); err != nil {
		return fmt.Errorf("invalid daily_reset.time (want HH:MM): %w", err)
	}

	return nil
}

// ListenAddr returns the host:port the API server binds.
func (c APIConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// BlockPageURL returns the interstitial base URL served by the API.
func (c APIConfig) BlockPageURL() string {
	return strings.TrimRight(c.PublicURL, "/") + "/blocked"
}

// ListenAddr returns the host:port the metrics server binds.
func (c MetricsConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}
