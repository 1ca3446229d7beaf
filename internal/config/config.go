package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable override.
const EnvPrefix = "STUDYTRACK"

// MinAbandonPingRatio is how many client ping periods the abandon threshold
// must cover, so a couple of lost pings never abandon a live interval.
const MinAbandonPingRatio = 3

// Config holds the complete application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Tracker TrackerConfig `mapstructure:"tracker"`
	Rollup  RollupConfig  `mapstructure:"rollup"`
}

// ServerConfig defines listener ports and HTTP timeouts
type ServerConfig struct {
	BindAddress  string `mapstructure:"bind_address"`
	HTTPPort     int    `mapstructure:"http_port"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	IdleTimeout  string `mapstructure:"idle_timeout"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines the Redis connection
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

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthConfig defines how bearer tokens from the identity provider are verified
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	TokenTTL  string `mapstructure:"token_ttl"`
}

// TrackerConfig defines liveness detection
type TrackerConfig struct {
	SweepInterval      string `mapstructure:"sweep_interval"`
	AbandonThreshold   string `mapstructure:"abandon_threshold"`
	ClientPingInterval string `mapstructure:"client_ping_interval"`
	TransitionRetries  int    `mapstructure:"transition_retries"`
}

// RollupConfig defines the stats rollup worker
type RollupConfig struct {
	Interval          string `mapstructure:"interval"`
	MaxAttempts       int    `mapstructure:"max_attempts"`
	RetryBackoff      string `mapstructure:"retry_backoff"`
	LocationCacheSize int    `mapstructure:"location_cache_size"`
	BatchSize         int    `mapstructure:"batch_size"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
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

// SetDefaults sets default configuration values. Every known key has a
// default so that environment overrides are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	// Storage defaults
	v.SetDefault("storage.type", "redis")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 5)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.token_ttl", "24h")

	// Tracker defaults
	v.SetDefault("tracker.sweep_interval", "30s")
	v.SetDefault("tracker.abandon_threshold", "90s")
	v.SetDefault("tracker.client_ping_interval", "10s")
	v.SetDefault("tracker.transition_retries", 5)

	// Rollup defaults
	v.SetDefault("rollup.interval", "15s")
	v.SetDefault("rollup.max_attempts", 5)
	v.SetDefault("rollup.retry_backoff", "200ms")
	v.SetDefault("rollup.location_cache_size", 256)
	v.SetDefault("rollup.batch_size", 500)
}

// ValidKeys returns the set of all recognized configuration keys.
func ValidKeys() map[string]bool {
	v := viper.New()
	SetDefaults(v)

	keys := make(map[string]bool)
	for _, key := range v.AllKeys() {
		keys[key] = true
	}
	return keys
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}
	if cfg.Server.MetricsPort == cfg.Server.HTTPPort {
		return fmt.Errorf("metrics port must differ from HTTP port (%d)", cfg.Server.HTTPPort)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "redis"
	}
	if cfg.Storage.Type != "redis" {
		return fmt.Errorf("unsupported storage type: %s (only 'redis' is supported)", cfg.Storage.Type)
	}

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (or set %s_AUTH_JWT_SECRET)", EnvPrefix)
	}

	sweep, err := time.ParseDuration(cfg.Tracker.SweepInterval)
	if err != nil || sweep <= 0 {
		return fmt.Errorf("invalid tracker.sweep_interval: %q", cfg.Tracker.SweepInterval)
	}
	threshold, err := time.ParseDuration(cfg.Tracker.AbandonThreshold)
	if err != nil || threshold <= 0 {
		return fmt.Errorf("invalid tracker.abandon_threshold: %q", cfg.Tracker.AbandonThreshold)
	}
	ping, err := time.ParseDuration(cfg.Tracker.ClientPingInterval)
	if err != nil || ping <= 0 {
		return fmt.Errorf("invalid tracker.client_ping_interval: %q", cfg.Tracker.ClientPingInterval)
	}
	if threshold < MinAbandonPingRatio*ping {
		return fmt.Errorf("tracker.abandon_threshold (%s) must be at least %dx tracker.client_ping_interval (%s)", threshold, MinAbandonPingRatio, ping)
	}
	if cfg.Tracker.TransitionRetries < 1 {
		return fmt.Errorf("tracker.transition_retries must be at least 1")
	}

	if _, err := time.ParseDuration(cfg.Rollup.Interval); err != nil {
		return fmt.Errorf("invalid rollup.interval: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Rollup.RetryBackoff); err != nil {
		return fmt.Errorf("invalid rollup.retry_backoff: %w", err)
	}
	if cfg.Rollup.MaxAttempts < 1 {
		return fmt.Errorf("rollup.max_attempts must be at least 1")
	}
	if cfg.Rollup.LocationCacheSize < 1 {
		return fmt.Errorf("rollup.location_cache_size must be at least 1")
	}

	return nil
}
