package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/studytrack/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the StudyTrack configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, getDefaultConfig(), unknownKeys)
	}

	return nil
}

// getDefaultConfig creates a configuration with default values
func getDefaultConfig() *config.Config {
	v := viper.New()
	config.SetDefaults(v)

	var cfg config.Config
	_ = v.Unmarshal(&cfg)

	return &cfg
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := config.ValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config, unknownKeys []string) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	_, _ = cyan.Println("\n[server]")
	dumpField("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress, yellow, green)
	dumpField("  http_port", cfg.Server.HTTPPort, defaultCfg.Server.HTTPPort, yellow, green)
	dumpField("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort, yellow, green)
	dumpField("  read_timeout", cfg.Server.ReadTimeout, defaultCfg.Server.ReadTimeout, yellow, green)
	dumpField("  write_timeout", cfg.Server.WriteTimeout, defaultCfg.Server.WriteTimeout, yellow, green)
	dumpField("  idle_timeout", cfg.Server.IdleTimeout, defaultCfg.Server.IdleTimeout, yellow, green)

	_, _ = cyan.Println("\n[storage]")
	dumpField("  type", cfg.Storage.Type, defaultCfg.Storage.Type, yellow, green)
	_, _ = cyan.Println("  [storage.redis]")
	dumpField("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host, yellow, green)
	dumpField("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port, yellow, green)
	dumpField("    password", redact(cfg.Storage.Redis.Password), redact(defaultCfg.Storage.Redis.Password), yellow, green)
	dumpField("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB, yellow, green)
	dumpField("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize, yellow, green)
	dumpField("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns, yellow, green)
	dumpField("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout, yellow, green)
	dumpField("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout, yellow, green)
	dumpField("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout, yellow, green)

	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	_, _ = cyan.Println("\n[auth]")
	dumpField("  jwt_secret", redact(cfg.Auth.JWTSecret), redact(defaultCfg.Auth.JWTSecret), yellow, green)
	dumpField("  issuer", cfg.Auth.Issuer, defaultCfg.Auth.Issuer, yellow, green)
	dumpField("  token_ttl", cfg.Auth.TokenTTL, defaultCfg.Auth.TokenTTL, yellow, green)

	_, _ = cyan.Println("\n[tracker]")
	dumpField("  sweep_interval", cfg.Tracker.SweepInterval, defaultCfg.Tracker.SweepInterval, yellow, green)
	dumpField("  abandon_threshold", cfg.Tracker.AbandonThreshold, defaultCfg.Tracker.AbandonThreshold, yellow, green)
	dumpField("  client_ping_interval", cfg.Tracker.ClientPingInterval, defaultCfg.Tracker.ClientPingInterval, yellow, green)
	dumpField("  transition_retries", cfg.Tracker.TransitionRetries, defaultCfg.Tracker.TransitionRetries, yellow, green)

	_, _ = cyan.Println("\n[rollup]")
	dumpField("  interval", cfg.Rollup.Interval, defaultCfg.Rollup.Interval, yellow, green)
	dumpField("  max_attempts", cfg.Rollup.MaxAttempts, defaultCfg.Rollup.MaxAttempts, yellow, green)
	dumpField("  retry_backoff", cfg.Rollup.RetryBackoff, defaultCfg.Rollup.RetryBackoff, yellow, green)
	dumpField("  location_cache_size", cfg.Rollup.LocationCacheSize, defaultCfg.Rollup.LocationCacheSize, yellow, green)
	dumpField("  batch_size", cfg.Rollup.BatchSize, defaultCfg.Rollup.BatchSize, yellow, green)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)

		_, _ = cyan.Println("\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			_, _ = red.Printf("  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	valueStr := fmt.Sprintf("%v", value)

	if reflect.DeepEqual(value, defaultValue) {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redact hides secrets if not empty
func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "***REDACTED***"
}
