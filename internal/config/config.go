// Package config loads process-level configuration from the environment,
// following the teacher's convention of small typed sections with a
// getEnv-family of helpers and defaults baked in.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all process-level configuration for the telemetry core and
// backtest CLI.
type Config struct {
	Server        ServerConfig
	Redis         RedisConfig
	Observability ObservabilityConfig
	Aggregator    AggregatorConfig
	Retention     RetentionConfig
	Alerts        AlertsConfig
	Scraper       ScraperConfig
	ConfigReload  ConfigReloadConfig
}

// ServerConfig holds generic HTTP server settings. Load validates its
// port; the scrape/dashboard server binds from ScraperConfig, not from
// here.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// RedisConfig controls the Bus backend.
type RedisConfig struct {
	URL             string
	Password        string
	DB              int
	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
}

// ObservabilityConfig controls ambient logging/metrics/tracing, separate
// from the domain MetricRegistry the aggregator builds.
type ObservabilityConfig struct {
	ServiceName    string
	ServiceVersion string
	LogLevel       string
	LogFormat      string
	MetricsEnabled bool
	MetricsPort    int
}

// AggregatorConfig controls bucket sizing and flush/eviction cadence.
type AggregatorConfig struct {
	IntervalSeconds      int
	FlushIntervalSeconds int
	GracePeriodSeconds   int
	RetentionHours       int
	JournalDir           string
	CardinalityWarning   int
	CardinalityMax       int
}

// RetentionConfig points at the policy file the retention engine applies.
type RetentionConfig struct {
	PolicyPath   string
	JournalDir   string
	CronSchedule string
}

// AlertsConfig points at the alert-rules file the evaluator loads.
type AlertsConfig struct {
	RulesPath      string
	DedupWindow    time.Duration
	ReloadOnSIGHUP bool
}

// ScraperConfig controls the HTTP exposition/dashboard server.
type ScraperConfig struct {
	BindHost           string
	BindPort           int
	MetricsToken       string
	DashboardToken     string
	RequestsPerMinute  int
	Burst              int
	CORSAllowedOrigins []string
}

// ConfigReloadConfig controls the filesystem watcher that hot-reloads
// operational YAML config.
type ConfigReloadConfig struct {
	ConfigRoot      string
	BaseFileName    string
	SecretsFileName string
	PollIntervalSec int
	JournalPath     string
	UseKernelNotify bool
}

// Load builds a Config from environment variables, applying defaults for
// anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("NJORD_HOST", "0.0.0.0"),
			Port:         getIntEnv("NJORD_PORT", 9090),
			ReadTimeout:  getDurationEnv("NJORD_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDurationEnv("NJORD_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDurationEnv("NJORD_IDLE_TIMEOUT", 60*time.Second),
		},
		Redis: RedisConfig{
			URL:             getEnv("NJORD_REDIS_URL", "redis://localhost:6379"),
			Password:        getEnv("NJORD_REDIS_PASSWORD", ""),
			DB:              getIntEnv("NJORD_REDIS_DB", 0),
			PoolSize:        getIntEnv("NJORD_REDIS_POOL_SIZE", 20),
			MinIdleConns:    getIntEnv("NJORD_REDIS_MIN_IDLE_CONNS", 5),
			PoolTimeout:     getDurationEnv("NJORD_REDIS_POOL_TIMEOUT", 4*time.Second),
			MaxRetries:      getIntEnv("NJORD_REDIS_MAX_RETRIES", 3),
			MinRetryBackoff: getDurationEnv("NJORD_REDIS_MIN_RETRY_BACKOFF", 8*time.Millisecond),
			MaxRetryBackoff: getDurationEnv("NJORD_REDIS_MAX_RETRY_BACKOFF", 512*time.Millisecond),
		},
		Observability: ObservabilityConfig{
			ServiceName:    getEnv("NJORD_SERVICE_NAME", "njord-telemetry-core"),
			ServiceVersion: getEnv("NJORD_SERVICE_VERSION", "dev"),
			LogLevel:       getEnv("NJORD_LOG_LEVEL", "info"),
			LogFormat:      getEnv("NJORD_LOG_FORMAT", "json"),
			MetricsEnabled: getBoolEnv("NJORD_AMBIENT_METRICS_ENABLED", true),
			MetricsPort:    getIntEnv("NJORD_AMBIENT_METRICS_PORT", 9091),
		},
		Aggregator: AggregatorConfig{
			IntervalSeconds:      getIntEnv("NJORD_AGGREGATOR_INTERVAL_SECONDS", 60),
			FlushIntervalSeconds: getIntEnv("NJORD_AGGREGATOR_FLUSH_INTERVAL_SECONDS", 30),
			GracePeriodSeconds:   getIntEnv("NJORD_AGGREGATOR_GRACE_SECONDS", 30),
			RetentionHours:       getIntEnv("NJORD_AGGREGATOR_RETENTION_HOURS", 24),
			JournalDir:           getEnv("NJORD_AGGREGATOR_JOURNAL_DIR", "./data/aggregated"),
			CardinalityWarning:   getIntEnv("NJORD_CARDINALITY_WARNING", 100),
			CardinalityMax:       getIntEnv("NJORD_CARDINALITY_MAX", 128),
		},
		Retention: RetentionConfig{
			PolicyPath:   getEnv("NJORD_RETENTION_POLICY_PATH", "./config/retention.yaml"),
			JournalDir:   getEnv("NJORD_AGGREGATOR_JOURNAL_DIR", "./data/aggregated"),
			CronSchedule: getEnv("NJORD_RETENTION_CRON", "0 * * * *"),
		},
		Alerts: AlertsConfig{
			RulesPath:      getEnv("NJORD_ALERT_RULES_PATH", "./config/alerts.yaml"),
			DedupWindow:    getDurationEnv("NJORD_ALERT_DEDUP_WINDOW", 5*time.Minute),
			ReloadOnSIGHUP: getBoolEnv("NJORD_ALERT_RELOAD_ON_SIGHUP", true),
		},
		Scraper: ScraperConfig{
			BindHost:           getEnv("NJORD_SCRAPE_HOST", "0.0.0.0"),
			BindPort:           getIntEnv("NJORD_SCRAPE_PORT", 9100),
			MetricsToken:       getEnv("NJORD_METRICS_TOKEN", ""),
			DashboardToken:     getEnv("NJORD_DASHBOARD_TOKEN", ""),
			RequestsPerMinute:  getIntEnv("NJORD_SCRAPE_RATE_PER_MINUTE", 600),
			Burst:              getIntEnv("NJORD_SCRAPE_BURST", 30),
			CORSAllowedOrigins: getSliceEnv("NJORD_CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		ConfigReload: ConfigReloadConfig{
			ConfigRoot:      getEnv("NJORD_CONFIG_ROOT", "./config"),
			BaseFileName:    getEnv("NJORD_CONFIG_BASE_FILE", "base.yaml"),
			SecretsFileName: getEnv("NJORD_CONFIG_SECRETS_FILE", "secrets.enc.yaml"),
			PollIntervalSec: getIntEnv("NJORD_CONFIG_POLL_INTERVAL_SECONDS", 5),
			JournalPath:     getEnv("NJORD_CONFIG_RELOAD_JOURNAL", "./data/reload.log"),
			UseKernelNotify: getBoolEnv("NJORD_CONFIG_USE_KERNEL_NOTIFY", true),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("NJORD_PORT must be positive")
	}
	if c.Aggregator.IntervalSeconds <= 0 {
		return fmt.Errorf("NJORD_AGGREGATOR_INTERVAL_SECONDS must be positive")
	}
	if c.Aggregator.GracePeriodSeconds < 0 {
		return fmt.Errorf("NJORD_AGGREGATOR_GRACE_SECONDS must not be negative")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var result []string
	start := 0
	for i := 0; i <= len(value); i++ {
		if i == len(value) || value[i] == ',' {
			if i > start {
				result = append(result, value[start:i])
			}
			start = i + 1
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
