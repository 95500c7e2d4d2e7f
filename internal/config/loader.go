package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load loads configuration with priority order:
// 1. Environment variables (PSQLCLI_ prefix)
// 2. Configuration file (config.yaml)
// 3. Default values
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.psql-cli/")
		v.AddConfigPath("./configs/")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("PSQLCLI")

	setDefaults(v)

	// Config file is optional unless explicitly named.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets reasonable default values
func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	// Monitoring API client defaults
	v.SetDefault("monitoring.endpoint", "https://monitoring.googleapis.com")
	v.SetDefault("monitoring.timeout", 30000)
	v.SetDefault("monitoring.retries", 3)
	v.SetDefault("monitoring.backoff_ms", 1000)
	v.SetDefault("monitoring.page_size", 1000)

	// Fetch fan-out defaults
	v.SetDefault("fetch.concurrency", 4)
	v.SetDefault("fetch.rate_per_sec", 5.0)
	v.SetDefault("fetch.burst", 5)

	// Report defaults
	v.SetDefault("report.bucket_minutes", 1)
	v.SetDefault("report.bucket_minutes_long_window", 10)
	v.SetDefault("report.top_statements", 20)
	v.SetDefault("report.min_finding_severity", 2)

	// Anomaly detection defaults. Absolute thresholds are in each metric's
	// native unit; wait/latency families are microseconds per bucket.
	v.SetDefault("anomaly.relative_multiplier", 3.0)
	v.SetDefault("anomaly.baseline_buckets", 15)
	v.SetDefault("anomaly.min_baseline_samples", 5)
	v.SetDefault("anomaly.thresholds", map[string]float64{
		"activity":          50,
		"cpu_utilization":   0.9,
		"sql_cost":          60_000_000,
		"io_wait":           30_000_000,
		"lock_wait":         5_000_000,
		"wal_bytes":         268_435_456,
		"disk_read_ops":     50_000,
		"disk_write_ops":    50_000,
		"transaction_count": 100_000,
		"memory_usage":      95,
	})
}

func validateConfig(c *Config) error {
	if c.Report.BucketMinutes <= 0 {
		return fmt.Errorf("report.bucket_minutes must be positive")
	}
	if c.Report.TopStatements <= 0 {
		return fmt.Errorf("report.top_statements must be positive")
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be positive")
	}
	if c.Anomaly.BaselineBuckets <= 0 {
		return fmt.Errorf("anomaly.baseline_buckets must be positive")
	}
	if c.Anomaly.RelativeMultiplier < 0 {
		return fmt.Errorf("anomaly.relative_multiplier must not be negative")
	}
	if c.Monitoring.Endpoint == "" {
		return fmt.Errorf("monitoring.endpoint must not be empty")
	}
	if c.Monitoring.Retries < 1 {
		return fmt.Errorf("monitoring.retries must be at least 1")
	}
	if c.Monitoring.Timeout <= 0 {
		return fmt.Errorf("monitoring.timeout must be positive")
	}
	if c.Monitoring.PageSize <= 0 {
		return fmt.Errorf("monitoring.page_size must be positive")
	}
	return nil
}
