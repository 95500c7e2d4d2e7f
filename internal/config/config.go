package config

import (
	"time"

	"github.com/SalmonSung/psql-cli/internal/models"
)

type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	Monitoring MonitoringConfig `mapstructure:"monitoring" yaml:"monitoring"`
	Fetch      FetchConfig      `mapstructure:"fetch" yaml:"fetch"`
	Report     ReportConfig     `mapstructure:"report" yaml:"report"`
	Anomaly    AnomalyConfig    `mapstructure:"anomaly" yaml:"anomaly"`
}

// MonitoringConfig handles the Cloud Monitoring API client.
type MonitoringConfig struct {
	// Endpoint overrides the API base URL (tests point this at a fake).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout  int    `mapstructure:"timeout" yaml:"timeout"` // milliseconds
	Retries  int    `mapstructure:"retries" yaml:"retries"`
	// BackoffMS is the base backoff (ms) for attempt 1; then doubles.
	BackoffMS int `mapstructure:"backoff_ms" yaml:"backoff_ms"`
	PageSize  int `mapstructure:"page_size" yaml:"page_size"`
}

// FetchConfig bounds the concurrent per-metric fetch fan-out against the
// monitoring API's rate limits.
type FetchConfig struct {
	Concurrency int     `mapstructure:"concurrency" yaml:"concurrency"`
	RatePerSec  float64 `mapstructure:"rate_per_sec" yaml:"rate_per_sec"`
	Burst       int     `mapstructure:"burst" yaml:"burst"`
}

// ReportConfig controls alignment granularity and artifact size.
type ReportConfig struct {
	// BucketMinutes is the grouping granularity for windows under a day.
	BucketMinutes int `mapstructure:"bucket_minutes" yaml:"bucket_minutes"`
	// BucketMinutesLongWindow applies to windows of 24h or more so the
	// artifact stays bounded.
	BucketMinutesLongWindow int `mapstructure:"bucket_minutes_long_window" yaml:"bucket_minutes_long_window"`
	// TopStatements caps how many dimension-keyed series per family are
	// kept, ranked by total cost over the window.
	TopStatements int `mapstructure:"top_statements" yaml:"top_statements"`
	// MinFindingSeverity is the severity floor for per-anomaly text files.
	MinFindingSeverity int `mapstructure:"min_finding_severity" yaml:"min_finding_severity"`
}

// AnomalyConfig controls threshold evaluation. The per-metric absolute
// thresholds double as the correlation-candidate thresholds.
type AnomalyConfig struct {
	// Thresholds maps metric type name to its absolute threshold in the
	// metric's native unit.
	Thresholds map[string]float64 `mapstructure:"thresholds" yaml:"thresholds"`
	// RelativeMultiplier flags a bucket when its value exceeds
	// multiplier x trailing-baseline mean. Zero disables the relative check.
	RelativeMultiplier float64 `mapstructure:"relative_multiplier" yaml:"relative_multiplier"`
	// BaselineBuckets is the trailing window length (in buckets) for the
	// baseline mean; gap buckets are excluded.
	BaselineBuckets int `mapstructure:"baseline_buckets" yaml:"baseline_buckets"`
	// MinBaselineSamples is the minimum non-gap bucket count before the
	// relative check applies.
	MinBaselineSamples int `mapstructure:"min_baseline_samples" yaml:"min_baseline_samples"`
}

// ThresholdFor returns the absolute threshold for a metric type; ok is
// false when none is configured.
func (c AnomalyConfig) ThresholdFor(m models.MetricType) (float64, bool) {
	v, ok := c.Thresholds[m.String()]
	return v, ok
}

// BucketSizeFor picks the bucket granularity for a window duration,
// scaling up for day-plus windows.
func (c ReportConfig) BucketSizeFor(windowDuration time.Duration) time.Duration {
	minutes := c.BucketMinutes
	if windowDuration >= 24*time.Hour && c.BucketMinutesLongWindow > minutes {
		minutes = c.BucketMinutesLongWindow
	}
	return time.Duration(minutes) * time.Minute
}
