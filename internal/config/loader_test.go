package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SalmonSung/psql-cli/internal/models"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "https://monitoring.googleapis.com", cfg.Monitoring.Endpoint)
	assert.Equal(t, 30000, cfg.Monitoring.Timeout)
	assert.Equal(t, 3, cfg.Monitoring.Retries)
	assert.Equal(t, 4, cfg.Fetch.Concurrency)
	assert.Equal(t, 1, cfg.Report.BucketMinutes)
	assert.Equal(t, 10, cfg.Report.BucketMinutesLongWindow)
	assert.Equal(t, 20, cfg.Report.TopStatements)
	assert.Equal(t, 2, cfg.Report.MinFindingSeverity)
	assert.Equal(t, 3.0, cfg.Anomaly.RelativeMultiplier)

	// every family with anomaly semantics carries a default absolute
	// threshold; memory quota is capacity context only
	for _, m := range models.AllMetricTypes() {
		_, ok := cfg.Anomaly.ThresholdFor(m)
		if m == models.MetricMemoryQuota {
			assert.False(t, ok, "memory quota must not have a default threshold")
			continue
		}
		assert.True(t, ok, "missing default threshold for %s", m)
	}
}

func TestLoad_ConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
monitoring:
  endpoint: http://localhost:9090
report:
  bucket_minutes: 5
anomaly:
  thresholds:
    cpu_utilization: 0.5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http://localhost:9090", cfg.Monitoring.Endpoint)
	assert.Equal(t, 5, cfg.Report.BucketMinutes)

	thr, ok := cfg.Anomaly.ThresholdFor(models.MetricCPUUtilization)
	require.True(t, ok)
	assert.Equal(t, 0.5, thr)

	// untouched keys keep defaults
	assert.Equal(t, 20, cfg.Report.TopStatements)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PSQLCLI_LOG_LEVEL", "warn")
	t.Setenv("PSQLCLI_REPORT_BUCKET_MINUTES", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 3, cfg.Report.BucketMinutes)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "zero bucket minutes",
			yaml:    "report:\n  bucket_minutes: 0\n",
			wantErr: "bucket_minutes",
		},
		{
			name:    "zero retries",
			yaml:    "monitoring:\n  retries: 0\n",
			wantErr: "retries",
		},
		{
			name:    "zero timeout",
			yaml:    "monitoring:\n  timeout: 0\n",
			wantErr: "timeout",
		},
		{
			name:    "zero page size",
			yaml:    "monitoring:\n  page_size: 0\n",
			wantErr: "page_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestBucketSizeFor(t *testing.T) {
	cfg := ReportConfig{BucketMinutes: 1, BucketMinutesLongWindow: 10}

	assert.Equal(t, time.Minute, cfg.BucketSizeFor(3*time.Hour))
	assert.Equal(t, 10*time.Minute, cfg.BucketSizeFor(24*time.Hour))
	assert.Equal(t, 10*time.Minute, cfg.BucketSizeFor(72*time.Hour))
}
