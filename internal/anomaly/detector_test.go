package anomaly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SalmonSung/psql-cli/internal/config"
	"github.com/SalmonSung/psql-cli/internal/models"
)

func testDetector(t *testing.T, cfg config.AnomalyConfig) *Detector {
	t.Helper()
	d, err := NewDetector(cfg, nil)
	require.NoError(t, err)
	return d
}

func gridWindow(buckets int) models.ObservationWindow {
	start := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)
	return models.ObservationWindow{
		Start:      start,
		End:        start.Add(time.Duration(buckets) * time.Minute),
		BucketSize: time.Minute,
	}
}

// buildRecords lays one entry per metric into each bucket. values[m][i] is
// the value of metric m in bucket i; gaps[m][i] marks the cell as a gap.
func buildRecords(w models.ObservationWindow, values map[models.MetricType][]float64, gaps map[models.MetricType][]bool) []models.UnifiedRecord {
	n := w.BucketCount()
	records := make([]models.UnifiedRecord, n)
	for i := 0; i < n; i++ {
		rec := models.UnifiedRecord{BucketStart: w.Start.Add(time.Duration(i) * w.BucketSize)}
		for _, m := range models.AllMetricTypes() {
			vs, ok := values[m]
			if !ok {
				continue
			}
			entry := models.BucketEntry{Metric: m, Value: vs[i]}
			if g, ok := gaps[m]; ok && g[i] {
				entry.IsGap = true
				entry.Value = 0
			}
			rec.Entries = append(rec.Entries, entry)
		}
		records[i] = rec
	}
	return records
}

func TestDetect_AdjacentBucketsMergeIntoOneAnomaly(t *testing.T) {
	d := testDetector(t, config.AnomalyConfig{
		Thresholds: map[string]float64{"cpu_utilization": 0.8, "sql_cost": 100},
	})
	w := gridWindow(6)

	// buckets 1 and 2 flagged, both metrics over in bucket 2 only
	records := buildRecords(w, map[models.MetricType][]float64{
		models.MetricCPUUtilization: {0.1, 0.9, 0.95, 0.1, 0.1, 0.1},
		models.MetricSQLCost:        {10, 10, 500, 10, 10, 10},
	}, nil)

	res, err := d.Detect(w, records)
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 1)

	a := res.Anomalies[0]
	assert.Equal(t, w.Start.Add(1*time.Minute), a.Start)
	assert.Equal(t, w.Start.Add(3*time.Minute), a.End)
	assert.Equal(t, 2, a.Severity, "severity is the max concurrent over-threshold metric types")
	assert.Equal(t, []models.MetricType{models.MetricCPUUtilization, models.MetricSQLCost}, a.Metrics)
	assert.Equal(t, []float64{0.95, 500}, a.PeakValues)
}

func TestDetect_OneBucketGapStillMerges(t *testing.T) {
	d := testDetector(t, config.AnomalyConfig{
		Thresholds: map[string]float64{"cpu_utilization": 0.8},
	})
	w := gridWindow(5)

	// flagged at 0 and 2 with one quiet bucket between -> single interval
	records := buildRecords(w, map[models.MetricType][]float64{
		models.MetricCPUUtilization: {0.9, 0.1, 0.9, 0.1, 0.1},
	}, nil)

	res, err := d.Detect(w, records)
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, w.Start, res.Anomalies[0].Start)
	assert.Equal(t, w.Start.Add(3*time.Minute), res.Anomalies[0].End)
}

func TestDetect_TwoBucketGapSplitsIntervals(t *testing.T) {
	d := testDetector(t, config.AnomalyConfig{
		Thresholds: map[string]float64{"cpu_utilization": 0.8},
	})
	w := gridWindow(5)

	records := buildRecords(w, map[models.MetricType][]float64{
		models.MetricCPUUtilization: {0.9, 0.1, 0.1, 0.9, 0.1},
	}, nil)

	res, err := d.Detect(w, records)
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 2)
	for _, a := range res.Anomalies {
		assert.False(t, a.End.After(w.End))
		assert.False(t, a.Start.Before(w.Start))
	}
}

func TestDetect_GapBucketsAreNotAnomalies(t *testing.T) {
	d := testDetector(t, config.AnomalyConfig{
		Thresholds: map[string]float64{"cpu_utilization": -1}, // any value would trip
	})
	w := gridWindow(3)

	records := buildRecords(w,
		map[models.MetricType][]float64{models.MetricCPUUtilization: {0.5, 0.5, 0.5}},
		map[models.MetricType][]bool{models.MetricCPUUtilization: {true, false, true}},
	)

	res, err := d.Detect(w, records)
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, w.Start.Add(1*time.Minute), res.Anomalies[0].Start)
	assert.Equal(t, w.Start.Add(2*time.Minute), res.Anomalies[0].End)
}

func TestDetect_AllGapFamilyWarnsAndIsExcluded(t *testing.T) {
	d := testDetector(t, config.AnomalyConfig{
		Thresholds: map[string]float64{"wal_bytes": -1},
	})
	w := gridWindow(2)

	records := buildRecords(w,
		map[models.MetricType][]float64{models.MetricWALBytes: {0, 0}},
		map[models.MetricType][]bool{models.MetricWALBytes: {true, true}},
	)

	res, err := d.Detect(w, records)
	require.NoError(t, err)
	assert.Empty(t, res.Anomalies)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, models.MetricWALBytes, res.Warnings[0].Metric)
}

func TestDetect_RelativeBaselineCheck(t *testing.T) {
	d := testDetector(t, config.AnomalyConfig{
		RelativeMultiplier: 3.0,
		BaselineBuckets:    10,
		MinBaselineSamples: 3,
	})
	w := gridWindow(6)

	// steady around 10, then a 10x spike at bucket 4
	records := buildRecords(w, map[models.MetricType][]float64{
		models.MetricDiskReadOps: {10, 11, 9, 10, 100, 10},
	}, nil)

	res, err := d.Detect(w, records)
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, w.Start.Add(4*time.Minute), res.Anomalies[0].Start)
	assert.Equal(t, 1, res.Anomalies[0].Severity)
}

func TestDetect_RelativeCheckNeedsEnoughBaseline(t *testing.T) {
	d := testDetector(t, config.AnomalyConfig{
		RelativeMultiplier: 3.0,
		BaselineBuckets:    10,
		MinBaselineSamples: 5,
	})
	w := gridWindow(3)

	// spike at bucket 2, but only two baseline samples exist before it
	records := buildRecords(w, map[models.MetricType][]float64{
		models.MetricDiskReadOps: {10, 11, 100},
	}, nil)

	res, err := d.Detect(w, records)
	require.NoError(t, err)
	assert.Empty(t, res.Anomalies)
}

func TestDetect_SortedBySeverityThenStart(t *testing.T) {
	d := testDetector(t, config.AnomalyConfig{
		Thresholds: map[string]float64{"cpu_utilization": 0.8, "sql_cost": 100},
	})
	w := gridWindow(8)

	// early single-metric interval, later two-metric interval
	records := buildRecords(w, map[models.MetricType][]float64{
		models.MetricCPUUtilization: {0.9, 0.1, 0.1, 0.1, 0.1, 0.9, 0.1, 0.1},
		models.MetricSQLCost:        {10, 10, 10, 10, 10, 500, 10, 10},
	}, nil)

	res, err := d.Detect(w, records)
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 2)
	assert.Equal(t, 2, res.Anomalies[0].Severity)
	assert.Equal(t, w.Start.Add(5*time.Minute), res.Anomalies[0].Start)
	assert.Equal(t, 1, res.Anomalies[1].Severity)
	assert.Equal(t, w.Start, res.Anomalies[1].Start)
}
