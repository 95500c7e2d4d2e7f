package models

import (
	"time"
)

// RawSample is one time-stamped point as returned by the monitoring
// backend. Immutable once fetched.
type RawSample struct {
	Metric       MetricType
	DimensionKey string // empty for scalar instance-wide metrics
	Timestamp    time.Time
	Value        float64
}

// FetchedSeries is the collector's output for one (metric, dimension)
// pair: the raw samples sorted by timestamp ascending, plus display
// metadata recovered from the backend labels (e.g. the statement text
// behind a query hash).
type FetchedSeries struct {
	Metric       MetricType
	DimensionKey string
	DisplayName  string // defaults to DimensionKey
	Unit         string
	Samples      []RawSample
}

// AlignedBucket is one resampled cell on the uniform bucket grid. When no
// raw sample fell into the bucket IsGap is true and Value is undefined;
// a gap is never defaulted to zero, which would bias anomaly detection.
type AlignedBucket struct {
	BucketStart  time.Time
	Metric       MetricType
	DimensionKey string
	Value        float64
	IsGap        bool
}

// AlignedSeries is one (metric, dimension) series resampled onto the
// window's bucket grid. Buckets exactly tile [window.Start, window.End).
type AlignedSeries struct {
	Metric       MetricType
	DimensionKey string
	DisplayName  string
	Unit         string
	Buckets      []AlignedBucket
}

// BucketEntry is one series' contribution to a unified per-bucket record.
type BucketEntry struct {
	Metric       MetricType
	DimensionKey string
	Value        float64
	IsGap        bool
}

// UnifiedRecord joins all aligned buckets sharing one bucket start.
// Entries are ordered by metric type enum order, then dimension key
// lexical order; dimension-keyed metrics keep per-dimension identity
// rather than being flattened.
type UnifiedRecord struct {
	BucketStart time.Time
	Entries     []BucketEntry

	// OverThreshold lists the distinct metric types whose entries crossed
	// their configured threshold in this bucket, in enum order.
	OverThreshold []MetricType

	// CorrelationCandidate is set when two or more metric types crossed
	// their thresholds in the same bucket.
	CorrelationCandidate bool
}

// Anomaly is one suspicious interval [Start, End). Derived, read-only,
// recomputed fully on each run.
type Anomaly struct {
	Start    time.Time    `yaml:"start"`
	End      time.Time    `yaml:"end"`
	Metrics  []MetricType `yaml:"metrics"`
	Severity int          `yaml:"severity"`
	Reason   string       `yaml:"reason"`

	// PeakValues holds the representative (maximum) value per involved
	// metric type within the interval, index-aligned with Metrics.
	PeakValues []float64 `yaml:"peak_values"`
}

// InstanceReport is one fully computed rendering input: everything the
// renderer needs for one instance/window, produced by upstream stages.
// The renderer never re-derives data from it.
type InstanceReport struct {
	Label     string // "<project>:<instance>"
	Window    ObservationWindow
	Series    []AlignedSeries
	Records   []UnifiedRecord
	Anomalies []Anomaly
	Warnings  []Warning
}
