// Package anomaly scans unified bucket records for suspicious intervals.
package anomaly

import (
	"fmt"
	"sort"
	"strings"

	"github.com/SalmonSung/psql-cli/internal/config"
	"github.com/SalmonSung/psql-cli/internal/models"
	"github.com/SalmonSung/psql-cli/pkg/logger"
)

// Detector runs a sliding threshold evaluation over contiguous buckets.
// A bucket entry is "over" when it exceeds its absolute threshold or, when
// the relative check is enabled, multiplier x the trailing-baseline mean of
// its own (metric, dimension) series. Gap buckets are excluded from both
// baseline computation and threshold evaluation: a data gap is never itself
// an anomaly.
type Detector struct {
	cfg        config.AnomalyConfig
	thresholds map[models.MetricType]float64
	logger     logger.Logger
}

// Result carries the ranked anomalies plus the per-metric warnings for
// families with no usable data in the whole window. Those warnings are
// non-fatal; detection proceeds for the remaining families.
type Result struct {
	Anomalies []models.Anomaly
	Warnings  []models.Warning
}

func NewDetector(cfg config.AnomalyConfig, log logger.Logger) (*Detector, error) {
	thresholds := make(map[models.MetricType]float64, len(cfg.Thresholds))
	for name, v := range cfg.Thresholds {
		m, err := models.ParseMetricType(name)
		if err != nil {
			return nil, fmt.Errorf("anomaly threshold config: %w", err)
		}
		thresholds[m] = v
	}
	return &Detector{cfg: cfg, thresholds: thresholds, logger: log}, nil
}

type seriesKey struct {
	metric models.MetricType
	dim    string
}

// Detect evaluates the record sequence and returns merged anomaly
// intervals ordered by severity descending, then start time ascending.
func (d *Detector) Detect(window models.ObservationWindow, records []models.UnifiedRecord) (Result, error) {
	if err := window.Validate(); err != nil {
		return Result{}, err
	}

	var res Result

	// Families with zero non-gap buckets in the whole window are reported
	// and excluded from evaluation.
	nonGap := map[models.MetricType]int{}
	present := map[models.MetricType]bool{}
	for _, rec := range records {
		for _, e := range rec.Entries {
			present[e.Metric] = true
			if !e.IsGap {
				nonGap[e.Metric]++
			}
		}
	}
	usable := map[models.MetricType]bool{}
	for _, m := range models.AllMetricTypes() {
		if !present[m] {
			continue
		}
		if nonGap[m] == 0 {
			err := &models.InsufficientDataError{Metric: m}
			res.Warnings = append(res.Warnings, models.Warning{Metric: m, Message: err.Error()})
			continue
		}
		usable[m] = true
	}

	// Trailing baseline state per (metric, dimension) series: the last
	// BaselineBuckets non-gap values seen before the current bucket.
	baselines := map[seriesKey][]float64{}

	// overByBucket[i] is the set of metric types over threshold in bucket i.
	overByBucket := make([]map[models.MetricType]bool, len(records))
	// peak tracking per bucket for reason/representative values
	peakByBucket := make([]map[models.MetricType]float64, len(records))

	for i, rec := range records {
		over := map[models.MetricType]bool{}
		peaks := map[models.MetricType]float64{}
		for _, e := range rec.Entries {
			if e.IsGap || !usable[e.Metric] {
				continue
			}
			key := seriesKey{e.Metric, e.DimensionKey}
			if d.isOver(e, baselines[key]) {
				over[e.Metric] = true
				if v, ok := peaks[e.Metric]; !ok || e.Value > v {
					peaks[e.Metric] = e.Value
				}
			}
			baselines[key] = pushBaseline(baselines[key], e.Value, d.cfg.BaselineBuckets)
		}
		overByBucket[i] = over
		peakByBucket[i] = peaks
	}

	res.Anomalies = d.mergeIntervals(window, records, overByBucket, peakByBucket)

	sort.SliceStable(res.Anomalies, func(i, j int) bool {
		if res.Anomalies[i].Severity != res.Anomalies[j].Severity {
			return res.Anomalies[i].Severity > res.Anomalies[j].Severity
		}
		return res.Anomalies[i].Start.Before(res.Anomalies[j].Start)
	})

	if d.logger != nil {
		d.logger.Info("anomaly detection complete",
			"anomalies", len(res.Anomalies),
			"excluded_metrics", len(res.Warnings),
		)
	}
	return res, nil
}

// isOver applies the absolute check and, when enough baseline history
// exists, the relative-to-trailing-baseline check.
func (d *Detector) isOver(e models.BucketEntry, baseline []float64) bool {
	if thr, ok := d.thresholds[e.Metric]; ok && e.Value > thr {
		return true
	}
	if d.cfg.RelativeMultiplier > 0 && len(baseline) >= d.cfg.MinBaselineSamples {
		mean := 0.0
		for _, v := range baseline {
			mean += v
		}
		mean /= float64(len(baseline))
		if mean > 0 && e.Value > d.cfg.RelativeMultiplier*mean {
			return true
		}
	}
	return false
}

func pushBaseline(window []float64, v float64, size int) []float64 {
	window = append(window, v)
	if len(window) > size {
		window = window[len(window)-size:]
	}
	return window
}

// mergeIntervals folds flagged buckets into anomaly intervals. Two flagged
// buckets join the same interval when the gap between them is at most one
// bucket. Severity is the maximum count of concurrently over-threshold
// metric types in any bucket of the interval.
func (d *Detector) mergeIntervals(
	window models.ObservationWindow,
	records []models.UnifiedRecord,
	overByBucket []map[models.MetricType]bool,
	peakByBucket []map[models.MetricType]float64,
) []models.Anomaly {
	var anomalies []models.Anomaly

	type interval struct {
		firstIdx, lastIdx int
		metrics           map[models.MetricType]bool
		peaks             map[models.MetricType]float64
		severity          int
	}
	var cur *interval

	flush := func() {
		if cur == nil {
			return
		}
		anomalies = append(anomalies, d.buildAnomaly(window, records, cur.firstIdx, cur.lastIdx, cur.metrics, cur.peaks, cur.severity))
		cur = nil
	}

	for i := range records {
		over := overByBucket[i]
		if len(over) == 0 {
			// close the interval once more than one bucket has passed
			if cur != nil && i-cur.lastIdx > 1 {
				flush()
			}
			continue
		}
		if cur == nil {
			cur = &interval{
				firstIdx: i,
				lastIdx:  i,
				metrics:  map[models.MetricType]bool{},
				peaks:    map[models.MetricType]float64{},
			}
		}
		cur.lastIdx = i
		if len(over) > cur.severity {
			cur.severity = len(over)
		}
		for m := range over {
			cur.metrics[m] = true
			if v, ok := peakByBucket[i][m]; ok {
				if old, seen := cur.peaks[m]; !seen || v > old {
					cur.peaks[m] = v
				}
			}
		}
	}
	flush()

	return anomalies
}

func (d *Detector) buildAnomaly(
	window models.ObservationWindow,
	records []models.UnifiedRecord,
	firstIdx, lastIdx int,
	metricSet map[models.MetricType]bool,
	peaks map[models.MetricType]float64,
	severity int,
) models.Anomaly {
	start := records[firstIdx].BucketStart
	end := records[lastIdx].BucketStart.Add(window.BucketSize)
	if end.After(window.End) {
		end = window.End
	}

	var metrics []models.MetricType
	var peakValues []float64
	var names []string
	for _, m := range models.AllMetricTypes() {
		if metricSet[m] {
			metrics = append(metrics, m)
			peakValues = append(peakValues, peaks[m])
			names = append(names, m.String())
		}
	}

	flagged := lastIdx - firstIdx + 1
	reason := fmt.Sprintf("%s over threshold across %d bucket(s); %d metric type(s) concurrent at peak",
		strings.Join(names, ", "), flagged, severity)

	return models.Anomaly{
		Start:      start.UTC(),
		End:        end.UTC(),
		Metrics:    metrics,
		Severity:   severity,
		Reason:     reason,
		PeakValues: peakValues,
	}
}
