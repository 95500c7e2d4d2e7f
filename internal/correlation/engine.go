// Package correlation merges aligned metric series into unified per-bucket
// records and flags buckets where several metric families spike together.
package correlation

import (
	"fmt"
	"sort"
	"time"

	"github.com/SalmonSung/psql-cli/internal/config"
	"github.com/SalmonSung/psql-cli/internal/models"
	"github.com/SalmonSung/psql-cli/pkg/logger"
)

// Engine joins aligned bucket sequences across metric families. Output is
// fully deterministic for identical inputs: records ordered by bucket start
// ascending, entries within a record ordered by metric type enum order,
// then dimension key lexical order.
type Engine struct {
	thresholds map[models.MetricType]float64
	logger     logger.Logger
}

func NewEngine(cfg config.AnomalyConfig, log logger.Logger) (*Engine, error) {
	thresholds := make(map[models.MetricType]float64, len(cfg.Thresholds))
	for name, v := range cfg.Thresholds {
		m, err := models.ParseMetricType(name)
		if err != nil {
			return nil, fmt.Errorf("correlation threshold config: %w", err)
		}
		thresholds[m] = v
	}
	return &Engine{thresholds: thresholds, logger: log}, nil
}

// Merge collects, for each bucket start on the window grid, all aligned
// buckets sharing that start. Dimension-keyed metrics stay grouped per
// dimension so the unified record never loses per-dimension identity.
// A record becomes a correlation candidate when two or more metric types
// each cross their configured threshold within the same bucket.
func (e *Engine) Merge(window models.ObservationWindow, series []models.AlignedSeries) ([]models.UnifiedRecord, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	n := window.BucketCount()
	for _, s := range series {
		if len(s.Buckets) != n {
			return nil, fmt.Errorf("series %s/%s has %d buckets, window grid has %d",
				s.Metric, s.DimensionKey, len(s.Buckets), n)
		}
	}

	// Sort a copy of the series headers so entry order never depends on
	// fetch completion order.
	ordered := make([]models.AlignedSeries, len(series))
	copy(ordered, series)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Metric != ordered[j].Metric {
			return ordered[i].Metric < ordered[j].Metric
		}
		return ordered[i].DimensionKey < ordered[j].DimensionKey
	})

	records := make([]models.UnifiedRecord, n)
	candidates := 0
	for i := 0; i < n; i++ {
		rec := models.UnifiedRecord{
			BucketStart: window.Start.Add(window.BucketSize * time.Duration(i)),
			Entries:     make([]models.BucketEntry, 0, len(ordered)),
		}

		overSet := map[models.MetricType]bool{}
		for _, s := range ordered {
			b := s.Buckets[i]
			rec.Entries = append(rec.Entries, models.BucketEntry{
				Metric:       b.Metric,
				DimensionKey: b.DimensionKey,
				Value:        b.Value,
				IsGap:        b.IsGap,
			})
			if b.IsGap {
				continue
			}
			if thr, ok := e.thresholds[b.Metric]; ok && b.Value > thr {
				overSet[b.Metric] = true
			}
		}

		for _, m := range models.AllMetricTypes() {
			if overSet[m] {
				rec.OverThreshold = append(rec.OverThreshold, m)
			}
		}
		rec.CorrelationCandidate = len(rec.OverThreshold) >= 2
		if rec.CorrelationCandidate {
			candidates++
		}
		records[i] = rec
	}

	if e.logger != nil {
		e.logger.Debug("unified records merged",
			"buckets", n,
			"series", len(series),
			"correlation_candidates", candidates,
		)
	}
	return records, nil
}
