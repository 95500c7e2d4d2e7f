// Package align resamples irregular raw metric samples onto the uniform
// bucket grid of an observation window.
package align

import (
	"fmt"
	"time"

	"github.com/SalmonSung/psql-cli/internal/models"
)

// Bucketize partitions [window.Start, window.End) into contiguous
// non-overlapping buckets of window.BucketSize and reduces the in-bucket
// raw samples with the metric's registered reducer. A bucket with zero
// contributing samples is marked as a gap; values are never imputed, which
// would manufacture false-negative "stable" regions. If the bucket size
// does not evenly divide the window, the final bucket is truncated to the
// window end.
func Bucketize(window models.ObservationWindow, series models.FetchedSeries) (models.AlignedSeries, error) {
	if err := window.Validate(); err != nil {
		return models.AlignedSeries{}, err
	}
	spec, err := models.SpecFor(series.Metric)
	if err != nil {
		return models.AlignedSeries{}, err
	}

	n := window.BucketCount()
	type acc struct {
		sum         float64
		count       int
		first, last float64
	}
	accs := make([]acc, n)

	for _, s := range series.Samples {
		if s.Timestamp.Before(window.Start) || !s.Timestamp.Before(window.End) {
			continue
		}
		i := int(s.Timestamp.Sub(window.Start) / window.BucketSize)
		if i < 0 || i >= n {
			continue
		}
		a := &accs[i]
		if a.count == 0 {
			a.first = s.Value
		}
		a.last = s.Value
		a.sum += s.Value
		a.count++
	}

	out := models.AlignedSeries{
		Metric:       series.Metric,
		DimensionKey: series.DimensionKey,
		DisplayName:  series.DisplayName,
		Unit:         series.Unit,
		Buckets:      make([]models.AlignedBucket, n),
	}
	if out.DisplayName == "" {
		out.DisplayName = series.DimensionKey
	}
	if out.Unit == "" {
		out.Unit = spec.Unit
	}

	for i := 0; i < n; i++ {
		b := models.AlignedBucket{
			BucketStart:  window.Start.Add(window.BucketSize * time.Duration(i)),
			Metric:       series.Metric,
			DimensionKey: series.DimensionKey,
		}
		a := accs[i]
		if a.count == 0 {
			b.IsGap = true
		} else {
			v, err := reduce(spec.Reducer, a.sum, a.count, a.first, a.last)
			if err != nil {
				return models.AlignedSeries{}, err
			}
			b.Value = v
		}
		out.Buckets[i] = b
	}

	return out, nil
}

// BucketizeAll aligns every fetched series onto the window grid, keeping
// input order.
func BucketizeAll(window models.ObservationWindow, series []models.FetchedSeries) ([]models.AlignedSeries, error) {
	out := make([]models.AlignedSeries, 0, len(series))
	for _, s := range series {
		aligned, err := Bucketize(window, s)
		if err != nil {
			return nil, fmt.Errorf("bucketize %s/%s: %w", s.Metric, s.DimensionKey, err)
		}
		out = append(out, aligned)
	}
	return out, nil
}

func reduce(r models.Reducer, sum float64, count int, first, last float64) (float64, error) {
	switch r {
	case models.ReduceMean:
		return sum / float64(count), nil
	case models.ReduceSum:
		return sum, nil
	case models.ReduceDelta:
		d := last - first
		if d < 0 {
			// counter reset inside the bucket
			d = last
		}
		return d, nil
	default:
		return 0, fmt.Errorf("unknown reducer %d", r)
	}
}
