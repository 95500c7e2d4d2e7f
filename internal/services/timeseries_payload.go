package services

import (
	"errors"
	"strconv"
	"time"

	"github.com/SalmonSung/psql-cli/internal/models"
)

// Wire shapes for the Cloud Monitoring timeSeries.list REST response. Only
// the fields the collector consumes are declared.

type listTimeSeriesResponse struct {
	TimeSeries    []timeSeriesPayload `json:"timeSeries"`
	NextPageToken string              `json:"nextPageToken"`
}

type timeSeriesPayload struct {
	Metric struct {
		Type   string            `json:"type"`
		Labels map[string]string `json:"labels"`
	} `json:"metric"`
	Resource struct {
		Type   string            `json:"type"`
		Labels map[string]string `json:"labels"`
	} `json:"resource"`
	ValueType string         `json:"valueType"`
	Points    []pointPayload `json:"points"`
}

type pointPayload struct {
	Interval struct {
		StartTime time.Time `json:"startTime"`
		EndTime   time.Time `json:"endTime"`
	} `json:"interval"`
	Value typedValuePayload `json:"value"`
}

// typedValuePayload mirrors the API's TypedValue union. Int64 values are
// transported as decimal strings in JSON.
type typedValuePayload struct {
	DoubleValue       *float64             `json:"doubleValue"`
	Int64Value        *string              `json:"int64Value"`
	BoolValue         *bool                `json:"boolValue"`
	DistributionValue *distributionPayload `json:"distributionValue"`
}

type distributionPayload struct {
	Count string  `json:"count"`
	Mean  float64 `json:"mean"`
}

// number collapses the union to one float64. Distribution points (the
// per-statement latency family) contribute mean x count, i.e. the total
// time spent in the sampled interval.
func (v typedValuePayload) number() (float64, bool) {
	switch {
	case v.DoubleValue != nil:
		return *v.DoubleValue, true
	case v.Int64Value != nil:
		n, err := strconv.ParseInt(*v.Int64Value, 10, 64)
		if err != nil {
			return 0, false
		}
		return float64(n), true
	case v.BoolValue != nil:
		if *v.BoolValue {
			return 1, true
		}
		return 0, true
	case v.DistributionValue != nil:
		count, err := strconv.ParseInt(v.DistributionValue.Count, 10, 64)
		if err != nil {
			return 0, false
		}
		return v.DistributionValue.Mean * float64(count), true
	default:
		return 0, false
	}
}

func asAuthError(err error, target **models.AuthorizationError) bool {
	return errors.As(err, target)
}
