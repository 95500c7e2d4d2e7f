package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SalmonSung/psql-cli/internal/config"
	"github.com/SalmonSung/psql-cli/internal/models"
	"github.com/SalmonSung/psql-cli/pkg/logger"
)

func testCollector(endpoint string) *MonitoringCollector {
	return NewMonitoringCollector(
		config.MonitoringConfig{
			Endpoint:  endpoint,
			Timeout:   5000,
			Retries:   3,
			BackoffMS: 1,
			PageSize:  1000,
		},
		config.FetchConfig{Concurrency: 4, RatePerSec: 1000, Burst: 100},
		config.ReportConfig{TopStatements: 20},
		nil,
		logger.New("error"),
	)
}

func testObsWindow() models.ObservationWindow {
	start := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)
	return models.ObservationWindow{Start: start, End: start.Add(time.Hour), BucketSize: time.Minute}
}

func emptyPage(w http.ResponseWriter) {
	_ = json.NewEncoder(w).Encode(listTimeSeriesResponse{})
}

// point builds one double-valued API point at the given minute offset.
func point(minute int, v float64) map[string]any {
	at := time.Date(2026, 1, 1, 14, minute, 0, 0, time.UTC).Format(time.RFC3339)
	return map[string]any{
		"interval": map[string]any{"endTime": at},
		"value":    map[string]any{"doubleValue": v},
	}
}

func TestCollectAll_FoldsSeriesAndWarnsOnEmptyFamilies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query().Get("filter")
		switch {
		case strings.Contains(filter, "cpu/utilization"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"timeSeries": []map[string]any{{
					"metric": map[string]any{"type": "x", "labels": map[string]string{}},
					"points": []map[string]any{point(5, 0.4), point(1, 0.2)},
				}},
			})
		case strings.Contains(filter, "perquery/latencies"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"timeSeries": []map[string]any{
					{
						"metric": map[string]any{
							"type":   "x",
							"labels": map[string]string{"query_hash": "h2", "querystring": "SELECT 2"},
						},
						"points": []map[string]any{{
							"interval": map[string]any{"endTime": "2026-01-01T14:03:00Z"},
							"value": map[string]any{
								"distributionValue": map[string]any{"count": "4", "mean": 250.0},
							},
						}},
					},
					{
						"metric": map[string]any{
							"type":   "x",
							"labels": map[string]string{"query_hash": "h1", "querystring": "SELECT 1"},
						},
						"points": []map[string]any{point(3, 100)},
					},
				},
			})
		default:
			emptyPage(w)
		}
	}))
	defer srv.Close()

	c := testCollector(srv.URL)
	series, warnings, err := c.CollectAll(context.Background(), "proj", "inst", testObsWindow())
	require.NoError(t, err)

	// cpu (one scalar series) + sql_cost (two dimension keys)
	require.Len(t, series, 3)
	assert.Equal(t, models.MetricCPUUtilization, series[0].Metric)
	assert.Equal(t, models.MetricSQLCost, series[1].Metric)
	assert.Equal(t, "h1", series[1].DimensionKey)
	assert.Equal(t, "SELECT 1", series[1].DisplayName)
	assert.Equal(t, "h2", series[2].DimensionKey)

	// samples come back sorted by timestamp
	require.Len(t, series[0].Samples, 2)
	assert.True(t, series[0].Samples[0].Timestamp.Before(series[0].Samples[1].Timestamp))

	// distribution point collapses to mean x count
	require.Len(t, series[2].Samples, 1)
	assert.Equal(t, 1000.0, series[2].Samples[0].Value)

	// every family with no data produced a warning, in enum order
	require.Len(t, warnings, len(models.AllMetricTypes())-2)
	for i := 1; i < len(warnings); i++ {
		assert.Less(t, int(warnings[i-1].Metric), int(warnings[i].Metric))
	}
}

func TestCollectAll_FollowsPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query().Get("filter")
		if !strings.Contains(filter, "cpu/utilization") {
			emptyPage(w)
			return
		}
		if r.URL.Query().Get("pageToken") == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"timeSeries": []map[string]any{{
					"metric": map[string]any{"type": "x"},
					"points": []map[string]any{point(1, 0.1)},
				}},
				"nextPageToken": "page2",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"timeSeries": []map[string]any{{
				"metric": map[string]any{"type": "x"},
				"points": []map[string]any{point(2, 0.2)},
			}},
		})
	}))
	defer srv.Close()

	c := testCollector(srv.URL)
	series, _, err := c.CollectAll(context.Background(), "proj", "inst", testObsWindow())
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Len(t, series[0].Samples, 2)
}

func TestCollectAll_AuthorizationErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"permission denied"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	c := testCollector(srv.URL)
	_, _, err := c.CollectAll(context.Background(), "proj", "inst", testObsWindow())
	require.Error(t, err)

	var authErr *models.AuthorizationError
	require.True(t, asAuthError(err, &authErr))
	assert.Equal(t, http.StatusForbidden, authErr.StatusCode)
}

func TestCollectAll_PerMetricFailureBecomesWarning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query().Get("filter")
		switch {
		case strings.Contains(filter, "num_backends_by_state"):
			http.Error(w, "bad filter", http.StatusBadRequest)
		case strings.Contains(filter, "cpu/utilization"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"timeSeries": []map[string]any{{
					"metric": map[string]any{"type": "x"},
					"points": []map[string]any{point(1, 0.5)},
				}},
			})
		default:
			emptyPage(w)
		}
	}))
	defer srv.Close()

	c := testCollector(srv.URL)
	series, warnings, err := c.CollectAll(context.Background(), "proj", "inst", testObsWindow())
	require.NoError(t, err, "one failing family must not fail the run")
	require.Len(t, series, 1)

	require.NotEmpty(t, warnings)
	assert.Equal(t, models.MetricActivity, warnings[0].Metric)
	assert.Contains(t, warnings[0].Message, "activity")
}

func TestCollectAll_FailsWhenNoFamilyHasData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		emptyPage(w)
	}))
	defer srv.Close()

	c := testCollector(srv.URL)
	_, _, err := c.CollectAll(context.Background(), "proj", "inst", testObsWindow())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no metric family returned data")
}

func TestDoRequestWithRetry_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	c := testCollector(srv.URL)
	resp, err := c.doRequestWithRetry(context.Background(), http.MethodGet, srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoRequestWithRetry_ZeroRetryConfigStillAttemptsOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	c := testCollector(srv.URL)
	c.retries = 0

	resp, err := c.doRequestWithRetry(context.Background(), http.MethodGet, srv.URL)
	require.NoError(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCapDimensionedFamilies(t *testing.T) {
	c := testCollector("http://unused")
	c.topStatements = 2

	mkSeries := func(dim string, total float64) models.FetchedSeries {
		return models.FetchedSeries{
			Metric:       models.MetricSQLCost,
			DimensionKey: dim,
			Samples: []models.RawSample{{
				Metric: models.MetricSQLCost, DimensionKey: dim,
				Timestamp: time.Now(), Value: total,
			}},
		}
	}

	series := []models.FetchedSeries{
		mkSeries("low", 10),
		mkSeries("high", 1000),
		mkSeries("mid", 100),
		{Metric: models.MetricCPUUtilization}, // scalar families are never capped
	}

	out := c.capDimensionedFamilies(series)
	require.Len(t, out, 3)

	dims := map[string]bool{}
	for _, s := range out {
		if s.Metric == models.MetricSQLCost {
			dims[s.DimensionKey] = true
		}
	}
	assert.True(t, dims["high"])
	assert.True(t, dims["mid"])
	assert.False(t, dims["low"])
}
