package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/SalmonSung/psql-cli/internal/config"
	"github.com/SalmonSung/psql-cli/internal/models"
	"github.com/SalmonSung/psql-cli/pkg/logger"
)

// maxStatementDisplayLen bounds the statement text carried into the report.
const maxStatementDisplayLen = 160

// MonitoringCollector pulls historical Cloud SQL metric series from the
// Cloud Monitoring timeSeries.list API. It is the only component that
// performs network I/O; everything downstream operates on the materialized
// snapshot it returns.
type MonitoringCollector struct {
	endpoint string
	client   *http.Client
	logger   logger.Logger

	// tokenSource may be nil when the endpoint needs no auth (tests).
	tokenSource oauth2.TokenSource

	// retry knobs
	retries   int
	backoffMS int // base backoff (ms) for attempt 1; then doubles

	pageSize      int
	concurrency   int
	topStatements int

	// limiter is shared by all fetch workers to respect API rate limits.
	limiter *rate.Limiter
}

func NewMonitoringCollector(
	cfg config.MonitoringConfig,
	fetch config.FetchConfig,
	report config.ReportConfig,
	tokenSource oauth2.TokenSource,
	log logger.Logger,
) *MonitoringCollector {
	return &MonitoringCollector{
		endpoint: cfg.Endpoint,
		client: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Millisecond,
		},
		logger:        log,
		tokenSource:   tokenSource,
		retries:       cfg.Retries,
		backoffMS:     cfg.BackoffMS,
		pageSize:      cfg.PageSize,
		concurrency:   fetch.Concurrency,
		topStatements: report.TopStatements,
		limiter:       rate.NewLimiter(rate.Limit(fetch.RatePerSec), fetch.Burst),
	}
}

// CollectAll fetches every registered metric family for one instance and
// window, fanning out with a bounded worker count. Per-family failures are
// demoted to warnings; the run only fails when no family yields data or on
// an authorization failure. Samples are sorted before handoff so the
// result does not depend on fetch completion order.
func (c *MonitoringCollector) CollectAll(
	ctx context.Context,
	project, instance string,
	window models.ObservationWindow,
) ([]models.FetchedSeries, []models.Warning, error) {

	var (
		mu       sync.Mutex
		series   []models.FetchedSeries
		warnings []models.Warning
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, metric := range models.AllMetricTypes() {
		metric := metric
		g.Go(func() error {
			fetched, err := c.fetchMetric(gctx, project, instance, metric, window)
			if err != nil {
				var authErr *models.AuthorizationError
				if asAuthError(err, &authErr) {
					// fatal: cancels the remaining fetches
					return authErr
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
				fe := &models.FetchError{Metric: metric, Err: err}
				c.logger.Warn("metric fetch failed, excluding from correlation",
					"metric", metric.String(), "error", err)
				mu.Lock()
				warnings = append(warnings, models.Warning{Metric: metric, Message: fe.Error()})
				mu.Unlock()
				return nil
			}
			if countSamples(fetched) == 0 {
				ide := &models.InsufficientDataError{Metric: metric}
				c.logger.Warn("metric fetch returned no samples",
					"metric", metric.String())
				mu.Lock()
				warnings = append(warnings, models.Warning{Metric: metric, Message: ide.Error()})
				mu.Unlock()
				return nil
			}
			mu.Lock()
			series = append(series, fetched...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	if len(series) == 0 {
		return nil, warnings, fmt.Errorf("no metric family returned data for %s:%s", project, instance)
	}

	sort.SliceStable(warnings, func(i, j int) bool { return warnings[i].Metric < warnings[j].Metric })

	series = c.capDimensionedFamilies(series)
	sortSeries(series)

	c.logger.Info("metric collection complete",
		"project", project,
		"instance", instance,
		"series", len(series),
		"unavailable_metrics", len(warnings),
	)
	return series, warnings, nil
}

// fetchMetric lists all time series for one metric family, following
// pagination, and folds them into one FetchedSeries per dimension key.
func (c *MonitoringCollector) fetchMetric(
	ctx context.Context,
	project, instance string,
	metric models.MetricType,
	window models.ObservationWindow,
) ([]models.FetchedSeries, error) {
	spec, err := models.SpecFor(metric)
	if err != nil {
		return nil, err
	}

	filter := fmt.Sprintf(
		`metric.type=%q AND resource.type=%q AND resource.labels.%s=%q`,
		spec.BackendType, spec.ResourceType, spec.ResourceLabel,
		fmt.Sprintf("%s:%s", project, instance),
	)

	byDim := map[string]*models.FetchedSeries{}
	pageToken := ""
	for {
		page, err := c.listPage(ctx, project, filter, window, pageToken)
		if err != nil {
			return nil, err
		}
		for _, ts := range page.TimeSeries {
			dim := ""
			if spec.Dimensioned() {
				dim = ts.Metric.Labels[spec.DimensionLabel]
			}
			fs, ok := byDim[dim]
			if !ok {
				fs = &models.FetchedSeries{
					Metric:       metric,
					DimensionKey: dim,
					DisplayName:  displayName(dim, ts.Metric.Labels),
					Unit:         spec.Unit,
				}
				byDim[dim] = fs
			}
			for _, p := range ts.Points {
				at := p.Interval.EndTime
				if at.IsZero() {
					at = p.Interval.StartTime
				}
				value, ok := p.Value.number()
				if !ok {
					continue
				}
				fs.Samples = append(fs.Samples, models.RawSample{
					Metric:       metric,
					DimensionKey: dim,
					Timestamp:    at.UTC(),
					Value:        value,
				})
			}
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	out := make([]models.FetchedSeries, 0, len(byDim))
	for _, fs := range byDim {
		sort.Slice(fs.Samples, func(i, j int) bool {
			return fs.Samples[i].Timestamp.Before(fs.Samples[j].Timestamp)
		})
		out = append(out, *fs)
	}

	c.logger.Debug("metric family fetched",
		"metric", metric.String(), "series", len(out), "filter", filter)
	return out, nil
}

// listPage performs one timeSeries.list request with retry and backoff.
func (c *MonitoringCollector) listPage(
	ctx context.Context,
	project, filter string,
	window models.ObservationWindow,
	pageToken string,
) (*listTimeSeriesResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("filter", filter)
	params.Set("interval.startTime", window.Start.Format(time.RFC3339))
	params.Set("interval.endTime", window.End.Format(time.RFC3339))
	params.Set("view", "FULL")
	params.Set("pageSize", strconv.Itoa(c.pageSize))
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}
	urlStr := fmt.Sprintf("%s/v3/projects/%s/timeSeries?%s", c.endpoint, project, params.Encode())

	resp, err := c.doRequestWithRetry(ctx, http.MethodGet, urlStr)
	if err != nil {
		return nil, fmt.Errorf("monitoring API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &models.AuthorizationError{
			StatusCode: resp.StatusCode,
			Detail:     readBodySnippet(resp.Body),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("monitoring API returned status %d: %s",
			resp.StatusCode, readBodySnippet(resp.Body))
	}

	var page listTimeSeriesResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to parse monitoring API response: %w", err)
	}
	return &page, nil
}

func (c *MonitoringCollector) doRequestWithRetry(ctx context.Context, method, urlStr string) (*http.Response, error) {
	var lastErr error
	backoff := time.Duration(c.backoffMS) * time.Millisecond

	// always make at least one attempt, whatever the retry config says
	retries := c.retries
	if retries < 1 {
		retries = 1
	}

	for attempt := 1; attempt <= retries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.tokenSource != nil {
			token, err := c.tokenSource.Token()
			if err != nil {
				return nil, &models.AuthorizationError{Detail: err.Error()}
			}
			token.SetAuthHeader(req)
		}

		resp, err := c.client.Do(req)
		// transport error (timeout, connection refused, etc.)
		if err != nil {
			lastErr = err
			c.logger.Warn("monitoring API request failed (transport)",
				"attempt", attempt, "url", urlStr, "error", err)
		} else if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, readBodySnippet(resp.Body))
			_ = resp.Body.Close()
			c.logger.Warn("monitoring API retryable response",
				"attempt", attempt, "url", urlStr, "status", resp.StatusCode)
		} else {
			return resp, nil
		}

		if attempt == retries || ctx.Err() != nil {
			break
		}

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.logger.Error("monitoring API request exhausted retries",
		"url", urlStr, "retries", retries, "error", lastErr)
	return nil, lastErr
}

// capDimensionedFamilies keeps only the top-N dimension keys per family,
// ranked by total sample value over the window. Ties break on dimension
// key so the cut is deterministic.
func (c *MonitoringCollector) capDimensionedFamilies(series []models.FetchedSeries) []models.FetchedSeries {
	type ranked struct {
		idx   int
		total float64
	}
	byMetric := map[models.MetricType][]ranked{}
	for i, s := range series {
		spec, err := models.SpecFor(s.Metric)
		if err != nil || !spec.Dimensioned() {
			continue
		}
		total := 0.0
		for _, p := range s.Samples {
			total += p.Value
		}
		byMetric[s.Metric] = append(byMetric[s.Metric], ranked{idx: i, total: total})
	}

	drop := map[int]bool{}
	for metric, rs := range byMetric {
		if len(rs) <= c.topStatements {
			continue
		}
		sort.Slice(rs, func(i, j int) bool {
			if rs[i].total != rs[j].total {
				return rs[i].total > rs[j].total
			}
			return series[rs[i].idx].DimensionKey < series[rs[j].idx].DimensionKey
		})
		for _, r := range rs[c.topStatements:] {
			drop[r.idx] = true
		}
		c.logger.Debug("capped dimensioned family",
			"metric", metric.String(), "kept", c.topStatements, "dropped", len(rs)-c.topStatements)
	}
	if len(drop) == 0 {
		return series
	}

	out := series[:0]
	for i, s := range series {
		if !drop[i] {
			out = append(out, s)
		}
	}
	return out
}

func countSamples(series []models.FetchedSeries) int {
	n := 0
	for _, s := range series {
		n += len(s.Samples)
	}
	return n
}

// sortSeries fixes handoff order: metric enum order, then dimension key.
func sortSeries(series []models.FetchedSeries) {
	sort.SliceStable(series, func(i, j int) bool {
		if series[i].Metric != series[j].Metric {
			return series[i].Metric < series[j].Metric
		}
		return series[i].DimensionKey < series[j].DimensionKey
	})
}

func displayName(dim string, labels map[string]string) string {
	if q := labels["querystring"]; q != "" {
		if len(q) > maxStatementDisplayLen {
			return q[:maxStatementDisplayLen] + "..."
		}
		return q
	}
	return dim
}

func readBodySnippet(r io.Reader) string {
	const max = 8 << 10 // 8KB
	b, _ := io.ReadAll(io.LimitReader(r, max))
	return string(b)
}
