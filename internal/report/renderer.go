// Package report turns fully computed pipeline output into the final
// artifacts: one self-contained interactive HTML report, plain-text
// finding summaries, and a machine-readable findings file.
package report

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/SalmonSung/psql-cli/internal/config"
	"github.com/SalmonSung/psql-cli/internal/models"
	"github.com/SalmonSung/psql-cli/pkg/logger"
)

//go:embed report.html.tmpl
var reportTemplate string

// AxisMode names how compare-mode panels share the time axis. Silently
// misaligning axes is a correctness bug, so the active mode is always
// stated in the artifact.
type AxisMode string

const (
	// AxisShared normalizes all panels onto one relative time axis.
	// Requires equal window durations.
	AxisShared AxisMode = "shared"
	// AxisIndependent gives each panel its own absolute axis.
	AxisIndependent AxisMode = "independent"
)

// Artifacts lists what a render produced.
type Artifacts struct {
	ReportPath   string
	FindingPaths []string
	FindingsYAML string
}

type Renderer struct {
	cfg    config.ReportConfig
	logger logger.Logger
	tmpl   *template.Template
}

func NewRenderer(cfg config.ReportConfig, log logger.Logger) (*Renderer, error) {
	tmpl, err := template.New("report").Parse(reportTemplate)
	if err != nil {
		return nil, fmt.Errorf("report template: %w", err)
	}
	return &Renderer{cfg: cfg, logger: log, tmpl: tmpl}, nil
}

// Render writes all artifacts for one or more instance/window triples into
// dir. The renderer consumes only what upstream stages computed; missing or
// malformed inputs fail with a render input error instead of being
// silently defaulted.
func (r *Renderer) Render(reports []models.InstanceReport, dir string) (*Artifacts, error) {
	if err := validateInputs(reports); err != nil {
		return nil, err
	}

	axisMode := resolveAxisMode(reports)

	payload, err := buildPayload(reports, axisMode)
	if err != nil {
		return nil, err
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding chart payload: %v", models.ErrRenderInput, err)
	}

	reportPath := filepath.Join(dir, "report.html")
	f, err := os.Create(reportPath)
	if err != nil {
		return nil, fmt.Errorf("create report artifact: %w", err)
	}
	defer f.Close()

	data := templateData{
		Title:       pageTitle(reports),
		AxisMode:    string(axisMode),
		CompareMode: len(reports) > 1,
		Payload:     template.JS(payloadJSON),
	}
	if err := r.tmpl.Execute(f, data); err != nil {
		return nil, fmt.Errorf("render report artifact: %w", err)
	}

	findingPaths, yamlPath, err := writeFindings(dir, reports, r.cfg.MinFindingSeverity)
	if err != nil {
		return nil, err
	}

	r.logger.Info("report artifacts written",
		"report", reportPath,
		"findings", len(findingPaths),
		"axis_mode", string(axisMode),
	)
	return &Artifacts{
		ReportPath:   reportPath,
		FindingPaths: findingPaths,
		FindingsYAML: yamlPath,
	}, nil
}

type templateData struct {
	Title       string
	AxisMode    string
	CompareMode bool
	Payload     template.JS
}

// validateInputs enforces the renderer's upstream contract.
func validateInputs(reports []models.InstanceReport) error {
	if len(reports) == 0 {
		return fmt.Errorf("%w: no instance reports supplied", models.ErrRenderInput)
	}
	for _, rep := range reports {
		if rep.Label == "" {
			return fmt.Errorf("%w: instance report without label", models.ErrRenderInput)
		}
		if err := rep.Window.Validate(); err != nil {
			return fmt.Errorf("%w: %s: invalid window: %v", models.ErrRenderInput, rep.Label, err)
		}
		if rep.Records == nil {
			return fmt.Errorf("%w: %s: missing unified records", models.ErrRenderInput, rep.Label)
		}
		n := rep.Window.BucketCount()
		if len(rep.Records) != n {
			return fmt.Errorf("%w: %s: %d records for a %d-bucket window",
				models.ErrRenderInput, rep.Label, len(rep.Records), n)
		}
		for i := 1; i < len(rep.Records); i++ {
			if !rep.Records[i-1].BucketStart.Before(rep.Records[i].BucketStart) {
				return fmt.Errorf("%w: %s: unified records not strictly ascending at index %d",
					models.ErrRenderInput, rep.Label, i)
			}
		}
		for _, s := range rep.Series {
			if len(s.Buckets) != n {
				return fmt.Errorf("%w: %s: series %s/%s not aligned to window grid",
					models.ErrRenderInput, rep.Label, s.Metric, s.DimensionKey)
			}
		}
	}
	return nil
}

// resolveAxisMode picks the shared normalized axis only when every window
// has the same duration.
func resolveAxisMode(reports []models.InstanceReport) AxisMode {
	if len(reports) < 2 {
		return AxisShared
	}
	d := reports[0].Window.Duration()
	for _, rep := range reports[1:] {
		if rep.Window.Duration() != d {
			return AxisIndependent
		}
	}
	return AxisShared
}

func pageTitle(reports []models.InstanceReport) string {
	w := reports[0].Window
	return fmt.Sprintf("PostgreSQL Hotspots %s ~ %s UTC",
		w.Start.Format(models.MinuteTimeFormat), w.End.Format(models.MinuteTimeFormat))
}

// buildPayload flattens the instance reports into the JSON consumed by the
// embedded chart script. Gap buckets become nulls so the charts render
// visible breaks instead of fabricated zeroes.
func buildPayload(reports []models.InstanceReport, axisMode AxisMode) (map[string]any, error) {
	instances := make([]map[string]any, 0, len(reports))
	for _, rep := range reports {
		n := rep.Window.BucketCount()
		buckets := make([]string, n)
		for i, rec := range rep.Records {
			buckets[i] = rec.BucketStart.UTC().Format(time.RFC3339)
		}

		charts, err := buildCharts(rep, n)
		if err != nil {
			return nil, err
		}

		anomalies := make([]map[string]any, 0, len(rep.Anomalies))
		for _, a := range rep.Anomalies {
			names := make([]string, len(a.Metrics))
			for i, m := range a.Metrics {
				names[i] = m.String()
			}
			anomalies = append(anomalies, map[string]any{
				"start":    a.Start.UTC().Format(time.RFC3339),
				"end":      a.End.UTC().Format(time.RFC3339),
				"severity": a.Severity,
				"metrics":  names,
				"reason":   a.Reason,
			})
		}

		warnings := make([]string, 0, len(rep.Warnings))
		for _, w := range rep.Warnings {
			warnings = append(warnings, w.String())
		}

		candidates := make([]int, 0)
		for i, rec := range rep.Records {
			if rec.CorrelationCandidate {
				candidates = append(candidates, i)
			}
		}

		instances = append(instances, map[string]any{
			"label": rep.Label,
			"window": map[string]any{
				"start":         rep.Window.Start.UTC().Format(time.RFC3339),
				"end":           rep.Window.End.UTC().Format(time.RFC3339),
				"bucketSeconds": int(rep.Window.BucketSize.Seconds()),
			},
			"buckets":               buckets,
			"charts":                charts,
			"anomalies":             anomalies,
			"warnings":              warnings,
			"correlationCandidates": candidates,
		})
	}

	return map[string]any{
		"axisMode":  string(axisMode),
		"instances": instances,
	}, nil
}

// buildCharts groups one instance's aligned series into one chart per
// metric family, preserving per-dimension identity within the chart.
func buildCharts(rep models.InstanceReport, n int) ([]map[string]any, error) {
	byMetric := map[models.MetricType][]models.AlignedSeries{}
	for _, s := range rep.Series {
		byMetric[s.Metric] = append(byMetric[s.Metric], s)
	}

	charts := make([]map[string]any, 0, len(byMetric))
	for _, m := range models.AllMetricTypes() {
		group, ok := byMetric[m]
		if !ok {
			continue
		}
		spec, err := models.SpecFor(m)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrRenderInput, err)
		}

		series := make([]map[string]any, 0, len(group))
		for _, s := range group {
			values := make([]*float64, n)
			for i, b := range s.Buckets {
				if !b.IsGap {
					v := b.Value
					values[i] = &v
				}
			}
			name := s.DisplayName
			if name == "" {
				name = spec.Title
			}
			series = append(series, map[string]any{
				"name":   name,
				"dim":    s.DimensionKey,
				"values": values,
			})
		}

		charts = append(charts, map[string]any{
			"metric":   m.String(),
			"category": spec.Category,
			"title":    spec.Title,
			"unit":     spec.Unit,
			"series":   series,
		})
	}
	return charts, nil
}
