// Package pipeline wires the stages of one report generation run:
// resolve window -> fetch -> align -> correlate -> detect -> render.
// Each stage owns and fully replaces the collection it produces; nothing
// mutates upstream output, so identical inputs yield identical reports.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/SalmonSung/psql-cli/internal/align"
	"github.com/SalmonSung/psql-cli/internal/anomaly"
	"github.com/SalmonSung/psql-cli/internal/config"
	"github.com/SalmonSung/psql-cli/internal/correlation"
	"github.com/SalmonSung/psql-cli/internal/models"
	"github.com/SalmonSung/psql-cli/internal/report"
	"github.com/SalmonSung/psql-cli/pkg/logger"
)

// dirTimeFormat matches the report directory naming of earlier releases.
const dirTimeFormat = "2006-01-02 15_04 UTC"

// Collector is the fetch boundary. The pipeline treats it as a pull-based
// data source and never reaches around it to the network.
type Collector interface {
	CollectAll(ctx context.Context, project, instance string, window models.ObservationWindow) ([]models.FetchedSeries, []models.Warning, error)
}

// Request describes one generation run.
type Request struct {
	ProjectID  string
	InstanceID string
	// CompareInstances adds side-by-side panels over the same window.
	CompareInstances []string
	OutputDir        string
	Window           models.WindowRequest
	// BucketOverride forces the bucket size; zero selects it from config
	// based on the window duration.
	BucketOverride time.Duration
}

// Result points at the written artifacts.
type Result struct {
	ReportDir string
	Artifacts *report.Artifacts
	Warnings  []models.Warning
}

type Runner struct {
	cfg       *config.Config
	collector Collector
	engine    *correlation.Engine
	detector  *anomaly.Detector
	renderer  *report.Renderer
	logger    logger.Logger
}

func NewRunner(cfg *config.Config, collector Collector, log logger.Logger) (*Runner, error) {
	engine, err := correlation.NewEngine(cfg.Anomaly, log)
	if err != nil {
		return nil, err
	}
	detector, err := anomaly.NewDetector(cfg.Anomaly, log)
	if err != nil {
		return nil, err
	}
	renderer, err := report.NewRenderer(cfg.Report, log)
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:       cfg,
		collector: collector,
		engine:    engine,
		detector:  detector,
		renderer:  renderer,
		logger:    log,
	}, nil
}

// Run executes the whole pipeline. A cancelled or failed run writes no
// artifacts: everything goes to a staging directory that is renamed into
// place only after the last artifact is complete.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	window, err := r.resolveWindow(req)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	r.logger.Info("starting report run",
		"run_id", runID,
		"project", req.ProjectID,
		"instance", req.InstanceID,
		"compare_instances", len(req.CompareInstances),
		"window_start", window.Start.Format(time.RFC3339),
		"window_end", window.End.Format(time.RFC3339),
		"bucket", window.BucketSize.String(),
	)

	instances := append([]string{req.InstanceID}, req.CompareInstances...)
	reports := make([]models.InstanceReport, 0, len(instances))
	var allWarnings []models.Warning

	for _, instance := range instances {
		rep, err := r.buildInstanceReport(ctx, req.ProjectID, instance, window)
		if err != nil {
			return nil, err
		}
		allWarnings = append(allWarnings, rep.Warnings...)
		reports = append(reports, rep)
	}

	if err := ctx.Err(); err != nil {
		// no artifacts for a cancelled run
		return nil, err
	}

	finalDir := filepath.Join(req.OutputDir, fmt.Sprintf("PostgreSQL_Hotspots_%s_%s",
		window.Start.Format(dirTimeFormat), window.End.Format(dirTimeFormat)))

	staging, err := os.MkdirTemp(req.OutputDir, ".hotspots-staging-")
	if err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	artifacts, err := r.renderer.Render(reports, staging)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// replace any report left over from a previous run of the same window
	if err := os.RemoveAll(finalDir); err != nil {
		return nil, fmt.Errorf("clear previous report directory: %w", err)
	}
	if err := os.Rename(staging, finalDir); err != nil {
		return nil, fmt.Errorf("publish report directory: %w", err)
	}
	artifacts = rebaseArtifacts(artifacts, staging, finalDir)

	r.logger.Info("report run complete",
		"run_id", runID,
		"report_dir", finalDir,
		"findings", len(artifacts.FindingPaths),
		"warnings", len(allWarnings),
	)
	return &Result{ReportDir: finalDir, Artifacts: artifacts, Warnings: allWarnings}, nil
}

// buildInstanceReport runs fetch/align/correlate/detect for one instance.
func (r *Runner) buildInstanceReport(
	ctx context.Context,
	project, instance string,
	window models.ObservationWindow,
) (models.InstanceReport, error) {
	label := fmt.Sprintf("%s:%s", project, instance)

	fetched, fetchWarnings, err := r.collector.CollectAll(ctx, project, instance, window)
	if err != nil {
		return models.InstanceReport{}, fmt.Errorf("collect %s: %w", label, err)
	}

	aligned, err := align.BucketizeAll(window, fetched)
	if err != nil {
		return models.InstanceReport{}, fmt.Errorf("align %s: %w", label, err)
	}

	records, err := r.engine.Merge(window, aligned)
	if err != nil {
		return models.InstanceReport{}, fmt.Errorf("correlate %s: %w", label, err)
	}

	detection, err := r.detector.Detect(window, records)
	if err != nil {
		return models.InstanceReport{}, fmt.Errorf("detect %s: %w", label, err)
	}

	warnings := append([]models.Warning{}, fetchWarnings...)
	warnings = append(warnings, detection.Warnings...)

	return models.InstanceReport{
		Label:     label,
		Window:    window,
		Series:    aligned,
		Records:   records,
		Anomalies: detection.Anomalies,
		Warnings:  warnings,
	}, nil
}

func (r *Runner) resolveWindow(req Request) (models.ObservationWindow, error) {
	// Resolve with a probe bucket first; the real granularity may depend
	// on the resolved duration.
	probe, err := req.Window.Resolve(time.Minute)
	if err != nil {
		return models.ObservationWindow{}, err
	}
	bucket := req.BucketOverride
	if bucket <= 0 {
		bucket = r.cfg.Report.BucketSizeFor(probe.Duration())
	}
	probe.BucketSize = bucket
	if err := probe.Validate(); err != nil {
		return models.ObservationWindow{}, err
	}
	return probe, nil
}

func rebaseArtifacts(a *report.Artifacts, from, to string) *report.Artifacts {
	rebase := func(p string) string {
		rel, err := filepath.Rel(from, p)
		if err != nil {
			return p
		}
		return filepath.Join(to, rel)
	}
	out := &report.Artifacts{
		ReportPath:   rebase(a.ReportPath),
		FindingsYAML: rebase(a.FindingsYAML),
	}
	for _, p := range a.FindingPaths {
		out.FindingPaths = append(out.FindingPaths, rebase(p))
	}
	return out
}
