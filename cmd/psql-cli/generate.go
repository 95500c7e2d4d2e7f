package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/SalmonSung/psql-cli/internal/config"
	"github.com/SalmonSung/psql-cli/internal/models"
	"github.com/SalmonSung/psql-cli/internal/pipeline"
	"github.com/SalmonSung/psql-cli/internal/services"
	"github.com/SalmonSung/psql-cli/pkg/auth"
	"github.com/SalmonSung/psql-cli/pkg/logger"
)

// defaultMonitoringEndpoint is the production API. ADC auth is skipped when
// the endpoint is overridden (local fakes in development).
const defaultMonitoringEndpoint = "https://monitoring.googleapis.com"

type generateOptions struct {
	startTime        string
	endTime          string
	durationHours    int
	safe             bool
	noSafe           bool
	bucketMinutes    int
	compareInstances []string
	timeout          time.Duration
	logLevel         string
	configFile       string
}

func newGenerateCommand() *cobra.Command {
	opts := &generateOptions{}

	cmd := &cobra.Command{
		Use:   "generate PROJECT_ID INSTANCE_ID OUTPUT_DIR",
		Short: "Generate a hotspots report for one observation window",
		Long: `Generate a hotspots report directly from monitoring history.

Provide exactly TWO of --start-time, --end-time and --duration-hours; the
third is derived. Times are UTC at minute granularity, e.g. 2026-01-29T10:15.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, args, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.startTime, "start-time", "", "UTC window start, YYYY-MM-DDTHH:MM (no seconds)")
	f.StringVar(&opts.endTime, "end-time", "", "UTC window end, YYYY-MM-DDTHH:MM (no seconds)")
	f.IntVar(&opts.durationHours, "duration-hours", 0, "window duration in whole hours")
	f.BoolVar(&opts.safe, "safe", true, "assume credentials are already configured")
	f.BoolVar(&opts.noSafe, "no-safe", false, "run the interactive gcloud ADC login before fetching")
	f.IntVar(&opts.bucketMinutes, "bucket-minutes", 0, "bucket granularity in minutes (default: from config, scaled up for day-plus windows)")
	f.StringArrayVar(&opts.compareInstances, "compare-instance", nil, "additional instance to render side by side over the same window (repeatable)")
	f.DurationVar(&opts.timeout, "timeout", 10*time.Minute, "overall run timeout; a timed-out run writes no artifacts")
	f.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&opts.configFile, "config", "", "path to config.yaml")

	return cmd
}

func runGenerate(cmd *cobra.Command, args []string, opts *generateOptions) error {
	projectID, instanceID, outputDir := args[0], args[1], args[2]

	if err := validateSafeFlags(cmd, opts); err != nil {
		return err
	}

	windowReq, err := resolveWindowFlags(cmd, opts)
	if err != nil {
		return err
	}

	if info, err := os.Stat(outputDir); err != nil || !info.IsDir() {
		return fmt.Errorf("output directory %s does not exist or is not a directory", outputDir)
	}

	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	log := logger.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector, err := buildCollector(ctx, cfg, opts, log)
	if err != nil {
		return err
	}

	runner, err := pipeline.NewRunner(cfg, collector, log)
	if err != nil {
		return err
	}

	result, err := runner.Run(ctx, pipeline.Request{
		ProjectID:        projectID,
		InstanceID:       instanceID,
		CompareInstances: opts.compareInstances,
		OutputDir:        outputDir,
		Window:           windowReq,
		BucketOverride:   time.Duration(opts.bucketMinutes) * time.Minute,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.Artifacts.ReportPath)
	return nil
}

// validateSafeFlags treats --safe/--no-safe as one toggle and rejects
// contradictory combinations such as "--safe --no-safe".
func validateSafeFlags(cmd *cobra.Command, opts *generateOptions) error {
	if cmd.Flags().Changed("safe") && cmd.Flags().Changed("no-safe") && opts.safe == opts.noSafe {
		return fmt.Errorf("--safe and --no-safe contradict each other; pass only one")
	}
	return nil
}

// resolveWindowFlags enforces the exactly-two-of-three rule before any
// network activity.
func resolveWindowFlags(cmd *cobra.Command, opts *generateOptions) (models.WindowRequest, error) {
	supplied := 0
	for _, name := range []string{"start-time", "end-time", "duration-hours"} {
		if cmd.Flags().Changed(name) {
			supplied++
		}
	}
	if supplied != 2 {
		return models.WindowRequest{}, fmt.Errorf(
			"%w: provide exactly TWO of --start-time, --end-time, --duration-hours",
			models.ErrInvalidWindowSpec)
	}

	var req models.WindowRequest
	if opts.startTime != "" {
		t, err := models.ParseMinuteTime(opts.startTime)
		if err != nil {
			return models.WindowRequest{}, err
		}
		req.Start = &t
	}
	if opts.endTime != "" {
		t, err := models.ParseMinuteTime(opts.endTime)
		if err != nil {
			return models.WindowRequest{}, err
		}
		req.End = &t
	}
	if cmd.Flags().Changed("duration-hours") {
		if opts.durationHours <= 0 {
			return models.WindowRequest{}, fmt.Errorf("%w: --duration-hours must be positive", models.ErrInvalidWindowSpec)
		}
		req.Duration = time.Duration(opts.durationHours) * time.Hour
	}
	return req, nil
}

func buildCollector(ctx context.Context, cfg *config.Config, opts *generateOptions, log logger.Logger) (*services.MonitoringCollector, error) {
	// --no-safe (or --safe=false) runs the interactive login flow first.
	if opts.noSafe || !opts.safe {
		if err := auth.EnsureLogin(ctx); err != nil {
			return nil, err
		}
	}

	collector := services.NewMonitoringCollector(cfg.Monitoring, cfg.Fetch, cfg.Report, nil, log)
	if cfg.Monitoring.Endpoint != defaultMonitoringEndpoint {
		log.Warn("monitoring endpoint overridden, skipping ADC auth", "endpoint", cfg.Monitoring.Endpoint)
		return collector, nil
	}

	ts, err := auth.TokenSource(ctx)
	if err != nil {
		return nil, &models.AuthorizationError{Detail: err.Error()}
	}
	return services.NewMonitoringCollector(cfg.Monitoring, cfg.Fetch, cfg.Report, ts, log), nil
}
