package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SalmonSung/psql-cli/internal/models"
)

// findingsDocument is the machine-readable findings artifact. Field order
// and formatting are fixed so identical input produces identical bytes.
type findingsDocument struct {
	Instances []instanceFindings `yaml:"instances"`
}

type instanceFindings struct {
	Label     string           `yaml:"label"`
	Start     string           `yaml:"window_start"`
	End       string           `yaml:"window_end"`
	BucketMin int              `yaml:"bucket_minutes"`
	Warnings  []string         `yaml:"warnings"`
	Anomalies []anomalyFinding `yaml:"anomalies"`
}

type anomalyFinding struct {
	Start      string             `yaml:"start"`
	End        string             `yaml:"end"`
	Severity   int                `yaml:"severity"`
	Metrics    []string           `yaml:"metrics"`
	PeakValues map[string]float64 `yaml:"peak_values"`
	Reason     string             `yaml:"reason"`
}

// writeFindings emits one plain-text summary per anomaly at or above the
// severity floor, plus findings.yaml covering everything. Text output is
// byte-deterministic: no generation timestamps, fixed ordering.
func writeFindings(dir string, reports []models.InstanceReport, minSeverity int) ([]string, string, error) {
	var paths []string
	doc := findingsDocument{}

	seq := 0
	for _, rep := range reports {
		inst := instanceFindings{
			Label:     rep.Label,
			Start:     rep.Window.Start.UTC().Format(time.RFC3339),
			End:       rep.Window.End.UTC().Format(time.RFC3339),
			BucketMin: int(rep.Window.BucketSize.Minutes()),
			Warnings:  []string{},
			Anomalies: []anomalyFinding{},
		}
		for _, w := range rep.Warnings {
			inst.Warnings = append(inst.Warnings, w.String())
		}

		for _, a := range rep.Anomalies {
			inst.Anomalies = append(inst.Anomalies, toFinding(a))

			if a.Severity < minSeverity {
				continue
			}
			seq++
			path := filepath.Join(dir, fmt.Sprintf("finding-%02d.txt", seq))
			if err := os.WriteFile(path, []byte(findingText(seq, rep, a)), 0o644); err != nil {
				return nil, "", fmt.Errorf("write finding summary: %w", err)
			}
			paths = append(paths, path)
		}
		doc.Instances = append(doc.Instances, inst)
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, "", fmt.Errorf("encode findings document: %w", err)
	}
	yamlPath := filepath.Join(dir, "findings.yaml")
	if err := os.WriteFile(yamlPath, out, 0o644); err != nil {
		return nil, "", fmt.Errorf("write findings document: %w", err)
	}
	return paths, yamlPath, nil
}

func toFinding(a models.Anomaly) anomalyFinding {
	f := anomalyFinding{
		Start:      a.Start.UTC().Format(time.RFC3339),
		End:        a.End.UTC().Format(time.RFC3339),
		Severity:   a.Severity,
		Metrics:    make([]string, len(a.Metrics)),
		PeakValues: map[string]float64{},
		Reason:     a.Reason,
	}
	for i, m := range a.Metrics {
		f.Metrics[i] = m.String()
		if i < len(a.PeakValues) {
			f.PeakValues[m.String()] = a.PeakValues[i]
		}
	}
	return f
}

// findingText renders one anomaly as a shareable plain-text block.
func findingText(seq int, rep models.InstanceReport, a models.Anomaly) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SUSPICIOUS FINDING #%d\n", seq)
	fmt.Fprintf(&b, "Instance:     %s\n", rep.Label)
	fmt.Fprintf(&b, "Interval:     %s .. %s (UTC)\n",
		a.Start.UTC().Format(time.RFC3339), a.End.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Severity:     %d (%d metric families concurrently over threshold)\n",
		a.Severity, a.Severity)

	names := make([]string, len(a.Metrics))
	for i, m := range a.Metrics {
		names[i] = m.String()
	}
	fmt.Fprintf(&b, "Metric types: %s\n", strings.Join(names, ", "))

	var peaks []string
	for i, m := range a.Metrics {
		if i >= len(a.PeakValues) {
			break
		}
		unit := ""
		if spec, err := models.SpecFor(m); err == nil {
			unit = " " + spec.Unit
		}
		peaks = append(peaks, fmt.Sprintf("%s=%g%s", m.String(), a.PeakValues[i], unit))
	}
	if len(peaks) > 0 {
		fmt.Fprintf(&b, "Peak values:  %s\n", strings.Join(peaks, ", "))
	}
	fmt.Fprintf(&b, "Reason:       %s\n", a.Reason)
	return b.String()
}
