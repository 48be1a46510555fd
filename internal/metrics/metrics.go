package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Snapshot carries the final counts of one run.
type Snapshot struct {
	References         int
	Objects            int
	Orphans            int
	Missing            int
	Quarantined        int
	QuarantineFailures int
	SkippedCached      int
	CollectionErrors   int
	QuarantinedBytes   int64
	Succeeded          bool
	Duration           time.Duration
	FinishedAt         time.Time
}

// Run holds the gauges for one run. Each run gets its own registry so a
// textfile only ever describes the latest run of an environment.
type Run struct {
	Registry *prometheus.Registry

	references         prometheus.Gauge
	objects            prometheus.Gauge
	orphans            prometheus.Gauge
	missing            prometheus.Gauge
	quarantined        prometheus.Gauge
	quarantineFailures prometheus.Gauge
	skippedCached      prometheus.Gauge
	collectionErrors   prometheus.Gauge
	quarantinedBytes   prometheus.Gauge
	success            prometheus.Gauge
	duration           prometheus.Gauge
	lastRun            prometheus.Gauge
}

// NewRun registers the run gauges labelled with environment.
func NewRun(environment string) *Run {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"environment": environment}
	gauge := func(name, help string) prometheus.Gauge {
		return promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	return &Run{
		Registry:           registry,
		references:         gauge("filesweep_references_total", "Expected object keys collected from the relational store"),
		objects:            gauge("filesweep_objects_total", "Objects found under the environment root"),
		orphans:            gauge("filesweep_orphans_total", "Objects with no reference"),
		missing:            gauge("filesweep_missing_total", "References with no object"),
		quarantined:        gauge("filesweep_quarantined_total", "Objects moved to quarantine by the run"),
		quarantineFailures: gauge("filesweep_quarantine_failures_total", "Objects the run failed to quarantine"),
		skippedCached:      gauge("filesweep_skipped_cached_total", "Orphan candidates skipped by the file check cache"),
		collectionErrors:   gauge("filesweep_collection_errors_total", "Relational records skipped as malformed"),
		quarantinedBytes:   gauge("filesweep_quarantined_bytes", "Bytes moved to quarantine by the run"),
		success:            gauge("filesweep_last_run_success", "1 if the last run finished without fatal error"),
		duration:           gauge("filesweep_run_duration_seconds", "Wall time of the last run"),
		lastRun:            gauge("filesweep_last_run_timestamp_seconds", "Unix time the last run finished"),
	}
}

// Observe sets every gauge from snap.
func (r *Run) Observe(snap Snapshot) {
	r.references.Set(float64(snap.References))
	r.objects.Set(float64(snap.Objects))
	r.orphans.Set(float64(snap.Orphans))
	r.missing.Set(float64(snap.Missing))
	r.quarantined.Set(float64(snap.Quarantined))
	r.quarantineFailures.Set(float64(snap.QuarantineFailures))
	r.skippedCached.Set(float64(snap.SkippedCached))
	r.collectionErrors.Set(float64(snap.CollectionErrors))
	r.quarantinedBytes.Set(float64(snap.QuarantinedBytes))
	if snap.Succeeded {
		r.success.Set(1)
	} else {
		r.success.Set(0)
	}
	r.duration.Set(snap.Duration.Seconds())
	if !snap.FinishedAt.IsZero() {
		r.lastRun.Set(float64(snap.FinishedAt.Unix()))
	}
}

// WriteTextfile writes the registry for the node-exporter textfile
// collector. An empty path is a no-op.
func (r *Run) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
