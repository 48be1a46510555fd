package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"filesweep/internal/checkcache"
	"filesweep/internal/collector"
	"filesweep/internal/confirm"
	"filesweep/internal/inventory"
	"filesweep/internal/logging"
	"filesweep/internal/metrics"
	"filesweep/internal/quarantine"
	"filesweep/internal/refsource"
	"filesweep/internal/sweep"
)

type runOptions struct {
	env            string
	batchSize      int
	workers        int
	dryRun         bool
	force          bool
	resume         bool
	checkThreshold time.Duration
	jsonOutput     bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Find orphaned objects and move them into quarantine",
		Long: `Collect every file reference from the database, list the object store,
and quarantine objects nothing references. Quarantined objects are kept for
the configured TTL and can be restored until they are purged.

Use --dry-run to report what would be moved without touching the store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, ctx, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.env, "env", "e", "", "Target environment (development, staging, production)")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Objects per quarantine batch (default from config)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Concurrent object store operations (default from config)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Report candidates without moving anything")
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Skip the confirmation prompt")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "Continue the latest interrupted run")
	cmd.Flags().DurationVar(&opts.checkThreshold, "check-threshold", 0, "Skip keys verified as referenced within this window (default from config)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the run summary as JSON")
	_ = cmd.MarkFlagRequired("env")

	return cmd
}

func runSweep(cmd *cobra.Command, ctx *commandContext, opts runOptions) error {
	runCtx := cmd.Context()
	sess, err := ctx.openSession(runCtx, opts.env)
	if err != nil {
		return err
	}
	defer sess.Close()
	cfg := sess.cfg
	logger := sess.logger

	batchSize := cfg.Run.BatchSize
	if opts.batchSize > 0 {
		batchSize = opts.batchSize
	}
	workers := cfg.Run.Workers
	if opts.workers > 0 {
		workers = opts.workers
	}
	threshold := cfg.CheckThreshold()
	if opts.checkThreshold > 0 {
		threshold = opts.checkThreshold
	}

	source, err := refsource.Open(runCtx, cfg.Database.Driver, sess.env.DatabaseDSN, logger)
	if err != nil {
		return fmt.Errorf("open reference database: %w", err)
	}
	defer source.Close()

	catalog, err := collector.CatalogFromConfig(cfg.Entities)
	if err != nil {
		return err
	}

	cache, err := checkcache.New(runCtx, cfg.Cache, sess.state.DB(), checkcache.Options{
		Environment: sess.env.Name,
		TTL:         threshold,
	})
	if err != nil {
		return fmt.Errorf("open check cache: %w", err)
	}
	defer cache.Close()

	var gate confirm.Gate = confirm.Interactive{
		In:         cmd.InOrStdin(),
		Out:        cmd.ErrOrStderr(),
		Logger:     logger,
		SampleSize: cfg.Run.SampleSize,
	}
	if opts.force {
		gate = confirm.Force{Logger: logger}
	}

	runMetrics := metrics.NewRun(sess.env.Name)
	runner := &sweep.Runner{
		Collector: collector.New(source, catalog, collector.Options{
			Placeholders: cfg.Collector.LegacyPlaceholders,
			LegacyHosts:  cfg.Collector.LegacyHosts,
			PageSize:     cfg.Database.PageSize,
		}, logger),
		Analyzer: inventory.New(sess.store, inventory.Options{
			Workers:  workers,
			PageSize: cfg.ObjectStore.PageSize,
		}, logger),
		Cache: cache,
		State: sess.state,
		Quarantine: func(runID string) sweep.Quarantiner {
			return quarantine.New(sess.store, quarantine.Options{
				Root:        sess.env.Prefix,
				Environment: sess.env.Name,
				RunID:       runID,
				TTL:         cfg.QuarantineTTL(),
				Workers:     workers,
			}, logger)
		},
		Gate: gate,
		Lock: func(lockCtx context.Context, runID string) (sweep.RunLock, error) {
			lock, err := sess.lock(lockCtx, runID)
			if err != nil {
				return nil, err
			}
			return lock, nil
		},
		Metrics: runMetrics,
		Logger:  logger,
	}

	summary, runErr := runner.Run(runCtx, sweep.RunContext{
		Environment:    sess.env.Name,
		Root:           sess.env.Prefix,
		BatchSize:      batchSize,
		Workers:        workers,
		DryRun:         opts.dryRun,
		Force:          opts.force,
		Resume:         opts.resume,
		CheckThreshold: threshold,
		QuarantineTTL:  cfg.QuarantineTTL(),
		LockTTL:        cfg.LockTTL(),
		SampleSize:     cfg.Run.SampleSize,
	})

	if err := runMetrics.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
		logging.WarnWithContext(logger, "metrics textfile not written", logging.EventMetricsWriteFailed,
			logging.Error(err),
			logging.String("path", cfg.Metrics.TextfilePath),
		)
	}

	if errors.Is(runErr, confirm.ErrNotInteractive) {
		runErr = fmt.Errorf("%w; pass --force to run unattended or --dry-run to preview", runErr)
	}

	if opts.jsonOutput {
		if err := writeJSON(cmd, summary); err != nil {
			return err
		}
		return runErr
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderRunSummary(summary))
	return runErr
}

func renderRunSummary(s sweep.Summary) string {
	var b strings.Builder
	mode := "live"
	if s.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(&b, "Run %s (%s, %s): %s\n", s.RunID, s.Environment, mode, s.State)
	if s.Resumed {
		b.WriteString("Resumed from checkpoint\n")
	}
	if s.Declined {
		b.WriteString("Declined at confirmation; nothing was moved\n")
	}

	rows := [][]string{
		{"References", strconv.Itoa(s.References)},
		{"Expected keys", strconv.Itoa(s.ExpectedKeys)},
		{"Objects", strconv.Itoa(s.Objects)},
		{"Matched", strconv.Itoa(s.Matched)},
		{"Orphans", strconv.Itoa(s.Orphans)},
		{"Missing", strconv.Itoa(s.Missing)},
		{"Collection errors", strconv.Itoa(s.CollectionErrors)},
		{"Skipped (cached)", strconv.Itoa(s.SkippedCached)},
		{"Already processed", strconv.Itoa(s.AlreadyProcessed)},
		{"Candidates", fmt.Sprintf("%d (%s)", s.Candidates, humanize.IBytes(uint64(max(s.CandidateBytes, 0))))},
	}
	if s.DryRun {
		rows = append(rows, []string{"Would quarantine", strconv.Itoa(s.WouldQuarantine)})
	} else {
		rows = append(rows,
			[]string{"Quarantined", fmt.Sprintf("%d (%s)", s.Quarantined, humanize.IBytes(uint64(max(s.QuarantinedBytes, 0))))},
			[]string{"Failed", strconv.Itoa(s.Failed)},
			[]string{"Batches", strconv.Itoa(s.Batches)},
		)
	}
	rows = append(rows, []string{"Duration", s.Duration.Round(time.Millisecond).String()})
	b.WriteString(renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))

	if len(s.Sample) > 0 {
		b.WriteString("\nSample candidates:\n")
		for _, key := range s.Sample {
			fmt.Fprintf(&b, "  %s\n", key)
		}
	}
	if len(s.Failures) > 0 {
		failureRows := make([][]string, 0, len(s.Failures))
		for _, f := range s.Failures {
			failureRows = append(failureRows, []string{f.Key, f.Stage, f.Error})
		}
		b.WriteString("\n")
		b.WriteString(renderTable([]string{"Key", "Stage", "Error"}, failureRows, nil))
	}
	return strings.TrimRight(b.String(), "\n")
}
