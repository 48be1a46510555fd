package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"filesweep/internal/checkcache"
	"filesweep/internal/collector"
	"filesweep/internal/confirm"
	"filesweep/internal/logging"
	"filesweep/internal/metrics"
	"filesweep/internal/objectstore"
	"filesweep/internal/reconcile"
	"filesweep/internal/state"
)

const (
	defaultBatchSize  = 100
	defaultSampleSize = 10
	// maxLoggedWarnings caps per-key diff warnings in the log; the count is
	// always reported in full.
	maxLoggedWarnings = 50
)

// Runner wires the reconciliation components for one invocation.
type Runner struct {
	Collector ReferenceCollector
	Analyzer  InventoryAnalyzer
	// Cache may be nil, which disables skipping.
	Cache checkcache.Cache
	State ProgressStore
	// Quarantine binds a quarantiner to the run id, which is only known once
	// a resumable checkpoint has been looked up.
	Quarantine func(runID string) Quarantiner
	Gate       confirm.Gate
	// Lock takes the environment lock before the first destructive batch.
	Lock func(ctx context.Context, runID string) (RunLock, error)
	// Metrics is optional.
	Metrics *metrics.Run
	Logger  *slog.Logger
}

type run struct {
	*Runner
	rc      RunContext
	logger  *slog.Logger
	summary *Summary
}

// Run drives one reconciliation. The returned Summary is populated as far as
// the run progressed. Errors are a *PhaseError for systemic failures,
// ErrInterrupted when cancelled during quarantining, or ErrPartialFailure
// when the run finished with object-level failures.
func (r *Runner) Run(ctx context.Context, rc RunContext) (Summary, error) {
	if rc.BatchSize <= 0 {
		rc.BatchSize = defaultBatchSize
	}
	if rc.SampleSize <= 0 {
		rc.SampleSize = defaultSampleSize
	}
	summary := Summary{
		Environment: rc.Environment,
		DryRun:      rc.DryRun,
		State:       StateInit,
		StartedAt:   rc.now(),
	}
	runner := *r
	if runner.Cache == nil {
		runner.Cache = checkcache.Nop{}
	}
	x := &run{
		Runner:  &runner,
		rc:      rc,
		logger:  logging.NewComponentLogger(r.Logger, "sweep"),
		summary: &summary,
	}

	err := x.execute(ctx)

	summary.FinishedAt = rc.now()
	summary.Duration = summary.FinishedAt.Sub(summary.StartedAt)
	if err != nil {
		summary.ErrorMessage = err.Error()
	}
	if r.Metrics != nil {
		r.Metrics.Observe(metrics.Snapshot{
			References:         summary.ExpectedKeys,
			Objects:            summary.Objects,
			Orphans:            summary.Orphans,
			Missing:            summary.Missing,
			Quarantined:        summary.Quarantined,
			QuarantineFailures: summary.Failed,
			SkippedCached:      summary.SkippedCached,
			CollectionErrors:   summary.CollectionErrors,
			QuarantinedBytes:   summary.QuarantinedBytes,
			Succeeded:          err == nil || errors.Is(err, ErrPartialFailure),
			Duration:           summary.Duration,
			FinishedAt:         summary.FinishedAt,
		})
	}
	return summary, err
}

func (x *run) transition(ctx context.Context, to State) context.Context {
	x.summary.State = to
	ctx = logging.WithPhase(ctx, string(to))
	logging.WithContext(ctx, x.logger).Debug("state transition")
	return ctx
}

func (x *run) fail(ctx context.Context, phase State, err error) error {
	x.summary.State = StateFailed
	logger := logging.WithContext(logging.WithPhase(ctx, string(phase)), x.logger)
	logging.ErrorWithContext(logger, "run failed", logging.EventRunFailed,
		logging.Error(err),
		logging.String(logging.FieldImpact, "run aborted"),
	)
	return &PhaseError{Phase: phase, Err: err}
}

func (x *run) execute(ctx context.Context) error {
	rc := x.rc

	var resumed *state.Checkpoint
	if rc.Resume {
		if rc.DryRun {
			x.logger.Info("dry run ignores --resume; reporting the full candidate set")
		} else {
			cp, err := x.State.LatestResumable(ctx, rc.Environment)
			if err != nil {
				return x.fail(ctx, StateInit, err)
			}
			if cp == nil {
				logging.WarnWithContext(x.logger, "no resumable checkpoint; starting a new run", logging.EventResumeUnavailable,
					logging.String(logging.FieldEnvironment, rc.Environment),
					logging.String(logging.FieldErrorHint, "the previous run completed or never started"),
					logging.String(logging.FieldImpact, "run starts from the beginning"),
				)
			}
			resumed = cp
		}
	}

	runID := rc.RunID
	if resumed != nil {
		runID = resumed.RunID
		x.summary.Resumed = true
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	x.summary.RunID = runID
	ctx = logging.WithRun(ctx, runID, rc.Environment)
	logging.WithContext(ctx, x.logger).Info("run started",
		logging.Bool("dry_run", rc.DryRun),
		logging.Bool("resumed", resumed != nil),
		logging.Int("batch_size", rc.BatchSize),
	)

	refs, objects, err := x.gather(ctx)
	if err != nil {
		return err
	}

	diffCtx := x.transition(ctx, StateDiffing)
	result := reconcile.Diff(refs, objects)
	x.recordDiff(diffCtx, len(refs), len(objects), result)

	candidates := x.selectCandidates(diffCtx, result, resumed)
	if len(candidates) == 0 {
		logging.WithContext(diffCtx, x.logger).Info("nothing to quarantine")
		if resumed != nil {
			if err := x.State.Finish(context.WithoutCancel(ctx), runID, rc.Environment, state.StatusComplete); err != nil {
				return x.fail(ctx, StateCheckpointing, err)
			}
		}
		x.transition(ctx, StateComplete)
		return nil
	}

	if rc.DryRun {
		return x.plan(ctx, runID, candidates)
	}

	confirmCtx := x.transition(ctx, StateConfirming)
	decision, err := x.confirm(confirmCtx, runID, resumed, candidates)
	if err != nil {
		return x.fail(ctx, StateConfirming, err)
	}
	x.summary.ConfirmedBy = decision.Mode
	if !decision.Approved {
		x.summary.Declined = true
		logging.WithContext(confirmCtx, x.logger).Info("quarantine declined; no changes made")
		x.transition(ctx, StateComplete)
		return nil
	}

	return x.quarantine(ctx, runID, resumed, decision, candidates)
}

// gather runs collection and inventory concurrently. Either failing aborts
// both; neither phase persists partial state.
func (x *run) gather(ctx context.Context) ([]collector.FileReference, []objectstore.ObjectRecord, error) {
	x.transition(ctx, StateCollecting)
	var (
		refs    []collector.FileReference
		stats   collector.Stats
		objects []objectstore.ObjectRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = x.Collector.Collect(logging.WithPhase(gctx, string(StateCollecting)), x.rc.Root, func(ref collector.FileReference) {
			refs = append(refs, ref)
		})
		if err != nil {
			return &PhaseError{Phase: StateCollecting, Err: err}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		objects, err = x.Analyzer.Analyze(logging.WithPhase(gctx, string(StateAnalyzing)), x.rc.Root)
		if err != nil {
			return &PhaseError{Phase: StateAnalyzing, Err: err}
		}
		return nil
	})
	err := g.Wait()

	x.summary.References = stats.References
	x.summary.CollectionErrors = stats.CollectionErrors
	x.summary.DataQualityWarnings = stats.DataQualityWarnings
	if err != nil {
		var phaseErr *PhaseError
		if errors.As(err, &phaseErr) {
			return nil, nil, x.fail(ctx, phaseErr.Phase, phaseErr.Err)
		}
		return nil, nil, x.fail(ctx, StateCollecting, err)
	}
	x.transition(ctx, StateAnalyzing)
	x.summary.Objects = len(objects)
	return refs, objects, nil
}

func (x *run) recordDiff(ctx context.Context, refCount, objectCount int, result reconcile.Result) {
	s := x.summary
	s.ExpectedKeys = result.ExpectedCount
	s.Matched = result.MatchedCount
	s.Orphans = len(result.Orphans)
	s.Missing = len(result.Missing)
	s.MissingKeys = result.Missing
	s.DiffWarnings = len(result.Warnings)

	logger := logging.WithContext(ctx, x.logger)
	for i, w := range result.Warnings {
		if i == maxLoggedWarnings {
			logger.Info("further diff warnings omitted", logging.Int("omitted", len(result.Warnings)-i))
			break
		}
		logging.WarnWithContext(logger, "reference inconsistency", logging.EventDiffWarning,
			logging.Key(w.Key),
			logging.String("kind", string(w.Kind)),
			logging.Any("sources", w.Sources),
			logging.String(logging.FieldErrorHint, "informational; the key is classified once"),
			logging.String(logging.FieldImpact, "none"),
		)
	}
	logger.Info("reconciliation complete",
		logging.Int("references", refCount),
		logging.Int("objects", objectCount),
		logging.Int("matched", result.MatchedCount),
		logging.Int("orphans", len(result.Orphans)),
		logging.Int("missing", len(result.Missing)),
	)
}

// selectCandidates filters orphans through the resume cursor and the file
// check cache. Only a fresh "matched" verification skips a key. Dry runs
// read the cache but never write it, so repeated dry runs agree.
func (x *run) selectCandidates(ctx context.Context, result reconcile.Result, resumed *state.Checkpoint) []objectstore.ObjectRecord {
	logger := logging.WithContext(ctx, x.logger)
	if !x.rc.DryRun && len(result.MatchedKeys) > 0 {
		if err := x.Cache.Record(ctx, checkcache.StatusMatched, result.MatchedKeys...); err != nil {
			x.cacheWarning(logger, "record matched keys", err)
		}
	}

	var candidates []objectstore.ObjectRecord
	var confirmed []string
	for _, orphan := range result.Orphans {
		if resumed != nil && orphan.Key <= resumed.Cursor {
			x.summary.AlreadyProcessed++
			continue
		}
		skip, err := x.Cache.ShouldSkip(ctx, orphan.Key)
		if err != nil {
			x.cacheWarning(logger, "read cache entry", err)
			skip = false
		}
		if skip {
			x.summary.SkippedCached++
			continue
		}
		candidates = append(candidates, orphan)
		confirmed = append(confirmed, orphan.Key)
		x.summary.CandidateBytes += orphan.SizeBytes
	}
	if !x.rc.DryRun && len(confirmed) > 0 {
		if err := x.Cache.Record(ctx, checkcache.StatusOrphanConfirmed, confirmed...); err != nil {
			x.cacheWarning(logger, "record orphan keys", err)
		}
	}

	x.summary.Candidates = len(candidates)
	for i := 0; i < len(candidates) && i < x.rc.SampleSize; i++ {
		x.summary.Sample = append(x.summary.Sample, candidates[i].Key)
	}
	if x.summary.AlreadyProcessed > 0 {
		logger.Info("skipped orphans covered by checkpoint cursor",
			logging.Int("count", x.summary.AlreadyProcessed),
			logging.String("cursor", resumed.Cursor),
		)
	}
	return candidates
}

func (x *run) cacheWarning(logger *slog.Logger, op string, err error) {
	logging.WarnWithContext(logger, "file check cache unavailable", logging.EventCacheUnavailable,
		logging.String("operation", op),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the cache backend; keys are re-verified when it is down"),
		logging.String(logging.FieldImpact, "no keys skipped"),
	)
}

func (x *run) batches(candidates []objectstore.ObjectRecord) [][]objectstore.ObjectRecord {
	var out [][]objectstore.ObjectRecord
	for start := 0; start < len(candidates); start += x.rc.BatchSize {
		end := min(start+x.rc.BatchSize, len(candidates))
		out = append(out, candidates[start:end])
	}
	return out
}

// BatchID returns the deterministic id of the index-th batch (1-based) of
// runID, so a resumed run names its batches like an uninterrupted one.
func BatchID(runID string, index int) string {
	prefix := runID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("%s-%05d", prefix, index)
}

func batchPrefix(runID string) string {
	return strings.TrimSuffix(BatchID(runID, 0), "00000")
}

// batchSeq parses the index out of a batch id minted by BatchID for runID.
func batchSeq(runID, batchID string) (int, bool) {
	digits, ok := strings.CutPrefix(batchID, batchPrefix(runID))
	if !ok {
		return 0, false
	}
	seq, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return seq, true
}

func (x *run) plan(ctx context.Context, runID string, candidates []objectstore.ObjectRecord) error {
	qctx := x.transition(ctx, StateQuarantining)
	q := x.Quarantine(runID)
	for i, batch := range x.batches(candidates) {
		res := q.Quarantine(qctx, BatchID(runID, i+1), batch, true)
		x.summary.WouldQuarantine += len(res.Planned)
		x.summary.Batches++
	}
	logging.WithContext(qctx, x.logger).Info("dry run complete",
		logging.Int("would_quarantine", x.summary.WouldQuarantine),
		logging.String("bytes", humanize.IBytes(uint64(x.summary.CandidateBytes))),
	)
	x.transition(ctx, StateComplete)
	return nil
}

func (x *run) confirm(ctx context.Context, runID string, resumed *state.Checkpoint, candidates []objectstore.ObjectRecord) (confirm.Decision, error) {
	if resumed != nil && resumed.ConfirmedBy != "" {
		logging.WithContext(ctx, x.logger).Info("confirmation carried over from interrupted run",
			logging.String("confirmed_by", resumed.ConfirmedBy),
		)
		return confirm.Decision{Approved: true, Mode: resumed.ConfirmedBy}, nil
	}
	return x.Gate.Confirm(ctx, confirm.Summary{
		Environment:   x.rc.Environment,
		RunID:         runID,
		Candidates:    len(candidates),
		Bytes:         x.summary.CandidateBytes,
		SkippedCached: x.summary.SkippedCached,
		Missing:       x.summary.Missing,
		BatchSize:     x.rc.BatchSize,
		Sample:        x.summary.Sample,
	})
}

func (x *run) quarantine(ctx context.Context, runID string, resumed *state.Checkpoint, decision confirm.Decision, candidates []objectstore.ObjectRecord) error {
	rc := x.rc
	qctx := x.transition(ctx, StateQuarantining)
	// Checkpoint writes must land even after cancellation.
	durable := context.WithoutCancel(ctx)

	lock, err := x.Lock(qctx, runID)
	if err != nil {
		return x.fail(ctx, StateQuarantining, err)
	}
	defer func() {
		if err := lock.Release(durable); err != nil {
			logging.WarnWithContext(x.logger, "release run lock failed", logging.EventRunLock,
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the marker expires on its own; delete it manually to unblock sooner"),
				logging.String(logging.FieldImpact, "next run may wait for lock expiry"),
			)
		}
	}()

	cp := state.Checkpoint{
		RunID:       runID,
		Environment: rc.Environment,
		Status:      state.StatusRunning,
		ConfirmedBy: decision.Mode,
		StartedAt:   x.summary.StartedAt,
		UpdatedAt:   rc.now(),
		Totals:      state.Totals{Skipped: x.summary.SkippedCached},
	}
	q := x.Quarantine(runID)
	if resumed != nil {
		cp = *resumed
		cp.Status = state.StatusRunning
		cp.UpdatedAt = rc.now()
		if err := x.recoverLedger(qctx, q, &cp); err != nil {
			return x.fail(ctx, StateQuarantining, err)
		}
	}
	if err := x.State.Save(durable, cp); err != nil {
		return x.fail(ctx, StateCheckpointing, err)
	}

	for _, batch := range x.batches(candidates) {
		if cause := ctx.Err(); cause != nil {
			return x.interrupt(ctx, cp, cause)
		}

		cp.Batches++
		batchID := BatchID(runID, cp.Batches)
		res := q.Quarantine(qctx, batchID, batch, false)

		cp.Cursor = batch[len(batch)-1].Key
		cp.Totals.Processed += len(batch)
		cp.Totals.Quarantined += len(res.Entries)
		cp.Totals.Failed += len(res.Failures)
		cp.UpdatedAt = rc.now()

		checkpointCtx := x.transition(ctx, StateCheckpointing)
		if err := x.State.SaveBatch(durable, cp, res.Entries); err != nil {
			return x.fail(checkpointCtx, StateCheckpointing, err)
		}

		x.summary.Batches++
		x.summary.Quarantined += len(res.Entries)
		x.summary.QuarantinedBytes += res.Bytes
		x.summary.Failed += len(res.Failures)
		x.summary.Totals = cp.Totals
		for _, f := range res.Failures {
			x.summary.Failures = append(x.summary.Failures, Failure{
				Key:     f.Key,
				BatchID: batchID,
				Stage:   string(f.Stage),
				Error:   f.Err.Error(),
			})
		}
		logging.WithContext(checkpointCtx, x.logger).Info("batch checkpointed",
			logging.BatchID(batchID),
			logging.String("cursor", cp.Cursor),
			logging.Int("quarantined", len(res.Entries)),
			logging.Int("failed", len(res.Failures)),
		)

		if err := lock.Refresh(durable); err != nil {
			logging.WarnWithContext(x.logger, "refresh run lock failed", logging.EventRunLock,
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check object store access to the control prefix"),
				logging.String(logging.FieldImpact, "lock may expire before the run ends"),
			)
		}
		qctx = x.transition(ctx, StateQuarantining)
	}

	if err := x.State.Finish(durable, runID, rc.Environment, state.StatusComplete); err != nil {
		return x.fail(ctx, StateCheckpointing, err)
	}
	x.summary.Totals = cp.Totals
	x.transition(ctx, StateComplete)
	logging.WithContext(ctx, x.logger).Info("run complete",
		logging.Int("quarantined", x.summary.Quarantined),
		logging.String("bytes", humanize.IBytes(uint64(x.summary.QuarantinedBytes))),
		logging.Int("failed", x.summary.Failed),
	)
	if x.summary.Failed > 0 {
		return ErrPartialFailure
	}
	return nil
}

// recoverLedger records copies an earlier attempt moved but never checkpointed and
// advances the batch counter past them so batch ids are not reused.
func (x *run) recoverLedger(ctx context.Context, q Quarantiner, cp *state.Checkpoint) error {
	durable := context.WithoutCancel(ctx)
	parked, err := q.Recover(durable, batchPrefix(cp.RunID))
	if err != nil {
		return fmt.Errorf("recover quarantined copies: %w", err)
	}
	for _, e := range parked {
		if seq, ok := batchSeq(cp.RunID, e.BatchID); ok && seq > cp.Batches {
			cp.Batches = seq
		}
	}
	added, err := x.State.RecordEntries(durable, parked)
	if err != nil {
		return err
	}
	if added > 0 {
		cp.Totals.Quarantined += added
		cp.Totals.Processed += added
		logging.WarnWithContext(logging.WithContext(ctx, x.logger), "recorded quarantined copies missing from the ledger", logging.EventLedgerUpdateFailed,
			logging.Int("recovered", added),
			logging.Int("batches", cp.Batches),
			logging.String(logging.FieldErrorHint, "the previous attempt stopped between a move and its checkpoint"),
			logging.String(logging.FieldImpact, "ledger rebuilt from copy metadata"),
		)
	}
	return nil
}

func (x *run) interrupt(ctx context.Context, cp state.Checkpoint, cause error) error {
	if err := x.State.Finish(context.WithoutCancel(ctx), cp.RunID, cp.Environment, state.StatusResumable); err != nil {
		return x.fail(ctx, StateCheckpointing, err)
	}
	x.summary.Totals = cp.Totals
	x.summary.State = StateResumable
	logging.WarnWithContext(logging.WithContext(ctx, x.logger), "run interrupted between batches", logging.EventRunInterrupted,
		logging.String("cursor", cp.Cursor),
		logging.Int("batches", cp.Batches),
		logging.String(logging.FieldErrorHint, "rerun with --resume to continue"),
		logging.String(logging.FieldImpact, "remaining orphans left in place"),
	)
	return fmt.Errorf("%w: %w", ErrInterrupted, cause)
}
