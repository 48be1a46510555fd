package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType classifies a record for alerting and audit queries.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to do next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldRunID identifies one reconciliation run across resumes.
	FieldRunID = "run_id"
	// FieldEnvironment is the deployment environment a run targets.
	FieldEnvironment = "environment"
	// FieldPhase is the run state machine phase.
	FieldPhase = "phase"
	// FieldBatchID identifies a quarantine batch.
	FieldBatchID = "batch_id"
	// FieldKey is an object store key.
	FieldKey = "key"
)

// Event types shared across packages.
const (
	EventDataQuality             = "data_quality_warning"
	EventCollectionError         = "collection_error"
	EventDiffWarning             = "diff_inconsistency"
	EventQuarantineFailure       = "quarantine_move_failed"
	EventConfirmationForced      = "confirmation_forced"
	EventConfirmationInteractive = "confirmation_interactive"
	EventRunFailed               = "run_failed"
	EventRunInterrupted          = "run_interrupted"
	EventResumeUnavailable       = "resume_unavailable"
	EventCacheUnavailable        = "check_cache_unavailable"
	EventRunLock                 = "run_lock"
	EventMetricsWriteFailed      = "metrics_write_failed"
	EventLedgerUpdateFailed      = "ledger_update_failed"
)

type contextKey int

const (
	runIDKey contextKey = iota
	environmentKey
	phaseKey
)

// WithRun attaches run identity to ctx for WithContext.
func WithRun(ctx context.Context, runID, environment string) context.Context {
	ctx = context.WithValue(ctx, runIDKey, runID)
	return context.WithValue(ctx, environmentKey, environment)
}

// WithPhase attaches the current run phase to ctx for WithContext.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseKey, phase)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := ctx.Value(runIDKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if env, ok := ctx.Value(environmentKey).(string); ok && env != "" {
		fields = append(fields, slog.String(FieldEnvironment, env))
	}
	if phase, ok := ctx.Value(phaseKey).(string); ok && phase != "" {
		fields = append(fields, slog.String(FieldPhase, phase))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
