package confirm

import (
	"context"
	"log/slog"

	"filesweep/internal/logging"
)

// Confirmation modes recorded on the checkpoint and in the audit log.
const (
	ModeInteractive = "interactive"
	ModeForced      = "forced"
)

// Summary is what the operator is asked to approve.
type Summary struct {
	Environment   string
	RunID         string
	Candidates    int
	Bytes         int64
	SkippedCached int
	Missing       int
	BatchSize     int
	// Sample holds a few candidate keys in sorted order.
	Sample []string
}

// Decision is the outcome of a gate.
type Decision struct {
	Approved bool
	Mode     string
}

// Gate approves or declines a destructive run.
type Gate interface {
	Confirm(ctx context.Context, summary Summary) (Decision, error)
}

// Force approves every run without blocking.
type Force struct {
	Logger *slog.Logger
}

// Confirm implements Gate.
func (f Force) Confirm(ctx context.Context, summary Summary) (Decision, error) {
	logger := logging.WithContext(ctx, logging.NewComponentLogger(f.Logger, "confirm"))
	logging.WarnWithContext(logger, "destructive run approved without prompt", logging.EventConfirmationForced,
		logging.Int("candidates", summary.Candidates),
		logging.Int64("bytes", summary.Bytes),
		logging.String(logging.FieldErrorHint, "drop --force to review candidates interactively"),
		logging.String(logging.FieldImpact, "orphans will be quarantined without operator review"),
	)
	return Decision{Approved: true, Mode: ModeForced}, nil
}
