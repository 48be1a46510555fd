package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"filesweep/internal/collector"
	"filesweep/internal/objectstore"
	"filesweep/internal/quarantine"
	"filesweep/internal/state"
)

// State is a step of the run state machine.
type State string

const (
	StateInit          State = "INIT"
	StateCollecting    State = "COLLECTING_REFERENCES"
	StateAnalyzing     State = "ANALYZING_STORE"
	StateDiffing       State = "DIFFING"
	StateConfirming    State = "CONFIRMING"
	StateQuarantining  State = "QUARANTINING"
	StateCheckpointing State = "CHECKPOINTING"
	StateComplete      State = "COMPLETE"
	StateFailed        State = "FAILED"
	StateResumable     State = "RESUMABLE"
)

var (
	// ErrInterrupted means the run stopped between batches on cancellation.
	// Its checkpoint is resumable.
	ErrInterrupted = errors.New("run interrupted; continue with --resume")
	// ErrPartialFailure means the run finished but some objects could not be quarantined.
	ErrPartialFailure = errors.New("run completed with object-level failures")
)

// PhaseError is a systemic failure that aborted the run in Phase.
type PhaseError struct {
	Phase State
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// RunContext is the frozen configuration of one invocation. Components
// receive what they need from it; nothing reads ambient globals.
type RunContext struct {
	Environment string
	// Root is the environment prefix every key lives under.
	Root string
	// RunID is generated when empty. A resumed run keeps its original id.
	RunID          string
	BatchSize      int
	Workers        int
	DryRun         bool
	Force          bool
	Resume         bool
	CheckThreshold time.Duration
	QuarantineTTL  time.Duration
	LockTTL        time.Duration
	SampleSize     int
	Now            func() time.Time
}

func (rc RunContext) now() time.Time {
	if rc.Now != nil {
		return rc.Now().UTC()
	}
	return time.Now().UTC()
}

// ReferenceCollector streams expected keys from the relational store.
type ReferenceCollector interface {
	Collect(ctx context.Context, root string, emit func(collector.FileReference)) (collector.Stats, error)
}

// InventoryAnalyzer lists the objects actually stored.
type InventoryAnalyzer interface {
	Analyze(ctx context.Context, root string) ([]objectstore.ObjectRecord, error)
}

// Quarantiner moves one batch of orphans. Recover lists the copies already
// parked under batches starting with batchPrefix.
type Quarantiner interface {
	Quarantine(ctx context.Context, batchID string, batch []objectstore.ObjectRecord, dryRun bool) quarantine.BatchResult
	Recover(ctx context.Context, batchPrefix string) ([]state.QuarantineEntry, error)
}

// ProgressStore persists checkpoints and the quarantine ledger.
type ProgressStore interface {
	LatestResumable(ctx context.Context, environment string) (*state.Checkpoint, error)
	Save(ctx context.Context, cp state.Checkpoint) error
	SaveBatch(ctx context.Context, cp state.Checkpoint, entries []state.QuarantineEntry) error
	Finish(ctx context.Context, runID, environment string, status state.Status) error
	RecordEntries(ctx context.Context, entries []state.QuarantineEntry) (int, error)
}

// RunLock is a held advisory lock on the environment.
type RunLock interface {
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// Failure is one object the run could not quarantine.
type Failure struct {
	Key     string `json:"key"`
	BatchID string `json:"batch_id"`
	Stage   string `json:"stage"`
	Error   string `json:"error"`
}

// Summary is the final report of a run. The counts are always populated
// as far as the run got, including on failure.
type Summary struct {
	RunID       string `json:"run_id"`
	Environment string `json:"environment"`
	State       State  `json:"state"`
	DryRun      bool   `json:"dry_run"`
	Resumed     bool   `json:"resumed"`
	Declined    bool   `json:"declined"`
	ConfirmedBy string `json:"confirmed_by,omitempty"`

	References          int `json:"references"`
	ExpectedKeys        int `json:"expected_keys"`
	Objects             int `json:"objects"`
	Matched             int `json:"matched"`
	Orphans             int `json:"orphans"`
	Missing             int `json:"missing"`
	CollectionErrors    int `json:"collection_errors"`
	DataQualityWarnings int `json:"data_quality_warnings"`
	DiffWarnings        int `json:"diff_warnings"`

	SkippedCached int `json:"skipped_cached"`
	// AlreadyProcessed counts orphans at or before a resumed cursor.
	AlreadyProcessed int   `json:"already_processed"`
	Candidates       int   `json:"candidates"`
	CandidateBytes   int64 `json:"candidate_bytes"`
	WouldQuarantine  int   `json:"would_quarantine"`
	Quarantined      int   `json:"quarantined"`
	QuarantinedBytes int64 `json:"quarantined_bytes"`
	Failed           int   `json:"failed"`
	Batches          int   `json:"batches"`

	// Totals are the checkpoint counters across every attempt of the run.
	Totals state.Totals `json:"totals"`

	Sample       []string                  `json:"sample,omitempty"`
	MissingKeys  []collector.FileReference `json:"missing_keys,omitempty"`
	Failures     []Failure                 `json:"failures,omitempty"`
	StartedAt    time.Time                 `json:"started_at"`
	FinishedAt   time.Time                 `json:"finished_at"`
	Duration     time.Duration             `json:"duration"`
	ErrorMessage string                    `json:"error,omitempty"`
}
