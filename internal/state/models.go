package state

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state recorded on a checkpoint.
type Status string

const (
	StatusRunning   Status = "running"
	StatusResumable Status = "resumable"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
)

func (s Status) valid() bool {
	switch s {
	case StatusRunning, StatusResumable, StatusComplete, StatusFailed:
		return true
	}
	return false
}

// Resumable reports whether a run with this status may be continued.
// A checkpoint left "running" belongs to a process that died mid-run.
func (s Status) Resumable() bool {
	return s == StatusRunning || s == StatusResumable
}

// Totals are the running counters carried across batches.
type Totals struct {
	Processed   int `json:"processed"`
	Quarantined int `json:"quarantined"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
}

// Checkpoint is the durable progress of one destructive run. Cursor is the
// largest original key covered by a completed batch; candidates sort by key.
type Checkpoint struct {
	RunID       string    `json:"run_id"`
	Environment string    `json:"environment"`
	Cursor      string    `json:"cursor"`
	Batches     int       `json:"batches"`
	Totals      Totals    `json:"totals"`
	Status      Status    `json:"status"`
	ConfirmedBy string    `json:"confirmed_by"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// QuarantineEntry records one object moved out of the live namespace.
type QuarantineEntry struct {
	BatchID       string    `json:"batch_id"`
	OriginalKey   string    `json:"original_key"`
	QuarantineKey string    `json:"quarantine_key"`
	RunID         string    `json:"run_id"`
	Environment   string    `json:"environment"`
	SizeBytes     int64     `json:"size_bytes"`
	Checksum      string    `json:"checksum,omitempty"`
	MovedAt       time.Time `json:"moved_at"`
	PurgeAfter    time.Time `json:"purge_after"`
	PurgedAt      time.Time `json:"purged_at,omitzero"`
	RestoredAt    time.Time `json:"restored_at,omitzero"`
}

// Active reports whether the quarantined copy is still expected to exist.
func (e QuarantineEntry) Active() bool {
	return e.PurgedAt.IsZero() && e.RestoredAt.IsZero()
}

// Filter narrows ledger listings. Empty fields match everything.
type Filter struct {
	Environment   string
	BatchID       string
	OriginalKey   string
	IncludeClosed bool
}

var (
	// ErrCheckpointCorrupt reports a stored checkpoint that cannot be decoded.
	ErrCheckpointCorrupt = errors.New("checkpoint corrupt")
	// ErrEntryNotFound reports a ledger update that matched no active entry.
	ErrEntryNotFound = errors.New("quarantine entry not found")
)

// CheckpointPersistError reports a failed checkpoint write. Continuing
// without durable progress risks double-processing on resume.
type CheckpointPersistError struct {
	RunID       string
	Environment string
	Err         error
}

func (e *CheckpointPersistError) Error() string {
	return fmt.Sprintf("persist checkpoint %s/%s: %v", e.Environment, e.RunID, e.Err)
}

func (e *CheckpointPersistError) Unwrap() error { return e.Err }
