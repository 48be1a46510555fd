package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const checkpointColumns = "run_id, environment, cursor, batches, processed, quarantined, skipped, failed, status, confirmed_by, started_at, updated_at"

func scanCheckpoint(scanner interface{ Scan(dest ...any) error }) (*Checkpoint, error) {
	var (
		cp         Checkpoint
		status     string
		startedRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&cp.RunID,
		&cp.Environment,
		&cp.Cursor,
		&cp.Batches,
		&cp.Totals.Processed,
		&cp.Totals.Quarantined,
		&cp.Totals.Skipped,
		&cp.Totals.Failed,
		&status,
		&cp.ConfirmedBy,
		&startedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	cp.Status = Status(status)
	if !cp.Status.valid() {
		return nil, fmt.Errorf("%w: run %s has unknown status %q", ErrCheckpointCorrupt, cp.RunID, status)
	}
	var err error
	if cp.StartedAt, err = parseTime(startedRaw); err != nil {
		return nil, fmt.Errorf("%w: run %s started_at: %v", ErrCheckpointCorrupt, cp.RunID, err)
	}
	if cp.UpdatedAt, err = parseTime(updatedRaw); err != nil {
		return nil, fmt.Errorf("%w: run %s updated_at: %v", ErrCheckpointCorrupt, cp.RunID, err)
	}
	if cp.Batches < 0 || cp.Totals.Processed < 0 {
		return nil, fmt.Errorf("%w: run %s has negative counters", ErrCheckpointCorrupt, cp.RunID)
	}
	return &cp, nil
}

func (s *Store) queryCheckpoint(ctx context.Context, query string, args ...any) (*Checkpoint, error) {
	var cp *Checkpoint
	err := RetryOnBusy(ctx, func() error {
		var err error
		cp, err = scanCheckpoint(s.db.QueryRowContext(ctx, query, args...))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp, nil
}

// Load returns the checkpoint for (runID, environment), or nil when none exists.
func (s *Store) Load(ctx context.Context, runID, environment string) (*Checkpoint, error) {
	return s.queryCheckpoint(ctx,
		"SELECT "+checkpointColumns+" FROM checkpoints WHERE run_id = ? AND environment = ?",
		runID, environment)
}

// LatestResumable returns the most recently updated checkpoint for environment
// that may be continued, or nil.
func (s *Store) LatestResumable(ctx context.Context, environment string) (*Checkpoint, error) {
	return s.queryCheckpoint(ctx,
		"SELECT "+checkpointColumns+" FROM checkpoints WHERE environment = ? AND status IN (?, ?) ORDER BY updated_at DESC LIMIT 1",
		environment, string(StatusRunning), string(StatusResumable))
}

// Latest returns the most recently updated checkpoint for environment in any status, or nil.
func (s *Store) Latest(ctx context.Context, environment string) (*Checkpoint, error) {
	return s.queryCheckpoint(ctx,
		"SELECT "+checkpointColumns+" FROM checkpoints WHERE environment = ? ORDER BY updated_at DESC LIMIT 1",
		environment)
}

// Save writes cp without ledger rows; used when a run starts.
func (s *Store) Save(ctx context.Context, cp Checkpoint) error {
	return s.SaveBatch(ctx, cp, nil)
}

// SaveBatch durably records a completed batch: its ledger entries and the
// advanced checkpoint commit in one transaction, so the checkpoint never
// reflects a batch whose entries are not persisted.
func (s *Store) SaveBatch(ctx context.Context, cp Checkpoint, entries []QuarantineEntry) error {
	if !cp.Status.valid() {
		return &CheckpointPersistError{RunID: cp.RunID, Environment: cp.Environment, Err: fmt.Errorf("invalid status %q", cp.Status)}
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = s.now()
	}
	if cp.StartedAt.IsZero() {
		cp.StartedAt = cp.UpdatedAt
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entries {
			if _, err := tx.ExecContext(ctx, `INSERT INTO quarantine_entries
				(batch_id, original_key, quarantine_key, run_id, environment, size_bytes, checksum, moved_at, purge_after, purged_at, restored_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)
				ON CONFLICT (batch_id, original_key) DO UPDATE SET
					quarantine_key = excluded.quarantine_key,
					run_id = excluded.run_id,
					size_bytes = excluded.size_bytes,
					checksum = excluded.checksum,
					moved_at = excluded.moved_at,
					purge_after = excluded.purge_after,
					purged_at = NULL,
					restored_at = NULL`,
				e.BatchID, e.OriginalKey, e.QuarantineKey, e.RunID, e.Environment, e.SizeBytes, e.Checksum,
				formatTime(e.MovedAt), formatTime(e.PurgeAfter),
			); err != nil {
				return fmt.Errorf("insert ledger entry %s/%s: %w", e.BatchID, e.OriginalKey, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO checkpoints (`+checkpointColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (run_id, environment) DO UPDATE SET
				cursor = excluded.cursor,
				batches = excluded.batches,
				processed = excluded.processed,
				quarantined = excluded.quarantined,
				skipped = excluded.skipped,
				failed = excluded.failed,
				status = excluded.status,
				confirmed_by = excluded.confirmed_by,
				updated_at = excluded.updated_at`,
			cp.RunID, cp.Environment, cp.Cursor, cp.Batches,
			cp.Totals.Processed, cp.Totals.Quarantined, cp.Totals.Skipped, cp.Totals.Failed,
			string(cp.Status), cp.ConfirmedBy, formatTime(cp.StartedAt), formatTime(cp.UpdatedAt),
		); err != nil {
			return fmt.Errorf("upsert checkpoint: %w", err)
		}
		return nil
	})
	if err != nil {
		return &CheckpointPersistError{RunID: cp.RunID, Environment: cp.Environment, Err: err}
	}
	return nil
}

// Finish sets the terminal (or resumable) status of a run.
func (s *Store) Finish(ctx context.Context, runID, environment string, status Status) error {
	if !status.valid() {
		return &CheckpointPersistError{RunID: runID, Environment: environment, Err: fmt.Errorf("invalid status %q", status)}
	}
	err := RetryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			"UPDATE checkpoints SET status = ?, updated_at = ? WHERE run_id = ? AND environment = ?",
			string(status), formatTime(s.now()), runID, environment)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("no checkpoint for run %s", runID)
		}
		return nil
	})
	if err != nil {
		return &CheckpointPersistError{RunID: runID, Environment: environment, Err: err}
	}
	return nil
}
