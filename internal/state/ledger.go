package state

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const entryColumns = "batch_id, original_key, quarantine_key, run_id, environment, size_bytes, checksum, moved_at, purge_after, purged_at, restored_at"

func scanEntry(scanner interface{ Scan(dest ...any) error }) (QuarantineEntry, error) {
	var (
		e                      QuarantineEntry
		movedRaw, purgeRaw     string
		purgedRaw, restoredRaw sql.NullString
	)
	if err := scanner.Scan(
		&e.BatchID,
		&e.OriginalKey,
		&e.QuarantineKey,
		&e.RunID,
		&e.Environment,
		&e.SizeBytes,
		&e.Checksum,
		&movedRaw,
		&purgeRaw,
		&purgedRaw,
		&restoredRaw,
	); err != nil {
		return QuarantineEntry{}, err
	}
	var err error
	if e.MovedAt, err = parseTime(movedRaw); err != nil {
		return QuarantineEntry{}, fmt.Errorf("moved_at: %w", err)
	}
	if e.PurgeAfter, err = parseTime(purgeRaw); err != nil {
		return QuarantineEntry{}, fmt.Errorf("purge_after: %w", err)
	}
	if e.PurgedAt, err = parseNullableTime(purgedRaw); err != nil {
		return QuarantineEntry{}, fmt.Errorf("purged_at: %w", err)
	}
	if e.RestoredAt, err = parseNullableTime(restoredRaw); err != nil {
		return QuarantineEntry{}, fmt.Errorf("restored_at: %w", err)
	}
	return e, nil
}

// ListQuarantine returns ledger entries matching filter ordered by batch and key.
func (s *Store) ListQuarantine(ctx context.Context, filter Filter) ([]QuarantineEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.Environment != "" {
		where = append(where, "environment = ?")
		args = append(args, filter.Environment)
	}
	if filter.BatchID != "" {
		where = append(where, "batch_id = ?")
		args = append(args, filter.BatchID)
	}
	if filter.OriginalKey != "" {
		where = append(where, "original_key = ?")
		args = append(args, filter.OriginalKey)
	}
	if !filter.IncludeClosed {
		where = append(where, "purged_at IS NULL AND restored_at IS NULL")
	}
	query := "SELECT " + entryColumns + " FROM quarantine_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY batch_id, original_key"

	var entries []QuarantineEntry
	err := RetryOnBusy(ctx, func() error {
		entries = entries[:0]
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list quarantine: %w", err)
	}
	return entries, nil
}

// RecordEntries inserts entries that have no ledger row yet and returns how
// many were added. Existing rows, including closed ones, are left untouched.
func (s *Store) RecordEntries(ctx context.Context, entries []QuarantineEntry) (int, error) {
	var added int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		added = 0
		for _, e := range entries {
			res, err := tx.ExecContext(ctx, `INSERT INTO quarantine_entries (`+entryColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)
				ON CONFLICT DO NOTHING`,
				e.BatchID, e.OriginalKey, e.QuarantineKey, e.RunID, e.Environment, e.SizeBytes, e.Checksum,
				formatTime(e.MovedAt), formatTime(e.PurgeAfter),
			)
			if err != nil {
				return fmt.Errorf("insert ledger entry %s/%s: %w", e.BatchID, e.OriginalKey, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				added += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("record ledger entries: %w", err)
	}
	return added, nil
}

// MarkPurged closes the active entry whose quarantined copy was hard-deleted.
func (s *Store) MarkPurged(ctx context.Context, environment, quarantineKey string, at time.Time) error {
	return s.closeEntry(ctx, "purged_at",
		"environment = ? AND quarantine_key = ?", at, environment, quarantineKey)
}

// MarkRestored closes the active entry whose object was copied back to its original key.
func (s *Store) MarkRestored(ctx context.Context, batchID, originalKey string, at time.Time) error {
	return s.closeEntry(ctx, "restored_at",
		"batch_id = ? AND original_key = ?", at, batchID, originalKey)
}

func (s *Store) closeEntry(ctx context.Context, column, match string, at time.Time, args ...any) error {
	query := "UPDATE quarantine_entries SET " + column + " = ? WHERE " + match +
		" AND purged_at IS NULL AND restored_at IS NULL"
	return RetryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, append([]any{formatNullableTime(at)}, args...)...)
		if err != nil {
			return fmt.Errorf("update ledger: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update ledger: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %v", ErrEntryNotFound, args)
		}
		return nil
	})
}
