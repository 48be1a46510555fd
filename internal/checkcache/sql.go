package checkcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"filesweep/internal/state"
)

// SQL stores entries in the check_cache table of the state database.
type SQL struct {
	db   *sql.DB
	opts Options
}

// NewSQL returns a cache over the state database handle.
func NewSQL(db *sql.DB, opts Options) *SQL {
	return &SQL{db: db, opts: opts}
}

func (c *SQL) Get(ctx context.Context, key string) (Entry, bool, error) {
	var (
		status   string
		verified int64
	)
	err := state.RetryOnBusy(ctx, func() error {
		return c.db.QueryRowContext(ctx,
			"SELECT status, verified_at FROM check_cache WHERE environment = ? AND key = ?",
			c.opts.Environment, key).Scan(&status, &verified)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("check cache lookup %q: %w", key, err)
	}
	return Entry{Key: key, Status: Status(status), VerifiedAt: time.Unix(verified, 0)}, true, nil
}

func (c *SQL) ShouldSkip(ctx context.Context, key string) (bool, error) {
	entry, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return skippable(entry, c.opts.now(), c.opts.TTL), nil
}

func (c *SQL) Record(ctx context.Context, status Status, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	verified := c.opts.now().Unix()
	err := state.RetryOnBusy(ctx, func() error {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO check_cache (environment, key, status, verified_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (environment, key) DO UPDATE SET status = excluded.status, verified_at = excluded.verified_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, key := range keys {
			if _, err := stmt.ExecContext(ctx, c.opts.Environment, key, string(status), verified); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("check cache record: %w", err)
	}
	return nil
}

// Close is a no-op; the state store owns the database handle.
func (c *SQL) Close() error { return nil }
