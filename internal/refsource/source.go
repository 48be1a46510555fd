package refsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Row is one record keyed by column name. Values keep the driver's native
// types except UUIDs, which are rendered as canonical strings.
type Row map[string]any

// Query selects Columns from Table, paging by IDColumn.
type Query struct {
	Table    string
	IDColumn string
	Columns  []string
	PageSize int
}

func (q Query) normalized() (Query, error) {
	if strings.TrimSpace(q.Table) == "" {
		return q, errors.New("refsource: table is required")
	}
	if q.IDColumn == "" {
		q.IDColumn = "id"
	}
	if q.PageSize <= 0 {
		q.PageSize = 500
	}
	cols := make([]string, 0, len(q.Columns)+1)
	seen := map[string]struct{}{}
	for _, col := range append([]string{q.IDColumn}, q.Columns...) {
		col = strings.TrimSpace(col)
		if col == "" {
			continue
		}
		if _, ok := seen[col]; ok {
			continue
		}
		seen[col] = struct{}{}
		cols = append(cols, col)
	}
	q.Columns = cols
	return q, nil
}

// Source is a read-only view of the application's relational store. Scan
// walks a table in ascending id order, one page query at a time, and stops at
// the first error fn returns.
type Source interface {
	Scan(ctx context.Context, q Query, fn func(Row) error) error
	Close()
}

// Open connects to the relational store for driver "postgres" or "sqlite".
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (Source, error) {
	switch driver {
	case "postgres":
		return OpenPostgres(ctx, dsn, logger)
	case "sqlite":
		return OpenSQLite(ctx, dsn, logger)
	default:
		return nil, fmt.Errorf("refsource: unsupported driver %q", driver)
	}
}

// ScanError wraps a failed page query. It is fatal to the collection phase.
type ScanError struct {
	Table string
	Err   error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan table %s: %v", e.Table, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }
