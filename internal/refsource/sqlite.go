package refsource

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"

	"filesweep/internal/logging"
)

// SQLite reads references from a local SQLite copy of the application schema.
// Intended for development snapshots and tests.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens path read-only. A dsn already starting with "file:" is used as given.
func OpenSQLite(ctx context.Context, dsn string, logger *slog.Logger) (*SQLite, error) {
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn + "?mode=ro&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite source: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect sqlite source: %w", err)
	}
	return &SQLite{db: db, logger: logging.NewComponentLogger(logger, "refsource")}, nil
}

func (s *SQLite) Close() {
	_ = s.db.Close()
}

func quoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = `"` + strings.ReplaceAll(part, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

func (s *SQLite) Scan(ctx context.Context, q Query, fn func(Row) error) error {
	q, err := q.normalized()
	if err != nil {
		return err
	}
	idents := make([]string, len(q.Columns))
	for i, col := range q.Columns {
		idents[i] = quoteIdent(col)
	}
	table := quoteIdent(q.Table)
	idCol := quoteIdent(q.IDColumn)
	selectList := strings.Join(idents, ", ")

	first := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT ?", selectList, table, idCol)
	next := fmt.Sprintf("SELECT %s FROM %s WHERE %s > ? ORDER BY %s LIMIT ?", selectList, table, idCol, idCol)

	var lastID any
	for page := 0; ; page++ {
		var rows *sql.Rows
		if page == 0 {
			rows, err = s.db.QueryContext(ctx, first, q.PageSize)
		} else {
			rows, err = s.db.QueryContext(ctx, next, lastID, q.PageSize)
		}
		if err != nil {
			return &ScanError{Table: q.Table, Err: err}
		}
		count, id, err := s.consume(rows, q, fn)
		if err != nil {
			return err
		}
		s.logger.Debug("scanned page", logging.String("table", q.Table), logging.Int("page", page), logging.Int("rows", count))
		if count < q.PageSize {
			return nil
		}
		lastID = id
	}
}

func (s *SQLite) consume(rows *sql.Rows, q Query, fn func(Row) error) (int, any, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return 0, nil, &ScanError{Table: q.Table, Err: err}
	}
	count := 0
	var lastID any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return count, nil, &ScanError{Table: q.Table, Err: err}
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			if col == q.IDColumn {
				lastID = values[i]
			}
			row[col] = values[i]
		}
		count++
		if err := fn(row); err != nil {
			return count, nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return count, nil, &ScanError{Table: q.Table, Err: err}
	}
	return count, lastID, nil
}
