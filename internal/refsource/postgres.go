package refsource

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"filesweep/internal/logging"
)

// Postgres reads references through a pgx pool whose sessions are read-only.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres parses dsn, forces read-only transactions and pings the server.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolCfg.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "filesweep"
	// Collection walks tables sequentially; a couple of connections suffice.
	poolCfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool, logger: logging.NewComponentLogger(logger, "refsource")}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Scan(ctx context.Context, q Query, fn func(Row) error) error {
	q, err := q.normalized()
	if err != nil {
		return err
	}

	idents := make([]string, len(q.Columns))
	for i, col := range q.Columns {
		idents[i] = pgx.Identifier{col}.Sanitize()
	}
	table := pgx.Identifier(strings.Split(q.Table, ".")).Sanitize()
	idCol := pgx.Identifier{q.IDColumn}.Sanitize()
	selectList := strings.Join(idents, ", ")

	first := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT $1", selectList, table, idCol)
	next := fmt.Sprintf("SELECT %s FROM %s WHERE %s > $1 ORDER BY %s LIMIT $2", selectList, table, idCol, idCol)

	var lastID any
	for page := 0; ; page++ {
		var rows pgx.Rows
		if page == 0 {
			rows, err = p.pool.Query(ctx, first, q.PageSize)
		} else {
			rows, err = p.pool.Query(ctx, next, lastID, q.PageSize)
		}
		if err != nil {
			return &ScanError{Table: q.Table, Err: err}
		}

		count, id, err := p.consume(rows, q, fn)
		if err != nil {
			return err
		}
		p.logger.Debug("scanned page", logging.String("table", q.Table), logging.Int("page", page), logging.Int("rows", count))
		if count < q.PageSize {
			return nil
		}
		lastID = id
	}
}

func (p *Postgres) consume(rows pgx.Rows, q Query, fn func(Row) error) (int, any, error) {
	defer rows.Close()
	fields := rows.FieldDescriptions()
	count := 0
	var lastID any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return count, nil, &ScanError{Table: q.Table, Err: err}
		}
		row := make(Row, len(values))
		for i, fd := range fields {
			if fd.Name == q.IDColumn {
				lastID = values[i]
			}
			row[fd.Name] = normalizeValue(values[i])
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

// normalizeValue renders driver-specific identifier types as strings.
func normalizeValue(v any) any {
	switch value := v.(type) {
	case [16]byte:
		return uuid.UUID(value).String()
	case uuid.UUID:
		return value.String()
	default:
		return v
	}
}
