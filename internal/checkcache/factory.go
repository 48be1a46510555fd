package checkcache

import (
	"context"
	"database/sql"
	"fmt"

	"filesweep/internal/config"
)

// New builds the backend selected by [cache]. db is the state database,
// used by the sqlite backend.
func New(ctx context.Context, cfg config.Cache, db *sql.DB, opts Options) (Cache, error) {
	switch cfg.Backend {
	case "none":
		return Nop{}, nil
	case "redis":
		return DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, opts)
	case "", "sqlite":
		if db == nil {
			return nil, fmt.Errorf("sqlite check cache requires the state database")
		}
		return NewSQL(db, opts), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
