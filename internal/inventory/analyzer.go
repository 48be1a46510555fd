package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"filesweep/internal/logging"
	"filesweep/internal/objectstore"
)

// StoreAnalysisError reports a listing failure that survived every retry.
// The inventory is incomplete and must not be used.
type StoreAnalysisError struct {
	Prefix string
	Err    error
}

func (e *StoreAnalysisError) Error() string {
	return fmt.Sprintf("list %q: %v", e.Prefix, e.Err)
}

func (e *StoreAnalysisError) Unwrap() error { return e.Err }

// Options tune listing concurrency.
type Options struct {
	Workers  int
	PageSize int
}

// Analyzer builds the set of objects actually stored under an environment root.
type Analyzer struct {
	store    objectstore.Store
	workers  int
	pageSize int
	logger   *slog.Logger
}

// New returns an analyzer over store. Retries are the store's concern; wrap it
// with objectstore.NewRetrying.
func New(store objectstore.Store, opts Options, logger *slog.Logger) *Analyzer {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Analyzer{
		store:    store,
		workers:  workers,
		pageSize: opts.PageSize,
		logger:   logging.NewComponentLogger(logger, "inventory"),
	}
}

// Analyze lists every live object under root, sorted by key. The quarantine
// and control prefixes are excluded. Any listing failure discards the whole
// inventory.
func (a *Analyzer) Analyze(ctx context.Context, root string) ([]objectstore.ObjectRecord, error) {
	prefix := objectstore.RootPrefix(root)
	excluded := map[string]struct{}{
		objectstore.QuarantinePrefix(root): {},
		objectstore.ControlPrefix(root):    {},
	}

	var (
		records []objectstore.ObjectRecord
		shards  []string
	)
	err := objectstore.Walk(ctx, a.store, objectstore.ListInput{Prefix: prefix, Delimiter: "/", MaxKeys: a.pageSize}, func(page objectstore.ListPage) error {
		records = append(records, page.Objects...)
		for _, shard := range page.CommonPrefixes {
			if _, skip := excluded[shard]; !skip {
				shards = append(shards, shard)
			}
		}
		return nil
	})
	if err != nil {
		return nil, &StoreAnalysisError{Prefix: prefix, Err: err}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for _, shard := range shards {
		g.Go(func() error {
			var local []objectstore.ObjectRecord
			err := objectstore.Walk(gctx, a.store, objectstore.ListInput{Prefix: shard, MaxKeys: a.pageSize}, func(page objectstore.ListPage) error {
				local = append(local, page.Objects...)
				return nil
			})
			if err != nil {
				return &StoreAnalysisError{Prefix: shard, Err: err}
			}
			mu.Lock()
			records = append(records, local...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })

	var total int64
	for _, rec := range records {
		total += rec.SizeBytes
	}
	logging.WithContext(ctx, a.logger).Info("inventory complete",
		logging.String("prefix", prefix),
		logging.Int("shards", len(shards)),
		logging.Int("objects", len(records)),
		logging.String("size", humanize.IBytes(uint64(total))),
	)
	return records, nil
}
