package quarantine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"filesweep/internal/logging"
	"filesweep/internal/objectstore"
)

// PurgeResult lists what a purge pass removed and what it left.
type PurgeResult struct {
	Purged   []objectstore.ObjectRecord
	Retained int
	// Unlabeled objects carry no readable purge-after and are never deleted.
	Unlabeled []string
	Failures  []*MoveError
	Bytes     int64
}

// Purge hard-deletes quarantined objects whose purge-after has passed. The
// expiry is read from each object's own metadata, so the pass works even
// without a local ledger. Listing failures abort the pass.
func (m *Manager) Purge(ctx context.Context, now time.Time, dryRun bool) (PurgeResult, error) {
	prefix := objectstore.QuarantinePrefix(m.opts.Root)
	var parked []objectstore.ObjectRecord
	if err := objectstore.Walk(ctx, m.store, objectstore.ListInput{Prefix: prefix}, func(page objectstore.ListPage) error {
		parked = append(parked, page.Objects...)
		return nil
	}); err != nil {
		return PurgeResult{}, fmt.Errorf("list %s: %w", prefix, err)
	}

	var (
		mu     sync.Mutex
		result PurgeResult
	)
	logger := logging.WithContext(ctx, m.logger)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Workers)
	for _, obj := range parked {
		g.Go(func() error {
			expired, labeled, err := m.expired(gctx, obj.Key, now)
			if err == nil && expired && !dryRun {
				err = m.store.Delete(gctx, obj.Key)
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failures = append(result.Failures, &MoveError{Key: obj.Key, Stage: StagePurge, Err: err})
			case !labeled:
				result.Unlabeled = append(result.Unlabeled, obj.Key)
			case expired:
				result.Purged = append(result.Purged, obj)
				result.Bytes += obj.SizeBytes
			default:
				result.Retained++
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Purged, func(i, j int) bool { return result.Purged[i].Key < result.Purged[j].Key })
	sort.Strings(result.Unlabeled)
	sort.Slice(result.Failures, func(i, j int) bool { return result.Failures[i].Key < result.Failures[j].Key })
	for _, key := range result.Unlabeled {
		logging.WarnWithContext(logger, "quarantined object has no purge-after", logging.EventQuarantineFailure,
			logging.Key(key),
			logging.String(logging.FieldErrorHint, "inspect the object and delete it manually if it is no longer needed"),
			logging.String(logging.FieldImpact, "object kept in quarantine"),
		)
	}
	logger.Info("purge complete",
		logging.Bool("dry_run", dryRun),
		logging.Int("purged", len(result.Purged)),
		logging.Int("retained", result.Retained),
		logging.Int("failed", len(result.Failures)),
	)
	return result, nil
}

func (m *Manager) expired(ctx context.Context, key string, now time.Time) (expired, labeled bool, err error) {
	rec, err := m.store.Stat(ctx, key)
	if err != nil {
		return false, false, err
	}
	raw, ok := rec.Metadata[MetaPurgeAfter]
	if !ok {
		return false, false, nil
	}
	purgeAfter, perr := time.Parse(time.RFC3339, raw)
	if perr != nil {
		return false, false, nil
	}
	return !now.Before(purgeAfter), true, nil
}
