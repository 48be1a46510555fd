package runlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"filesweep/internal/logging"
	"filesweep/internal/objectstore"
)

// ErrLocked means another destructive run holds the environment.
var ErrLocked = errors.New("environment is locked by another run")

// Marker metadata keys.
const (
	MetaRunID     = "run-id"
	MetaExpiresAt = "expires-at"
	MetaHost      = "host"
)

// MarkerName is the lock object under the environment's control prefix.
const MarkerName = "run.lock"

// Options identify the run taking the lock.
type Options struct {
	// LockDir holds the host lock files, one per environment.
	LockDir     string
	Root        string
	Environment string
	RunID       string
	TTL         time.Duration
	Now         func() time.Time
}

// Lock is a held run lock. It combines a host file lock, which stops two
// processes on one machine, with a marker object, which stops runs on
// different machines sharing the bucket.
type Lock struct {
	store     objectstore.Store
	file      *flock.Flock
	markerKey string
	opts      Options
	logger    *slog.Logger
}

// MarkerKey returns the marker object key for root.
func MarkerKey(root string) string {
	return objectstore.ControlPrefix(root) + MarkerName
}

// Acquire takes the host lock and then the marker. A marker left by another
// run is honoured until it expires; an expired marker is replaced. A marker
// carrying the same run id belongs to an interrupted attempt of this run and
// is taken over.
func Acquire(ctx context.Context, store objectstore.Store, opts Options, logger *slog.Logger) (*Lock, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if err := os.MkdirAll(opts.LockDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure lock directory: %w", err)
	}

	file := flock.New(filepath.Join(opts.LockDir, opts.Environment+".lock"))
	ok, err := file.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire host lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: another filesweep process on this host holds %s", ErrLocked, file.Path())
	}

	l := &Lock{
		store:     store,
		file:      file,
		markerKey: MarkerKey(opts.Root),
		opts:      opts,
		logger:    logging.NewComponentLogger(logger, "runlock"),
	}
	if err := l.claim(ctx); err != nil {
		_ = file.Unlock()
		return nil, err
	}
	l.logger.Info("run lock acquired",
		logging.String("marker", l.markerKey),
		logging.String("expires_at", l.expiry().Format(time.RFC3339)),
	)
	return l, nil
}

func (l *Lock) claim(ctx context.Context) error {
	err := l.store.PutMarker(ctx, l.markerKey, l.metadata(), true)
	if err == nil {
		return nil
	}
	if !errors.Is(err, objectstore.ErrPreconditionFailed) {
		return fmt.Errorf("create lock marker: %w", err)
	}

	existing, err := l.store.Stat(ctx, l.markerKey)
	if errors.Is(err, objectstore.ErrNotFound) {
		// Released between our put and stat.
		return l.put(ctx, true)
	}
	if err != nil {
		return fmt.Errorf("inspect lock marker: %w", err)
	}

	holder := existing.Metadata[MetaRunID]
	expires, perr := time.Parse(time.RFC3339, existing.Metadata[MetaExpiresAt])
	switch {
	case holder == l.opts.RunID:
		l.logger.Info("taking over lock marker from earlier attempt of this run")
	case perr != nil:
		logging.WarnWithContext(l.logger, "replacing unreadable lock marker", logging.EventRunLock,
			logging.String("holder", holder),
			logging.String(logging.FieldErrorHint, "check that no other filesweep run targets this environment"),
			logging.String(logging.FieldImpact, "lock marker overwritten"),
		)
	case l.opts.Now().Before(expires):
		return fmt.Errorf("%w: run %s holds %s until %s", ErrLocked, holder, l.markerKey, expires.Format(time.RFC3339))
	default:
		l.logger.Info("replacing expired lock marker",
			logging.String("holder", holder),
			logging.String("expired_at", expires.Format(time.RFC3339)),
		)
	}
	return l.put(ctx, false)
}

func (l *Lock) put(ctx context.Context, ifAbsent bool) error {
	if err := l.store.PutMarker(ctx, l.markerKey, l.metadata(), ifAbsent); err != nil {
		if errors.Is(err, objectstore.ErrPreconditionFailed) {
			return fmt.Errorf("%w: marker %s was claimed concurrently", ErrLocked, l.markerKey)
		}
		return fmt.Errorf("write lock marker: %w", err)
	}
	return nil
}

func (l *Lock) expiry() time.Time {
	return l.opts.Now().Add(l.opts.TTL).UTC()
}

func (l *Lock) metadata() map[string]string {
	host, _ := os.Hostname()
	return map[string]string{
		MetaRunID:     l.opts.RunID,
		MetaExpiresAt: l.expiry().Format(time.RFC3339),
		MetaHost:      host,
	}
}

// Refresh pushes the marker expiry forward. Long runs call it between batches.
// A marker taken over by another run is left alone and ErrLocked is returned.
func (l *Lock) Refresh(ctx context.Context) error {
	existing, err := l.store.Stat(ctx, l.markerKey)
	switch {
	case errors.Is(err, objectstore.ErrNotFound):
		return l.put(ctx, true)
	case err != nil:
		return fmt.Errorf("inspect lock marker: %w", err)
	case existing.Metadata[MetaRunID] != l.opts.RunID:
		return fmt.Errorf("%w: run %s took over %s", ErrLocked, existing.Metadata[MetaRunID], l.markerKey)
	}
	if err := l.store.PutMarker(ctx, l.markerKey, l.metadata(), false); err != nil {
		return fmt.Errorf("refresh lock marker: %w", err)
	}
	return nil
}

// Release deletes the marker if this run still owns it and unlocks the host lock.
func (l *Lock) Release(ctx context.Context) error {
	var errs []error
	existing, err := l.store.Stat(ctx, l.markerKey)
	switch {
	case errors.Is(err, objectstore.ErrNotFound):
	case err != nil:
		errs = append(errs, fmt.Errorf("inspect lock marker: %w", err))
	case existing.Metadata[MetaRunID] != l.opts.RunID:
		logging.WarnWithContext(l.logger, "lock marker owned by another run; leaving it", logging.EventRunLock,
			logging.String("holder", existing.Metadata[MetaRunID]),
			logging.String(logging.FieldErrorHint, "the marker expired during this run and was taken over"),
			logging.String(logging.FieldImpact, "marker not deleted"),
		)
	default:
		if err := l.store.Delete(ctx, l.markerKey); err != nil {
			errs = append(errs, fmt.Errorf("delete lock marker: %w", err))
		}
	}
	if err := l.file.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("release host lock: %w", err))
	}
	return errors.Join(errs...)
}
