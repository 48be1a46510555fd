package quarantine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"filesweep/internal/logging"
	"filesweep/internal/objectstore"
	"filesweep/internal/state"
)

// Metadata keys written on every quarantined copy.
const (
	MetaOriginalKey = "original-key"
	MetaPurgeAfter  = "purge-after"
	MetaBatchID     = "batch-id"
	MetaRunID       = "run-id"
)

var reservedMeta = []string{MetaOriginalKey, MetaPurgeAfter, MetaBatchID, MetaRunID}

// Stage names the step of a move that failed.
type Stage string

const (
	StageInspect Stage = "inspect"
	StageCopy    Stage = "copy"
	StageVerify  Stage = "verify"
	StageDelete  Stage = "delete"
	StagePurge   Stage = "purge"
	StageRestore Stage = "restore"
)

// MoveError is a per-object failure. The live object is never removed when
// Stage is inspect, copy or verify.
type MoveError struct {
	Key   string
	Stage Stage
	Err   error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Stage, e.Key, e.Err)
}

func (e *MoveError) Unwrap() error { return e.Err }

var (
	errChanged  = errors.New("object changed since inventory")
	errMismatch = errors.New("quarantined copy does not match source")

	// ErrOriginalExists means a restore target is occupied by a live object.
	ErrOriginalExists = errors.New("original key is occupied")
	// ErrEntryClosed means the ledger entry was already purged or restored.
	ErrEntryClosed = errors.New("quarantine entry already purged or restored")
)

// Options bind a manager to one environment and run.
type Options struct {
	Root        string
	Environment string
	RunID       string
	TTL         time.Duration
	Workers     int
	Now         func() time.Time
}

// Manager moves objects between the live namespace and the quarantine prefix.
type Manager struct {
	store  objectstore.Store
	opts   Options
	logger *slog.Logger
}

// New returns a manager. The store should already carry the retry policy.
func New(store objectstore.Store, opts Options, logger *slog.Logger) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{store: store, opts: opts, logger: logging.NewComponentLogger(logger, "quarantine")}
}

// KeyFor returns where originalKey is parked for batchID. The original key is
// escaped into a single path segment so the mapping is reversible.
func (m *Manager) KeyFor(batchID, originalKey string) string {
	return objectstore.QuarantinePrefix(m.opts.Root) + batchID + "/" + url.PathEscape(originalKey)
}

// BatchResult is the outcome of one batch. Entries and Failures together
// cover every object of the batch (Planned in dry-run mode).
type BatchResult struct {
	BatchID  string
	Entries  []state.QuarantineEntry
	Failures []*MoveError
	Planned  []objectstore.ObjectRecord
	Bytes    int64
}

// Quarantine moves each object of batch to the quarantine prefix with the
// copy, verify, delete protocol. Objects run concurrently; the call returns
// only once every object reached a terminal outcome. Cancellation of ctx is
// not propagated to in-flight objects so none is left between copy and delete.
func (m *Manager) Quarantine(ctx context.Context, batchID string, batch []objectstore.ObjectRecord, dryRun bool) BatchResult {
	result := BatchResult{BatchID: batchID}
	logger := logging.WithContext(ctx, m.logger).With(logging.BatchID(batchID))

	if dryRun {
		result.Planned = append(result.Planned, batch...)
		for _, obj := range batch {
			result.Bytes += obj.SizeBytes
		}
		logger.Info("dry run batch", logging.Int("objects", len(batch)))
		return result
	}

	purgeAfter := m.opts.Now().Add(m.opts.TTL).UTC()
	entries := make([]*state.QuarantineEntry, len(batch))
	failures := make([]*MoveError, len(batch))

	safe := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(m.opts.Workers)
	for i, obj := range batch {
		g.Go(func() error {
			entry, err := m.move(safe, batchID, obj, purgeAfter)
			if err != nil {
				failures[i] = err
				logging.WarnWithContext(logger, "quarantine move failed", logging.EventQuarantineFailure,
					logging.Key(obj.Key),
					logging.String("stage", string(err.Stage)),
					logging.Error(err.Err),
					logging.String(logging.FieldErrorHint, "the object was left in place; it is retried on the next run"),
					logging.String(logging.FieldImpact, "orphan not quarantined"),
				)
				return nil
			}
			entries[i] = entry
			return nil
		})
	}
	_ = g.Wait()

	for i := range batch {
		if entries[i] != nil {
			result.Entries = append(result.Entries, *entries[i])
			result.Bytes += entries[i].SizeBytes
		}
		if failures[i] != nil {
			result.Failures = append(result.Failures, failures[i])
		}
	}
	logger.Info("batch quarantined",
		logging.Int("moved", len(result.Entries)),
		logging.Int("failed", len(result.Failures)),
	)
	return result
}

func (m *Manager) move(ctx context.Context, batchID string, obj objectstore.ObjectRecord, purgeAfter time.Time) (*state.QuarantineEntry, *MoveError) {
	fail := func(stage Stage, err error) (*state.QuarantineEntry, *MoveError) {
		return nil, &MoveError{Key: obj.Key, Stage: stage, Err: err}
	}

	source, err := m.store.Stat(ctx, obj.Key)
	if err != nil {
		return fail(StageInspect, err)
	}
	if source.SizeBytes != obj.SizeBytes || (obj.ETag != "" && source.ETag != obj.ETag) {
		return fail(StageInspect, errChanged)
	}

	dest := m.KeyFor(batchID, obj.Key)
	metadata := maps.Clone(source.Metadata)
	if metadata == nil {
		metadata = make(map[string]string, len(reservedMeta))
	}
	metadata[MetaOriginalKey] = url.PathEscape(obj.Key)
	metadata[MetaPurgeAfter] = purgeAfter.Format(time.RFC3339)
	metadata[MetaBatchID] = batchID
	metadata[MetaRunID] = m.opts.RunID

	if err := m.store.Copy(ctx, objectstore.CopyInput{SourceKey: obj.Key, DestKey: dest, Metadata: metadata}); err != nil {
		return fail(StageCopy, err)
	}

	copied, err := m.verify(ctx, source, dest)
	if err != nil {
		m.discard(ctx, dest)
		return fail(StageVerify, err)
	}

	if err := m.store.Delete(ctx, obj.Key); err != nil {
		// The delete may have been applied with only the response lost, so
		// the copy is discarded only once the source is known to exist.
		_, statErr := m.store.Stat(ctx, obj.Key)
		switch {
		case errors.Is(statErr, objectstore.ErrNotFound):
			m.logger.Debug("source delete reported an error but the source is gone",
				logging.Key(obj.Key), logging.Error(err))
		case statErr == nil:
			m.discard(ctx, dest)
			return fail(StageDelete, err)
		default:
			return fail(StageDelete, fmt.Errorf("%w (copy kept at %s: %v)", err, dest, statErr))
		}
	}

	return &state.QuarantineEntry{
		BatchID:       batchID,
		OriginalKey:   obj.Key,
		QuarantineKey: dest,
		RunID:         m.opts.RunID,
		Environment:   m.opts.Environment,
		SizeBytes:     copied.SizeBytes,
		Checksum:      copied.ETag,
		MovedAt:       m.opts.Now().UTC(),
		PurgeAfter:    purgeAfter,
	}, nil
}

// verify confirms dest holds the same bytes as source. ETags are compared
// only when neither comes from a multipart upload.
func (m *Manager) verify(ctx context.Context, source objectstore.ObjectRecord, dest string) (objectstore.ObjectRecord, error) {
	copied, err := m.store.Stat(ctx, dest)
	if err != nil {
		return objectstore.ObjectRecord{}, err
	}
	if copied.SizeBytes != source.SizeBytes {
		return objectstore.ObjectRecord{}, fmt.Errorf("%w: size %d, source %d", errMismatch, copied.SizeBytes, source.SizeBytes)
	}
	if source.ETag != "" && copied.ETag != "" &&
		!objectstore.IsMultipartETag(source.ETag) && !objectstore.IsMultipartETag(copied.ETag) &&
		copied.ETag != source.ETag {
		return objectstore.ObjectRecord{}, fmt.Errorf("%w: etag %s, source %s", errMismatch, copied.ETag, source.ETag)
	}
	return copied, nil
}

// discard removes a copy that must not survive. The source is intact, so a
// failure here only leaves a stray copy for the purge pass.
func (m *Manager) discard(ctx context.Context, key string) {
	if err := m.store.Delete(ctx, key); err != nil {
		m.logger.Debug("discard quarantine copy failed", logging.Key(key), logging.Error(err))
	}
}
