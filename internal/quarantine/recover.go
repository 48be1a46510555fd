package quarantine

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"filesweep/internal/logging"
	"filesweep/internal/objectstore"
	"filesweep/internal/state"
)

// Recover rebuilds ledger entries for copies this run parked under batches
// starting with batchPrefix. Only copies whose run-id metadata names this run
// are returned, so a crash between a move and its checkpoint loses no rows.
// Copies with unreadable metadata are skipped with a warning.
func (m *Manager) Recover(ctx context.Context, batchPrefix string) ([]state.QuarantineEntry, error) {
	prefix := objectstore.QuarantinePrefix(m.opts.Root) + batchPrefix
	var parked []objectstore.ObjectRecord
	if err := objectstore.Walk(ctx, m.store, objectstore.ListInput{Prefix: prefix}, func(page objectstore.ListPage) error {
		parked = append(parked, page.Objects...)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	logger := logging.WithContext(ctx, m.logger)
	var entries []state.QuarantineEntry
	for _, obj := range parked {
		rec, err := m.store.Stat(ctx, obj.Key)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", obj.Key, err)
		}
		if rec.Metadata[MetaRunID] != m.opts.RunID {
			continue
		}
		entry, err := m.entryFromCopy(rec)
		if err != nil {
			logging.WarnWithContext(logger, "quarantined copy has unreadable metadata", logging.EventQuarantineFailure,
				logging.Key(obj.Key),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "inspect the copy and restore it manually if needed"),
				logging.String(logging.FieldImpact, "copy not recorded in the ledger"),
			)
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].BatchID != entries[j].BatchID {
			return entries[i].BatchID < entries[j].BatchID
		}
		return entries[i].OriginalKey < entries[j].OriginalKey
	})
	return entries, nil
}

func (m *Manager) entryFromCopy(rec objectstore.ObjectRecord) (state.QuarantineEntry, error) {
	batchID := rec.Metadata[MetaBatchID]
	if batchID == "" {
		return state.QuarantineEntry{}, fmt.Errorf("missing %s", MetaBatchID)
	}
	original, err := url.PathUnescape(rec.Metadata[MetaOriginalKey])
	if err != nil || original == "" {
		return state.QuarantineEntry{}, fmt.Errorf("bad %s %q", MetaOriginalKey, rec.Metadata[MetaOriginalKey])
	}
	purgeAfter, err := time.Parse(time.RFC3339, rec.Metadata[MetaPurgeAfter])
	if err != nil {
		return state.QuarantineEntry{}, fmt.Errorf("bad %s: %w", MetaPurgeAfter, err)
	}
	movedAt := rec.LastModified.UTC()
	if movedAt.IsZero() {
		movedAt = m.opts.Now().UTC()
	}
	return state.QuarantineEntry{
		BatchID:       batchID,
		OriginalKey:   original,
		QuarantineKey: rec.Key,
		RunID:         m.opts.RunID,
		Environment:   m.opts.Environment,
		SizeBytes:     rec.SizeBytes,
		Checksum:      rec.ETag,
		MovedAt:       movedAt,
		PurgeAfter:    purgeAfter.UTC(),
	}, nil
}
