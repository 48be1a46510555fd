package quarantine

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"filesweep/internal/logging"
	"filesweep/internal/objectstore"
	"filesweep/internal/state"
)

// Restore moves a quarantined object back to its original key with the same
// copy, verify, delete discipline. It refuses to overwrite a live object.
func (m *Manager) Restore(ctx context.Context, entry state.QuarantineEntry) error {
	if !entry.Active() {
		return &MoveError{Key: entry.OriginalKey, Stage: StageRestore, Err: ErrEntryClosed}
	}

	parked, err := m.store.Stat(ctx, entry.QuarantineKey)
	if err != nil {
		return &MoveError{Key: entry.OriginalKey, Stage: StageInspect, Err: err}
	}
	if _, err := m.store.Stat(ctx, entry.OriginalKey); err == nil {
		return &MoveError{Key: entry.OriginalKey, Stage: StageInspect, Err: ErrOriginalExists}
	} else if !errors.Is(err, objectstore.ErrNotFound) {
		return &MoveError{Key: entry.OriginalKey, Stage: StageInspect, Err: err}
	}

	metadata := maps.Clone(parked.Metadata)
	if metadata == nil {
		metadata = map[string]string{}
	}
	for _, key := range reservedMeta {
		delete(metadata, key)
	}

	if err := m.store.Copy(ctx, objectstore.CopyInput{SourceKey: entry.QuarantineKey, DestKey: entry.OriginalKey, Metadata: metadata}); err != nil {
		return &MoveError{Key: entry.OriginalKey, Stage: StageCopy, Err: err}
	}
	if _, err := m.verify(ctx, parked, entry.OriginalKey); err != nil {
		m.discard(ctx, entry.OriginalKey)
		return &MoveError{Key: entry.OriginalKey, Stage: StageVerify, Err: err}
	}
	if err := m.store.Delete(ctx, entry.QuarantineKey); err != nil {
		// Both copies exist and match; the ledger still points at the parked one.
		return &MoveError{Key: entry.OriginalKey, Stage: StageDelete, Err: fmt.Errorf("restored but quarantine copy kept: %w", err)}
	}

	logging.WithContext(ctx, m.logger).Info("object restored",
		logging.Key(entry.OriginalKey),
		logging.BatchID(entry.BatchID),
	)
	return nil
}
