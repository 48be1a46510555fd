package testsupport

import (
	"context"
	"testing"

	"filesweep/internal/config"
	"filesweep/internal/state"
)

// MustOpenState opens a state.Store for tests and registers cleanup.
func MustOpenState(t testing.TB, cfg *config.Config) *state.Store {
	t.Helper()

	store, err := state.OpenFromConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("state.OpenFromConfig: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
