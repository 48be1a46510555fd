package checkcache

import (
	"context"
	"time"
)

// Status is the outcome of the last verification of a key.
type Status string

const (
	StatusMatched         Status = "matched"
	StatusOrphanConfirmed Status = "orphan_confirmed"
)

// Entry is one memoized verification.
type Entry struct {
	Key        string    `json:"key"`
	Status     Status    `json:"status"`
	VerifiedAt time.Time `json:"verified_at"`
}

// Cache memoizes per-key verification results for one environment.
type Cache interface {
	// ShouldSkip reports whether key was verified as matched within the TTL.
	// Entries recorded as orphan_confirmed never skip.
	ShouldSkip(ctx context.Context, key string) (bool, error)
	// Get returns the cached entry for key, if any.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Record stores status for every key as verified now.
	Record(ctx context.Context, status Status, keys ...string) error
	Close() error
}

// Options configure a cache backend.
type Options struct {
	Environment string
	TTL         time.Duration
	Now         func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// skippable is the single skip rule shared by every backend: only a fresh
// matched verification may skip, so the cache can never hasten a deletion.
func skippable(entry Entry, now time.Time, ttl time.Duration) bool {
	if ttl <= 0 || entry.Status != StatusMatched {
		return false
	}
	age := now.Sub(entry.VerifiedAt)
	return age >= 0 && age < ttl
}

// Nop disables caching: nothing is skipped and nothing is stored.
type Nop struct{}

func (Nop) ShouldSkip(context.Context, string) (bool, error) { return false, nil }

func (Nop) Get(context.Context, string) (Entry, bool, error) { return Entry{}, false, nil }

func (Nop) Record(context.Context, Status, ...string) error { return nil }

func (Nop) Close() error { return nil }
