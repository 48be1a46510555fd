package checkcache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"filesweep/internal/checkcache"
	"filesweep/internal/config"
	"filesweep/internal/testsupport"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newSQL(t *testing.T, c *clock) checkcache.Cache {
	t.Helper()
	store := testsupport.MustOpenState(t, testsupport.NewConfig(t))
	return checkcache.NewSQL(store.DB(), checkcache.Options{Environment: "staging", TTL: 24 * time.Hour, Now: c.Now})
}

func newRedis(t *testing.T, c *clock) checkcache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	cache, err := checkcache.DialRedis(context.Background(), mr.Addr(), "", 0, checkcache.Options{Environment: "staging", TTL: 24 * time.Hour, Now: c.Now})
	if err != nil {
		t.Fatalf("DialRedis failed: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestCacheBackends(t *testing.T) {
	backends := map[string]func(*testing.T, *clock) checkcache.Cache{
		"sql":   newSQL,
		"redis": newRedis,
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
			cache := open(t, c)

			if skip, err := cache.ShouldSkip(ctx, "staging/a.jpg"); err != nil || skip {
				t.Fatalf("unknown key must not skip: %v %v", skip, err)
			}

			if err := cache.Record(ctx, checkcache.StatusMatched, "staging/a.jpg", "staging/b.jpg"); err != nil {
				t.Fatalf("Record matched failed: %v", err)
			}
			if err := cache.Record(ctx, checkcache.StatusOrphanConfirmed, "staging/c.jpg"); err != nil {
				t.Fatalf("Record orphan failed: %v", err)
			}

			c.now = c.now.Add(23 * time.Hour)
			if skip, err := cache.ShouldSkip(ctx, "staging/a.jpg"); err != nil || !skip {
				t.Fatalf("fresh matched entry should skip: %v %v", skip, err)
			}
			if skip, err := cache.ShouldSkip(ctx, "staging/c.jpg"); err != nil || skip {
				t.Fatalf("orphan_confirmed must never skip: %v %v", skip, err)
			}

			entry, ok, err := cache.Get(ctx, "staging/c.jpg")
			if err != nil || !ok || entry.Status != checkcache.StatusOrphanConfirmed {
				t.Fatalf("unexpected entry: %+v %v %v", entry, ok, err)
			}

			// Re-verification overwrites the status.
			if err := cache.Record(ctx, checkcache.StatusOrphanConfirmed, "staging/b.jpg"); err != nil {
				t.Fatalf("Record failed: %v", err)
			}
			if skip, _ := cache.ShouldSkip(ctx, "staging/b.jpg"); skip {
				t.Fatal("key re-verified as orphan must not skip")
			}

			c.now = c.now.Add(2 * time.Hour)
			if skip, _ := cache.ShouldSkip(ctx, "staging/a.jpg"); skip {
				t.Fatal("expired matched entry must not skip")
			}
		})
	}
}

func TestRedisEntriesExpireAndAreNamespaced(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c := &clock{now: time.Now()}
	cache, err := checkcache.DialRedis(ctx, mr.Addr(), "", 0, checkcache.Options{Environment: "production", TTL: time.Hour, Now: c.Now})
	if err != nil {
		t.Fatalf("DialRedis failed: %v", err)
	}
	defer cache.Close()

	if err := cache.Record(ctx, checkcache.StatusMatched, "production/x.jpg"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if !mr.Exists("filesweep:production:production/x.jpg") {
		t.Fatalf("expected namespaced key, have %v", mr.Keys())
	}
	if ttl := mr.TTL("filesweep:production:production/x.jpg"); ttl != time.Hour {
		t.Fatalf("expected 1h expiry, got %v", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, ok, err := cache.Get(ctx, "production/x.jpg"); err != nil || ok {
		t.Fatalf("expected expired entry to be gone: %v %v", ok, err)
	}
}

func TestNopNeverSkips(t *testing.T) {
	ctx := context.Background()
	cache, err := checkcache.New(ctx, config.Cache{Backend: "none"}, nil, checkcache.Options{TTL: time.Hour})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := cache.Record(ctx, checkcache.StatusMatched, "k"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if skip, _ := cache.ShouldSkip(ctx, "k"); skip {
		t.Fatal("nop cache must never skip")
	}
	if _, err := checkcache.New(ctx, config.Cache{Backend: "sqlite"}, nil, checkcache.Options{}); err == nil {
		t.Fatal("expected error for sqlite backend without a database")
	}
}
