package testsupport

import (
	"path/filepath"
	"testing"

	"filesweep/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with a unique temp state directory per
// test, a staging environment, and a single users entity.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.State.Dir = filepath.Join(base, "state")
	cfgVal.ObjectStore.Bucket = "test-bucket"
	cfgVal.Database.Driver = "sqlite"
	cfgVal.Database.DSN = filepath.Join(base, "app.db")
	cfgVal.Run.Workers = 4
	cfgVal.Run.BatchSize = 2
	cfgVal.Environments = map[string]config.Environment{"staging": {Prefix: "staging"}}
	cfgVal.Entities = []config.Entity{{
		Type:       "users",
		Table:      "users",
		IDColumn:   "id",
		Visibility: "public",
		AssetClass: "avatars",
		Fields: []config.Field{{
			Name:           "avatar",
			Kind:           "structured",
			FlagColumn:     "has_avatar",
			FilenameColumn: "avatar_filename",
		}},
	}}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithEntities replaces the reference catalog.
func WithEntities(entities ...config.Entity) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Entities = entities
	}
}

// WithCacheBackend selects the file check cache backend.
func WithCacheBackend(backend, redisAddr string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cache.Backend = backend
		b.cfg.Cache.RedisAddr = redisAddr
	}
}

// WithBatchSize overrides the default batch size.
func WithBatchSize(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Run.BatchSize = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.State.Dir)
}
