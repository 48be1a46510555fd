package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"filesweep/internal/config"
)

func TestLoadDefaultConfigExpandsPathsAndUsesEnvFallbacks(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("FILESWEEP_DATABASE_DSN", "postgres://ro@db/app")
	t.Setenv("FILESWEEP_S3_ENDPOINT", "http://localhost:9000")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "filesweep")
	if cfg.State.Dir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.State.Dir, wantState)
	}
	if cfg.StateDBPath() != filepath.Join(wantState, "filesweep.db") {
		t.Fatalf("unexpected state db path: %q", cfg.StateDBPath())
	}
	if cfg.Database.DSN != "postgres://ro@db/app" {
		t.Fatalf("expected DSN from env, got %q", cfg.Database.DSN)
	}
	if cfg.ObjectStore.Endpoint != "http://localhost:9000" {
		t.Fatalf("expected endpoint from env, got %q", cfg.ObjectStore.Endpoint)
	}
	if cfg.Run.BatchSize != 100 {
		t.Fatalf("unexpected batch size: %d", cfg.Run.BatchSize)
	}
	if cfg.CheckThreshold() != 24*time.Hour {
		t.Fatalf("unexpected check threshold: %s", cfg.CheckThreshold())
	}
	if cfg.QuarantineTTL() != 30*24*time.Hour {
		t.Fatalf("unexpected quarantine ttl: %s", cfg.QuarantineTTL())
	}
	if cfg.Cache.Backend != "sqlite" {
		t.Fatalf("unexpected cache backend: %q", cfg.Cache.Backend)
	}
	if len(cfg.Collector.LegacyPlaceholders) != 2 || cfg.Collector.LegacyPlaceholders[0] != "__stored__" {
		t.Fatalf("unexpected placeholders: %v", cfg.Collector.LegacyPlaceholders)
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(tempHome, "filesweep.toml")
	content := `
[state]
dir = "~/sweep-state"

[object_store]
bucket = " uploads "
page_size = 5000

[database]
driver = "sqlite"
dsn = "/tmp/app.db"

[environments.Staging]
prefix = "/stage/"

[run]
batch_size = 25
workers = 3

[collector]
legacy_hosts = ["CDN.Example.com", "cdn.example.com", " "]

[[entities]]
type = "users"
table = "users"
visibility = "PUBLIC"
asset_class = "avatars"

  [[entities.fields]]
  name = "avatar"
  kind = "Structured"
  flag_column = "has_avatar"
  filename_column = "avatar_filename"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}
	if cfg.State.Dir != filepath.Join(tempHome, "sweep-state") {
		t.Fatalf("unexpected state dir: %q", cfg.State.Dir)
	}
	if cfg.ObjectStore.Bucket != "uploads" {
		t.Fatalf("bucket not trimmed: %q", cfg.ObjectStore.Bucket)
	}
	if cfg.ObjectStore.PageSize != 1000 {
		t.Fatalf("expected page size clamped to 1000, got %d", cfg.ObjectStore.PageSize)
	}
	if cfg.Run.BatchSize != 25 || cfg.Run.Workers != 3 {
		t.Fatalf("unexpected run settings: %+v", cfg.Run)
	}
	if len(cfg.Collector.LegacyHosts) != 1 || cfg.Collector.LegacyHosts[0] != "cdn.example.com" {
		t.Fatalf("unexpected legacy hosts: %v", cfg.Collector.LegacyHosts)
	}
	if cfg.Entities[0].Visibility != "public" || cfg.Entities[0].Fields[0].Kind != "structured" {
		t.Fatalf("entity not normalized: %+v", cfg.Entities[0])
	}
	if cfg.Entities[0].IDColumn != "id" {
		t.Fatalf("expected default id column, got %q", cfg.Entities[0].IDColumn)
	}

	env, err := cfg.Environment("staging")
	if err != nil {
		t.Fatalf("Environment returned error: %v", err)
	}
	if env.Prefix != "stage" || env.Bucket != "uploads" || env.DatabaseDSN != "/tmp/app.db" {
		t.Fatalf("unexpected resolved environment: %+v", env)
	}

	dev, err := cfg.Environment("development")
	if err != nil {
		t.Fatalf("Environment(development) returned error: %v", err)
	}
	if dev.Prefix != "development" {
		t.Fatalf("expected prefix to default to env name, got %q", dev.Prefix)
	}
}

func TestEnvironmentRejectsUnknownName(t *testing.T) {
	cfg := config.Default()
	cfg.ObjectStore.Bucket = "b"
	cfg.Database.DSN = "dsn"
	if _, err := cfg.Environment("qa"); err == nil {
		t.Fatal("expected unknown environment error")
	}
}

func TestEnvironmentRequiresBucketAndDSN(t *testing.T) {
	cfg := config.Default()
	if _, err := cfg.Environment("staging"); err == nil || !strings.Contains(err.Error(), "bucket") {
		t.Fatalf("expected bucket error, got %v", err)
	}
	cfg.ObjectStore.Bucket = "b"
	if _, err := cfg.Environment("staging"); err == nil || !strings.Contains(err.Error(), "dsn") {
		t.Fatalf("expected dsn error, got %v", err)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "unknown environment section",
			mutate: func(c *config.Config) { c.Environments["qa"] = config.Environment{} },
			want:   "environments.qa",
		},
		{
			name:   "bad driver",
			mutate: func(c *config.Config) { c.Database.Driver = "mysql" },
			want:   "database.driver",
		},
		{
			name:   "redis without addr",
			mutate: func(c *config.Config) { c.Cache.Backend = "redis" },
			want:   "cache.redis_addr",
		},
		{
			name:   "jitter out of range",
			mutate: func(c *config.Config) { c.Retry.Jitter = 2 },
			want:   "retry.jitter",
		},
		{
			name: "structured field without filename column",
			mutate: func(c *config.Config) {
				c.Entities = []config.Entity{{
					Type: "users", Table: "users", Visibility: "public",
					Fields: []config.Field{{Name: "avatar", Kind: "structured", FlagColumn: "has_avatar"}},
				}}
			},
			want: "filename_column",
		},
		{
			name: "polymorphic map to unknown entity",
			mutate: func(c *config.Config) {
				c.Entities = []config.Entity{{
					Type: "attachments", Table: "attachments", Visibility: "private",
					Fields: []config.Field{{Name: "file", Kind: "legacy_url", URLColumn: "url"}},
					Polymorphic: &config.Polymorphic{
						TypeColumn: "owner_type", OwnerIDColumn: "owner_id",
						TypeMap: map[string]string{"User": "users"},
					},
				}}
			},
			want: "unknown entity type",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleProducesLoadableConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	path := filepath.Join(tempHome, "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("sample is not valid TOML: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(sample) returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if len(cfg.Entities) != 3 {
		t.Fatalf("expected 3 sample entities, got %d", len(cfg.Entities))
	}
	if cfg.Entities[2].Polymorphic == nil || cfg.Entities[2].Polymorphic.TypeMap["User"] != "users" {
		t.Fatalf("unexpected polymorphic sample: %+v", cfg.Entities[2].Polymorphic)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[run]\nbatchsize = 5\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}
