package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filesweep/internal/config"
	"filesweep/internal/objectstore"
	"filesweep/internal/testsupport"
)

const avatarKey = "staging/public/avatars/users/1/a.jpg"

type cliTestEnv struct {
	baseDir    string
	configPath string
	mem        *objectstore.Memory
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	dbPath := filepath.Join(base, "app.db")
	testsupport.SeedSQLite(t, dbPath,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, has_avatar INTEGER, avatar_filename TEXT)`,
		`INSERT INTO users (id, has_avatar, avatar_filename) VALUES (1, 1, 'a.jpg'), (2, 0, NULL)`,
	)

	cfg := fmt.Sprintf(`[state]
dir = %q

[object_store]
bucket = "test-bucket"

[database]
driver = "sqlite"
dsn = %q

[environments.staging]
prefix = "staging"

[run]
batch_size = 2
workers = 2

[logging]
level = "error"

[[entities]]
type = "users"
table = "users"
id_column = "id"
visibility = "public"
asset_class = "avatars"

  [[entities.fields]]
  name = "avatar"
  kind = "structured"
  flag_column = "has_avatar"
  filename_column = "avatar_filename"
`, filepath.Join(base, "state"), dbPath)

	configPath := filepath.Join(base, "config.toml")
	if err := os.WriteFile(configPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	mem := objectstore.NewMemory()
	testsupport.SeedObjects(mem, 64, avatarKey, "staging/orphans/x.bin", "staging/orphans/y.bin")

	return &cliTestEnv{baseDir: base, configPath: configPath, mem: mem}
}

func (e *cliTestEnv) run(t *testing.T, stdin io.Reader, args ...string) (string, string, error) {
	t.Helper()
	var configFlag string
	cliCtx := newCommandContext(&configFlag)
	cliCtx.openStore = func(context.Context, *config.Config, config.ResolvedEnvironment) (objectstore.Store, error) {
		return e.mem, nil
	}
	cmd := buildRootCommand(cliCtx, &configFlag)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
