package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filesweep/internal/objectstore"
	"filesweep/internal/quarantine"
	"filesweep/internal/state"
	"filesweep/internal/sweep"
)

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{errors.New("boom"), exitFatal},
		{fmt.Errorf("wrapped: %w", sweep.ErrInterrupted), exitFatal},
		{fmt.Errorf("3 objects: %w", sweep.ErrPartialFailure), exitPartialFailure},
	}
	for _, tc := range cases {
		if got := exitCode(tc.err); got != tc.want {
			t.Fatalf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestInterruptedRunIsReported(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{fmt.Errorf("collect: %w", context.Canceled), false},
		{fmt.Errorf("%w: %w", sweep.ErrInterrupted, context.Canceled), true},
		{errors.New("boom"), true},
	}
	for _, tc := range cases {
		if got := shouldReport(tc.err); got != tc.want {
			t.Fatalf("shouldReport(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestRunDryRunJSONLeavesStoreUntouched(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.run(t, nil, "run", "--env", "staging", "--dry-run", "--json")
	if err != nil {
		t.Fatalf("run --dry-run: %v", err)
	}
	var summary sweep.Summary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary: %v\n%s", err, out)
	}
	if summary.Matched != 1 || summary.Orphans != 2 || summary.WouldQuarantine != 2 || !summary.DryRun {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(env.mem.Mutations()) != 0 {
		t.Fatalf("dry run mutated the store: %v", env.mem.Mutations())
	}

	out, _, err = env.run(t, nil, "checkpoint", "show", "--env", "staging")
	if err != nil {
		t.Fatalf("checkpoint show: %v", err)
	}
	requireContains(t, out, "No checkpoint recorded for staging")
}

func TestRunRequiresEnv(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := env.run(t, nil, "run", "--dry-run"); err == nil {
		t.Fatal("expected missing --env to fail")
	}
	_, _, err := env.run(t, nil, "run", "--env", "qa", "--dry-run")
	if err == nil || !strings.Contains(err.Error(), "unknown environment") {
		t.Fatalf("expected unknown environment error, got %v", err)
	}
}

func TestRunInteractiveDecline(t *testing.T) {
	env := setupCLITestEnv(t)

	out, stderr, err := env.run(t, strings.NewReader("n\n"), "run", "--env", "staging")
	if err != nil {
		t.Fatalf("declined run: %v", err)
	}
	requireContains(t, stderr, "Quarantine these objects? [y/N]")
	requireContains(t, out, "Declined at confirmation")
	if !env.mem.Has("staging/orphans/x.bin") || !env.mem.Has("staging/orphans/y.bin") {
		t.Fatal("declined run moved objects")
	}
}

func TestRunQuarantineRestoreRoundTrip(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.run(t, strings.NewReader("yes\n"), "run", "--env", "staging")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	requireContains(t, out, "Quarantined")
	if env.mem.Has("staging/orphans/x.bin") || !env.mem.Has(avatarKey) {
		t.Fatalf("unexpected live keys after run: %v", env.mem.Keys())
	}

	out, _, err = env.run(t, nil, "quarantine", "list", "--env", "staging", "--json")
	if err != nil {
		t.Fatalf("quarantine list: %v", err)
	}
	var entries []state.QuarantineEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode entries: %v\n%s", err, out)
	}
	if len(entries) != 2 || entries[0].BatchID != entries[1].BatchID {
		t.Fatalf("expected one batch of two entries, got %+v", entries)
	}
	batchID := entries[0].BatchID

	out, _, err = env.run(t, nil, "checkpoint", "show", "--env", "staging")
	if err != nil {
		t.Fatalf("checkpoint show: %v", err)
	}
	requireContains(t, out, "complete")
	requireContains(t, out, "interactive")

	out, _, err = env.run(t, nil, "restore", "--env", "staging", "--batch", batchID, "--key", "staging/orphans/x.bin")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	requireContains(t, out, "restored")
	if !env.mem.Has("staging/orphans/x.bin") || env.mem.Has("staging/orphans/y.bin") {
		t.Fatalf("restore touched the wrong keys: %v", env.mem.Keys())
	}

	out, _, err = env.run(t, nil, "quarantine", "list", "--env", "staging", "--all")
	if err != nil {
		t.Fatalf("quarantine list --all: %v", err)
	}
	requireContains(t, out, "restored")
	requireContains(t, out, "quarantined")

	if _, _, err := env.run(t, nil, "restore", "--env", "staging", "--batch", batchID, "--key", "staging/orphans/x.bin"); err == nil {
		t.Fatal("expected second restore of the same key to fail")
	}
}

func TestRunForcedJSONReportsPartialFailure(t *testing.T) {
	env := setupCLITestEnv(t)
	env.mem.FailNextFor(objectstore.OpCopy, "staging/orphans/y.bin", objectstore.ErrAccessDenied, 0)

	out, _, err := env.run(t, nil, "run", "--env", "staging", "--force", "--json")
	if !errors.Is(err, sweep.ErrPartialFailure) {
		t.Fatalf("expected partial failure, got %v", err)
	}
	if exitCode(err) != exitPartialFailure {
		t.Fatalf("expected exit code 2, got %d", exitCode(err))
	}
	var summary sweep.Summary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary: %v\n%s", err, out)
	}
	if summary.Quarantined != 1 || summary.Failed != 1 || summary.ConfirmedBy != "forced" {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summary.Failures) != 1 || summary.Failures[0].Key != "staging/orphans/y.bin" {
		t.Fatalf("unexpected failures: %+v", summary.Failures)
	}
}

func TestPurgeDeletesExpiredQuarantineObjects(t *testing.T) {
	env := setupCLITestEnv(t)
	expired := "staging/quarantine/old00000-00001/staging%2Fold.bin"
	fresh := "staging/quarantine/new00000-00001/staging%2Fnew.bin"
	env.mem.Put(expired, []byte("old"), map[string]string{quarantine.MetaPurgeAfter: "2020-01-01T00:00:00Z"})
	env.mem.Put(fresh, []byte("new"), map[string]string{quarantine.MetaPurgeAfter: "2999-01-01T00:00:00Z"})

	if _, _, err := env.run(t, nil, "purge", "--env", "staging"); err == nil || !strings.Contains(err.Error(), "--force") {
		t.Fatalf("expected purge without --force to be refused, got %v", err)
	}

	out, _, err := env.run(t, nil, "purge", "--env", "staging", "--dry-run")
	if err != nil {
		t.Fatalf("purge --dry-run: %v", err)
	}
	requireContains(t, out, "Would purge")
	if !env.mem.Has(expired) {
		t.Fatal("dry-run purge deleted an object")
	}

	out, _, err = env.run(t, nil, "purge", "--env", "staging", "--force", "--json")
	if err != nil {
		t.Fatalf("purge --force: %v", err)
	}
	var report purgeReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if len(report.Purged) != 1 || report.Purged[0] != expired || report.Retained != 1 {
		t.Fatalf("unexpected purge report: %+v", report)
	}
	if env.mem.Has(expired) || !env.mem.Has(fresh) {
		t.Fatalf("unexpected quarantine contents: %v", env.mem.Keys())
	}
}

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "config.toml")

	cmd := newRootCommand()
	var stdout strings.Builder
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, stdout.String(), "Wrote sample configuration to "+target)
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config not written: %v", err)
	}

	again := newRootCommand()
	again.SetOut(&strings.Builder{})
	again.SetArgs([]string{"config", "init", "--path", target})
	if err := again.Execute(); err == nil || !strings.Contains(err.Error(), "--overwrite") {
		t.Fatalf("expected existing config to be protected, got %v", err)
	}
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	env := setupCLITestEnv(t)
	data, err := os.ReadFile(env.configPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	data = []byte(strings.Replace(string(data), `bucket = "test-bucket"`, "bucket = \"test-bucket\"\nsecret_access_key = \"hunter2\"", 1))
	if err := os.WriteFile(env.configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, _, err := env.run(t, nil, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "hunter2") {
		t.Fatalf("secret leaked: %s", out)
	}
	requireContains(t, out, redacted)
	requireContains(t, out, "test-bucket")
}
