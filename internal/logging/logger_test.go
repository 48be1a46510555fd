package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filesweep/internal/config"
	"filesweep/internal/logging"
)

func TestNewFromConfigWritesRunLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.State.Dir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Debug("debug detail", logging.Key("staging/a.jpg"))

	content, err := os.ReadFile(filepath.Join(cfg.LogDir(), "filesweep.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &record); err != nil {
		t.Fatalf("log file line is not JSON: %v (%q)", err, content)
	}
	if record["msg"] != "debug detail" || record["key"] != "staging/a.jpg" {
		t.Fatalf("unexpected record: %v", record)
	}
	if record["level"] != "debug" {
		t.Fatalf("expected debug level in file log, got %v", record["level"])
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")

	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message without caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")

	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message with caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestConsoleLoggerRendersScope(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-scope.log")

	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := logging.WithPhase(logging.WithRun(context.Background(), "run-1", "staging"), "quarantining")
	component := logging.NewComponentLogger(logger, "quarantine")
	logging.WithContext(ctx, component).Info("batch complete", logging.BatchID("run-1-00001"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if !strings.Contains(line, "quarantine [staging/quarantining]: batch complete") {
		t.Fatalf("unexpected console line: %q", line)
	}
	if !strings.Contains(line, "run_id=run-1") || !strings.Contains(line, "batch_id=run-1-00001") {
		t.Fatalf("expected run and batch fields, got %q", line)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

type captureHandler struct {
	records *[]slog.Record
}

func (h captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h captureHandler) Handle(_ context.Context, r slog.Record) error {
	*h.records = append(*h.records, r)
	return nil
}

func (h captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h captureHandler) WithGroup(string) slog.Handler { return h }

func recordAttrs(r slog.Record) map[string]string {
	out := map[string]string{}
	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value.String()
		return true
	})
	return out
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var records []slog.Record
	logger := slog.New(captureHandler{records: &records})

	logging.WarnWithContext(logger, "placeholder sentinel", logging.EventDataQuality,
		logging.String(logging.FieldImpact, "reference skipped"))

	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	attrs := recordAttrs(records[0])
	if attrs[logging.FieldEventType] != logging.EventDataQuality {
		t.Fatalf("unexpected event type: %v", attrs)
	}
	if attrs[logging.FieldImpact] != "reference skipped" {
		t.Fatalf("caller impact overwritten: %v", attrs)
	}
	if attrs[logging.FieldErrorHint] == "" {
		t.Fatalf("expected default error hint: %v", attrs)
	}
}

func TestFileLogReceivesRecordsBelowConsoleLevel(t *testing.T) {
	dir := t.TempDir()
	console := filepath.Join(dir, "console.log")
	file := filepath.Join(dir, "run.log")

	logger, err := logging.New(logging.Options{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{console},
		FilePath:    file,
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.With(logging.Key("staging/a.jpg")).Info("hello")
	logger.Debug("detail")

	consoleOut, err := os.ReadFile(console)
	if err != nil {
		t.Fatalf("read console log: %v", err)
	}
	fileOut, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read file log: %v", err)
	}
	if !strings.Contains(string(consoleOut), "hello") || strings.Contains(string(consoleOut), "detail") {
		t.Fatalf("unexpected console output: %q", consoleOut)
	}
	if !strings.Contains(string(fileOut), "hello") || !strings.Contains(string(fileOut), "detail") {
		t.Fatalf("file log missing records: %q", fileOut)
	}
	if strings.Count(string(fileOut), "staging/a.jpg") != 1 {
		t.Fatalf("attrs not carried to the file log: %q", fileOut)
	}
}
