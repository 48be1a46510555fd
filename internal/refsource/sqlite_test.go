package refsource_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"filesweep/internal/refsource"
)

func seedUsers(t *testing.T, count int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open seed db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, has_avatar INTEGER, avatar_filename TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	for i := 1; i <= count; i++ {
		if _, err := db.Exec(`INSERT INTO users (id, has_avatar, avatar_filename) VALUES (?, 1, ?)`, i*10, "a.jpg"); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	return path
}

func TestSQLiteScanPagesThroughTableInIDOrder(t *testing.T) {
	ctx := context.Background()
	path := seedUsers(t, 5)

	src, err := refsource.Open(ctx, "sqlite", path, nil)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer src.Close()

	var ids []int64
	err = src.Scan(ctx, refsource.Query{Table: "users", Columns: []string{"has_avatar", "avatar_filename"}, PageSize: 2}, func(row refsource.Row) error {
		id, ok := row["id"].(int64)
		if !ok {
			t.Fatalf("expected int64 id, got %T", row["id"])
		}
		if row["avatar_filename"] != "a.jpg" {
			t.Fatalf("unexpected row: %v", row)
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	want := []int64{10, 20, 30, 40, 50}
	if len(ids) != len(want) {
		t.Fatalf("got ids %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got ids %v, want %v", ids, want)
		}
	}
}

func TestSQLiteScanMissingTableReturnsScanError(t *testing.T) {
	ctx := context.Background()
	path := seedUsers(t, 1)
	src, err := refsource.OpenSQLite(ctx, path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite returned error: %v", err)
	}
	defer src.Close()

	err = src.Scan(ctx, refsource.Query{Table: "documents"}, func(refsource.Row) error { return nil })
	var scanErr *refsource.ScanError
	if !errors.As(err, &scanErr) || scanErr.Table != "documents" {
		t.Fatalf("expected ScanError for documents, got %v", err)
	}
}

func TestSQLiteScanStopsOnCallbackError(t *testing.T) {
	ctx := context.Background()
	path := seedUsers(t, 3)
	src, err := refsource.OpenSQLite(ctx, path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite returned error: %v", err)
	}
	defer src.Close()

	stop := errors.New("stop")
	seen := 0
	err = src.Scan(ctx, refsource.Query{Table: "users"}, func(refsource.Row) error {
		seen++
		return stop
	})
	if !errors.Is(err, stop) || seen != 1 {
		t.Fatalf("expected callback error after one row, got %v (seen %d)", err, seen)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := refsource.Open(context.Background(), "mysql", "dsn", nil); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
