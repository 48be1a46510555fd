package testsupport

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

// SeedSQLite creates (or extends) a SQLite database at path by running each
// statement in order. It stands in for the application's relational store.
func SeedSQLite(t testing.TB, path string, statements ...string) {
	t.Helper()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite %s: %v", path, err)
	}
	defer db.Close()

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
}
