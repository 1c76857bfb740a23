// Package storetest opens throwaway SQLite databases with the registry schema
// applied, for tests in other packages.
package storetest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/lecsachurch/registry/pkg/store"
)

// DSN returns a file DSN under dir with WAL and a busy timeout, so concurrent
// transactions queue on the write lock instead of failing.
func DSN(dir string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", filepath.Join(dir, "registry.db"))
}

// Open returns a migrated SQLite database that is closed when the test ends.
func Open(t testing.TB) *store.DB {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, "sqlite", DSN(t.TempDir()))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Exec runs a statement directly, failing the test on error.
func Exec(t testing.TB, db *store.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.ExecContext(context.Background(), query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}
