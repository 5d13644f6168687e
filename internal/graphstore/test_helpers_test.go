package graphstore

import (
	"path/filepath"
	"testing"
)

// createTestSQLite opens a SQLite store in a temp directory that is cleaned
// up with the test.
func createTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}
