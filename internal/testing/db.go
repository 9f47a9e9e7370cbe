// Package testing provides testing utilities and helpers for the greekwatch project.
package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/aristath/greekwatch/internal/database"
)

// NewTestDB creates a file-backed SQLite database in a per-test temporary
// directory and applies the embedded schema for name.
//
// Supported schema names:
//   - "greeks" - snapshots, alerts, option positions
//   - "cache" - last-known Greeks
//   - Unknown names - creates empty database (no schema applied)
//
// The database is closed automatically when the test finishes.
func NewTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	profile := database.ProfileStandard
	if name == database.NameCache {
		profile = database.ProfileCache
	}

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	})

	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}
	return db
}

// NewTestConn is NewTestDB for code that only needs the raw connection.
func NewTestConn(t *testing.T, name string) *sql.DB {
	t.Helper()
	return NewTestDB(t, name).Conn()
}
