package schematest

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"fknsrs.biz/p/ytcampaigns/internal/schema"
)

// OpenDB creates a migrated sqlite database in a temporary directory
// that is removed when the test finishes.
func OpenDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "test.db")+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("could not open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := schema.Migrate(db); err != nil {
		t.Fatalf("could not migrate test database: %v", err)
	}

	return db
}
