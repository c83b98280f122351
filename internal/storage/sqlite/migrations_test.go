package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestMigrationsVersioningAndTables(t *testing.T) {
	dir := t.TempDir()
	dbpath := filepath.Join(dir, "mig.db")
	db, err := sql.Open("sqlite", dbpath)
	if err != nil {
		t.Skip("sqlite open:", err)
	}
	defer db.Close()

	m := Manager{}
	if err := m.UpToLatest(context.Background(), db); err != nil {
		t.Fatalf("UpToLatest error: %v", err)
	}
	var v int
	if err := db.QueryRow(`SELECT version FROM schema_migrations`).Scan(&v); err != nil {
		t.Fatalf("version scan: %v", err)
	}
	if v != latestVersion {
		t.Fatalf("unexpected version: %d", v)
	}

	mustHave := []string{"projects", "conversations", "messages"}
	for _, name := range mustHave {
		var cnt int
		if err := db.QueryRow(`SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&cnt); err != nil || cnt == 0 {
			t.Fatalf("expected table %s to exist", name)
		}
	}

	// v2 column must be present
	if _, err := db.Exec(`UPDATE conversations SET clarification_pending=0`); err != nil {
		t.Fatalf("clarification_pending column missing: %v", err)
	}

	// rerunning is a no-op
	if err := m.UpToLatest(context.Background(), db); err != nil {
		t.Fatalf("UpToLatest rerun error: %v", err)
	}
}
