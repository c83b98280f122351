package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Manager handles schema versioning and basic seeding.
type Manager struct{}

const latestVersion = 2

func (m Manager) ensureTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL);`)
	if err != nil {
		return err
	}
	// initialize row if empty
	var cnt int
	_ = db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&cnt)
	if cnt == 0 {
		_, err = db.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES(0)`)
	}
	return err
}

func (m Manager) version(ctx context.Context, db *sql.DB) (int, error) {
	if err := m.ensureTable(ctx, db); err != nil {
		return 0, err
	}
	var v int
	if err := db.QueryRowContext(ctx, `SELECT version FROM schema_migrations`).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func (m Manager) setVersion(ctx context.Context, db *sql.DB, v int) error {
	_, err := db.ExecContext(ctx, `UPDATE schema_migrations SET version=?`, v)
	return err
}

// UpToLatest applies migrations to reach latestVersion.
func (m Manager) UpToLatest(ctx context.Context, db *sql.DB) error {
	cur, err := m.version(ctx, db)
	if err != nil {
		return err
	}
	for v := cur + 1; v <= latestVersion; v++ {
		if err := m.up(ctx, db, v); err != nil {
			return fmt.Errorf("migrate up to v%d: %w", v, err)
		}
		if err := m.setVersion(ctx, db, v); err != nil {
			return err
		}
	}
	return nil
}

// DownOne attempts to roll back the last migration if supported.
func (m Manager) DownOne(ctx context.Context, db *sql.DB) error {
	cur, err := m.version(ctx, db)
	if err != nil {
		return err
	}
	if cur <= 0 {
		return nil
	}
	if err := m.down(ctx, db, cur); err != nil {
		return err
	}
	return m.setVersion(ctx, db, cur-1)
}

func (m Manager) up(ctx context.Context, db *sql.DB, v int) error {
	switch v {
	case 1:
		return (Migrator{}).Up(ctx, db)
	case 2:
		// clarification flag on conversations; tolerate reruns on existing DBs
		_, _ = db.ExecContext(ctx, `ALTER TABLE conversations ADD COLUMN clarification_pending INTEGER NOT NULL DEFAULT 0`)
		return nil
	default:
		return fmt.Errorf("unknown migration version %d", v)
	}
}

func (m Manager) down(ctx context.Context, db *sql.DB, v int) error {
	switch v {
	case 2:
		// dropping columns in SQLite requires table rebuild; not supported here
		return errors.New("down from v2 not supported")
	case 1:
		return errors.New("down from v1 not supported")
	default:
		return fmt.Errorf("unknown migration version %d", v)
	}
}

// Seed inserts minimal seed data when enabled via env (WEBFORGE_DB_SEED=true/1)
func (m Manager) Seed(ctx context.Context, db *sql.DB) error {
	v := strings.ToLower(os.Getenv("WEBFORGE_DB_SEED"))
	if v == "" || v == "0" || v == "false" {
		return nil
	}
	// only seed if no projects exist
	var cnt int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM projects`).Scan(&cnt); err != nil {
		return err
	}
	if cnt > 0 {
		return nil
	}
	now := time.Now().Format(time.RFC3339)
	_, err := db.ExecContext(ctx, `INSERT INTO projects(id,name,root_path,created_at) VALUES(?,?,?,?)`,
		uuid.NewString(), "demo", ".", now)
	return err
}
