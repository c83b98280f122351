package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"webforge/internal/models"
	sqlm "webforge/internal/storage/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	// migration manager with versioning
	if err := (sqlm.Manager{}).UpToLatest(context.Background(), db); err != nil {
		return nil, err
	}
	// optional seed data
	_ = (sqlm.Manager{}).Seed(context.Background(), db)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// DB exposes the underlying *sql.DB for internal helpers. Not part of the
// Store interface; use sparingly.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// WithTx provides a simple transaction wrapper that commits on nil error
// and rolls back on error. The callback must not hold the tx beyond return.
func (s *SQLiteStore) WithTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Projects

func (s *SQLiteStore) CreateProject(name, root string) (*models.Project, error) {
	now := time.Now()
	p := &models.Project{ID: uuid.NewString(), Name: name, RootPath: root, Created: now}
	_, err := s.db.Exec(`INSERT INTO projects(id,name,root_path,created_at) VALUES(?,?,?,?)`,
		p.ID, p.Name, p.RootPath, now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("create project %q: %w", name, err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProjects() []*models.Project {
	rows, err := s.db.Query(`SELECT id,name,root_path,created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []*models.Project
	for rows.Next() {
		var p models.Project
		var created string
		if err := rows.Scan(&p.ID, &p.Name, &p.RootPath, &created); err == nil {
			if t, _ := time.Parse(time.RFC3339, created); !t.IsZero() {
				p.Created = t
			}
			out = append(out, &p)
		}
	}
	return out
}

func (s *SQLiteStore) GetProject(id string) (*models.Project, bool) {
	return s.scanProject(s.db.QueryRow(`SELECT id,name,root_path,created_at FROM projects WHERE id=?`, id))
}

func (s *SQLiteStore) GetProjectByName(name string) (*models.Project, bool) {
	return s.scanProject(s.db.QueryRow(`SELECT id,name,root_path,created_at FROM projects WHERE name=?`, name))
}

func (s *SQLiteStore) scanProject(row *sql.Row) (*models.Project, bool) {
	var p models.Project
	var created string
	if err := row.Scan(&p.ID, &p.Name, &p.RootPath, &created); err != nil {
		return nil, false
	}
	if t, _ := time.Parse(time.RFC3339, created); !t.IsZero() {
		p.Created = t
	}
	return &p, true
}

// DeleteProject removes a project with its conversation and messages.
func (s *SQLiteStore) DeleteProject(id string) error {
	return s.WithTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT id FROM conversations WHERE project_id=?`, id)
		if err != nil {
			return err
		}
		var convIDs []string
		for rows.Next() {
			var cid string
			if err := rows.Scan(&cid); err == nil {
				convIDs = append(convIDs, cid)
			}
		}
		rows.Close()
		for _, cid := range convIDs {
			if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id=?`, cid); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(`DELETE FROM conversations WHERE project_id=?`, id); err != nil {
			return err
		}
		_, err = tx.Exec(`DELETE FROM projects WHERE id=?`, id)
		return err
	})
}

// Conversations

// ConversationFor returns the project's conversation, creating it on first use.
func (s *SQLiteStore) ConversationFor(projectID string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT id,project_id,created_at,updated_at,clarification_pending FROM conversations WHERE project_id=?`, projectID)
	if c, ok := scanConversation(row); ok {
		return c, nil
	}
	now := time.Now()
	c := &models.Conversation{ID: uuid.NewString(), ProjectID: projectID, Created: now, LastUpdated: now}
	_, err := s.db.Exec(`INSERT INTO conversations(id,project_id,created_at,updated_at,clarification_pending) VALUES(?,?,?,?,0)`,
		c.ID, projectID, now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("create conversation for project %s: %w", projectID, err)
	}
	return c, nil
}

func scanConversation(row *sql.Row) (*models.Conversation, bool) {
	var c models.Conversation
	var created string
	var updated sql.NullString
	var pending int
	if err := row.Scan(&c.ID, &c.ProjectID, &created, &updated, &pending); err != nil {
		return nil, false
	}
	if t, _ := time.Parse(time.RFC3339, created); !t.IsZero() {
		c.Created = t
	}
	if updated.Valid {
		if t, _ := time.Parse(time.RFC3339, updated.String); !t.IsZero() {
			c.LastUpdated = t
		}
	}
	c.ClarificationPending = pending != 0
	return &c, true
}

// SetClarificationPending persists the clarification flag. The flag must be
// durable before any reply streams back, so this is a synchronous write.
func (s *SQLiteStore) SetClarificationPending(conversationID string, pending bool) error {
	v := 0
	if pending {
		v = 1
	}
	res, err := s.db.Exec(`UPDATE conversations SET clarification_pending=?, updated_at=? WHERE id=?`,
		v, time.Now().Format(time.RFC3339), conversationID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(conversationID string, sender models.SenderRole, content string) (*models.Message, error) {
	now := time.Now()
	var m *models.Message
	err := s.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`INSERT INTO messages(conversation_id,sender,content,created_at) VALUES(?,?,?,?)`,
			conversationID, string(sender), content, now.Format(time.RFC3339))
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE conversations SET updated_at=? WHERE id=?`, now.Format(time.RFC3339), conversationID); err != nil {
			return err
		}
		m = &models.Message{ID: id, ConversationID: conversationID, Sender: sender, Content: content, Created: now}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

// ListMessages returns the full history oldest first.
func (s *SQLiteStore) ListMessages(conversationID string) ([]*models.Message, error) {
	rows, err := s.db.Query(`SELECT id,sender,content,created_at FROM messages WHERE conversation_id=? ORDER BY id`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Message
	for rows.Next() {
		var m models.Message
		var sender, created string
		if err := rows.Scan(&m.ID, &sender, &m.Content, &created); err != nil {
			return nil, err
		}
		m.ConversationID = conversationID
		m.Sender = models.SenderRole(sender)
		if t, _ := time.Parse(time.RFC3339, created); !t.IsZero() {
			m.Created = t
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// ResetConversation deletes all messages and clears the clarification flag.
// The conversation row itself survives.
func (s *SQLiteStore) ResetConversation(conversationID string) error {
	return s.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id=?`, conversationID); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE conversations SET clarification_pending=0, updated_at=? WHERE id=?`,
			time.Now().Format(time.RFC3339), conversationID)
		return err
	})
}
