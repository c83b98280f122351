package store

import (
	"database/sql"

	"webforge/internal/models"
)

// TxRunner provides a transaction wrapper for repository operations.
type TxRunner interface {
	WithTx(fn func(*sql.Tx) error) error
}

// ProjectRepo defines project CRUD. Project names are unique.
type ProjectRepo interface {
	CreateProject(name, root string) (*models.Project, error)
	ListProjects() []*models.Project
	GetProject(id string) (*models.Project, bool)
	GetProjectByName(name string) (*models.Project, bool)
	DeleteProject(id string) error
}

// ConversationRepo defines the per-project conversation and its messages.
// Each project owns exactly one conversation; ConversationFor creates it
// on first access.
type ConversationRepo interface {
	ConversationFor(projectID string) (*models.Conversation, error)
	SetClarificationPending(conversationID string, pending bool) error
	AppendMessage(conversationID string, sender models.SenderRole, content string) (*models.Message, error)
	ListMessages(conversationID string) ([]*models.Message, error)
	ResetConversation(conversationID string) error
}

// Store is the full persistence surface the engine depends on.
type Store interface {
	ProjectRepo
	ConversationRepo
	Close() error
}
