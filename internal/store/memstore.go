package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"webforge/internal/models"
)

// MemStore is an in-memory Store for tests and ephemeral runs.
type MemStore struct {
	mu            sync.Mutex
	projects      map[string]*models.Project
	conversations map[string]*models.Conversation // keyed by project id
	messages      map[string][]*models.Message    // keyed by conversation id
	nextMsgID     int64
}

func NewMem() *MemStore {
	return &MemStore{
		projects:      make(map[string]*models.Project),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
	}
}

func (s *MemStore) Close() error { return nil }

func (s *MemStore) CreateProject(name, root string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.Name == name {
			return nil, fmt.Errorf("project %q already exists", name)
		}
	}
	p := &models.Project{ID: uuid.NewString(), Name: name, RootPath: root, Created: time.Now()}
	s.projects[p.ID] = p
	return p, nil
}

func (s *MemStore) ListProjects() []*models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	return out
}

func (s *MemStore) GetProject(id string) (*models.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	return p, ok
}

func (s *MemStore) GetProjectByName(name string) (*models.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

func (s *MemStore) DeleteProject(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[id]; ok {
		delete(s.messages, c.ID)
		delete(s.conversations, id)
	}
	delete(s.projects, id)
	return nil
}

func (s *MemStore) ConversationFor(projectID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[projectID]; ok {
		return c, nil
	}
	now := time.Now()
	c := &models.Conversation{ID: uuid.NewString(), ProjectID: projectID, Created: now, LastUpdated: now}
	s.conversations[projectID] = c
	return c, nil
}

func (s *MemStore) SetClarificationPending(conversationID string, pending bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byConvID(conversationID)
	if !ok {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	c.ClarificationPending = pending
	c.LastUpdated = time.Now()
	return nil
}

func (s *MemStore) AppendMessage(conversationID string, sender models.SenderRole, content string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsgID++
	m := &models.Message{
		ID:             s.nextMsgID,
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		Created:        time.Now(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], m)
	if c, ok := s.byConvID(conversationID); ok {
		c.LastUpdated = m.Created
	}
	return m, nil
}

func (s *MemStore) ListMessages(conversationID string) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	out := make([]*models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemStore) ResetConversation(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, conversationID)
	if c, ok := s.byConvID(conversationID); ok {
		c.ClarificationPending = false
		c.LastUpdated = time.Now()
	}
	return nil
}

// byConvID scans by conversation id; callers hold the lock.
func (s *MemStore) byConvID(id string) (*models.Conversation, bool) {
	for _, c := range s.conversations {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}
