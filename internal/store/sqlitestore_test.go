package store

import (
	"path/filepath"
	"testing"

	"webforge/internal/models"
)

func openTemp(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "webforge.db")
	s, err := NewSQLite(path)
	if err != nil {
		t.Skip("sqlite open:", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestProjectCRUD(t *testing.T) {
	s, _ := openTemp(t)

	p, err := s.CreateProject("shop", "/tmp/projects/shop")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID == "" || p.Name != "shop" {
		t.Fatalf("unexpected project: %+v", p)
	}

	if _, err := s.CreateProject("shop", "/tmp/elsewhere"); err == nil {
		t.Fatal("duplicate name must fail")
	}

	got, ok := s.GetProjectByName("shop")
	if !ok || got.ID != p.ID || got.RootPath != "/tmp/projects/shop" {
		t.Fatalf("lookup by name: %+v ok=%v", got, ok)
	}
	if _, ok := s.GetProject(p.ID); !ok {
		t.Fatal("lookup by id failed")
	}
	if n := len(s.ListProjects()); n != 1 {
		t.Fatalf("list: %d", n)
	}

	if err := s.DeleteProject(p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := s.GetProject(p.ID); ok {
		t.Fatal("project survived delete")
	}
}

func TestConversationLifecycle(t *testing.T) {
	s, _ := openTemp(t)
	p, _ := s.CreateProject("blog", "/tmp/blog")

	c1, err := s.ConversationFor(p.ID)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	c2, err := s.ConversationFor(p.ID)
	if err != nil || c2.ID != c1.ID {
		t.Fatalf("second access must return the same conversation: %v / %v", c1.ID, c2.ID)
	}

	for _, m := range []struct {
		sender  models.SenderRole
		content string
	}{
		{models.SenderUser, "Add a footer"},
		{models.SenderAssistant, "What should it contain?"},
		{models.SenderUser, "Copyright line and links"},
	} {
		if _, err := s.AppendMessage(c1.ID, m.sender, m.content); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := s.ListMessages(c1.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("want 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "Add a footer" || msgs[2].Sender != models.SenderUser {
		t.Fatalf("order broken: %+v", msgs)
	}
	if msgs[0].ID >= msgs[1].ID || msgs[1].ID >= msgs[2].ID {
		t.Fatalf("ids must be ascending: %d %d %d", msgs[0].ID, msgs[1].ID, msgs[2].ID)
	}
}

func TestClarificationFlagSurvivesReopen(t *testing.T) {
	s, path := openTemp(t)
	p, _ := s.CreateProject("shop", "/tmp/shop")
	c, _ := s.ConversationFor(p.ID)

	if err := s.SetClarificationPending(c.ID, true); err != nil {
		t.Fatalf("set pending: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	c2, err := s2.ConversationFor(p.ID)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if !c2.ClarificationPending {
		t.Fatal("pending flag must survive reopen")
	}
}

func TestSetClarificationPendingUnknownConversation(t *testing.T) {
	s, _ := openTemp(t)
	if err := s.SetClarificationPending("no-such-conv", true); err == nil {
		t.Fatal("expected error for unknown conversation")
	}
}

func TestResetConversationClearsMessagesAndFlag(t *testing.T) {
	s, _ := openTemp(t)
	p, _ := s.CreateProject("shop", "/tmp/shop")
	c, _ := s.ConversationFor(p.ID)
	_, _ = s.AppendMessage(c.ID, models.SenderUser, "hello")
	_ = s.SetClarificationPending(c.ID, true)

	if err := s.ResetConversation(c.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	msgs, _ := s.ListMessages(c.ID)
	if len(msgs) != 0 {
		t.Fatalf("messages survived reset: %d", len(msgs))
	}
	c2, _ := s.ConversationFor(p.ID)
	if c2.ID != c.ID {
		t.Fatal("conversation row must survive reset")
	}
	if c2.ClarificationPending {
		t.Fatal("flag must be cleared by reset")
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	s, _ := openTemp(t)
	p, _ := s.CreateProject("shop", "/tmp/shop")
	c, _ := s.ConversationFor(p.ID)
	_, _ = s.AppendMessage(c.ID, models.SenderUser, "hello")

	if err := s.DeleteProject(p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	msgs, _ := s.ListMessages(c.ID)
	if len(msgs) != 0 {
		t.Fatal("messages survived project delete")
	}
	var cnt int
	if err := s.DB().QueryRow(`SELECT COUNT(1) FROM conversations WHERE project_id=?`, p.ID).Scan(&cnt); err != nil || cnt != 0 {
		t.Fatalf("conversation survived project delete: cnt=%d err=%v", cnt, err)
	}
}
