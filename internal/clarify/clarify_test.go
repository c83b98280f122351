package clarify

import (
	"context"
	"io"
	"strings"
	"testing"

	"webforge/internal/knowledge"
	"webforge/internal/llm"
	"webforge/internal/log"
	"webforge/internal/models"
	"webforge/internal/vectorstore"
)

type chunkedStream struct {
	chunks []string
	i      int
}

func (c *chunkedStream) Recv() (string, bool, error) {
	if c.i >= len(c.chunks) {
		return "", true, nil
	}
	v := c.chunks[c.i]
	c.i++
	return v, false, nil
}
func (c *chunkedStream) Close() error { return nil }

type chunkedChat struct {
	chunks []string
	seen   []llm.Message
}

func (c *chunkedChat) Chat(ctx context.Context, messages []llm.Message, stream bool, temperature float32) (llm.ChatStream, error) {
	c.seen = messages
	return &chunkedStream{chunks: c.chunks}, nil
}

type nilEmbedder struct{}

func (nilEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func newAssessor(chat llm.ChatProvider) *Assessor {
	lg := log.NewWriter(io.Discard, log.Error)
	ret := knowledge.NewRetriever(nilEmbedder{}, vectorstore.NewMemory(), lg)
	return NewAssessor(chat, ret, lg)
}

func TestTransitions(t *testing.T) {
	if Next(Idle, Assessment{Sufficient: true}) != Idle {
		t.Fatal("sufficient from Idle must stay Idle")
	}
	if Next(Idle, Assessment{Sufficient: false}) != AwaitingDetail {
		t.Fatal("insufficient from Idle must gate")
	}
	if Next(AwaitingDetail, Assessment{Sufficient: true}) != Idle {
		t.Fatal("sufficient from AwaitingDetail must release")
	}
	if Next(AwaitingDetail, Assessment{Sufficient: false}) != AwaitingDetail {
		t.Fatal("insufficient from AwaitingDetail must remain gated")
	}
	if StateOf(true) != AwaitingDetail || StateOf(false) != Idle {
		t.Fatal("StateOf mapping")
	}
	if !AwaitingDetail.Pending() || Idle.Pending() {
		t.Fatal("Pending mapping")
	}
}

func TestAssessSufficientExactToken(t *testing.T) {
	chat := &chunkedChat{chunks: []string{"Suffi", "cient"}}
	a := newAssessor(chat)
	got, err := a.Assess(context.Background(), "demo", []llm.Message{{Role: llm.RoleUser, Content: "add footer"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Sufficient || got.Text != "Sufficient" {
		t.Fatalf("assessment: %+v", got)
	}
}

func TestAssessInsufficientStreamsInOrder(t *testing.T) {
	chat := &chunkedChat{chunks: []string{"- missing ", "component name", "\n- missing layout"}}
	a := newAssessor(chat)
	var seen []string
	got, err := a.Assess(context.Background(), "demo", []llm.Message{{Role: llm.RoleUser, Content: "change stuff"}}, func(s string) {
		seen = append(seen, s)
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Sufficient {
		t.Fatal("should be insufficient")
	}
	if strings.TrimSpace(strings.Join(seen, "")) != got.Text {
		t.Fatalf("chunks %q vs text %q", seen, got.Text)
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 chunks in order, got %d", len(seen))
	}
}

func TestAssessIncludesFullHistory(t *testing.T) {
	chat := &chunkedChat{chunks: []string{SufficientToken}}
	a := newAssessor(chat)
	history := []llm.Message{
		{Role: llm.RoleUser, Content: "first ask"},
		{Role: llm.RoleAssistant, Content: "what color?"},
		{Role: llm.RoleUser, Content: "blue"},
	}
	if _, err := a.Assess(context.Background(), "demo", history, nil); err != nil {
		t.Fatal(err)
	}
	// system prompt + all three history messages
	if len(chat.seen) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(chat.seen))
	}
	if chat.seen[0].Role != llm.RoleSystem {
		t.Fatal("system prompt must lead")
	}
	for i, m := range history {
		if chat.seen[i+1] != m {
			t.Fatalf("history message %d altered: %+v", i, chat.seen[i+1])
		}
	}
}

func TestFormatContext(t *testing.T) {
	meta := &models.MetadataSnapshot{
		Components: []models.Component{{Name: "App"}, {Name: "Header"}},
		Routes:     []string{"/home"},
	}
	chunks := []models.Chunk{{FilePath: "src/App.jsx", Snippet: "code here"}}
	out := FormatContext(meta, chunks)
	for _, want := range []string{"Components: App, Header", "Routes: /home", "CODE: src/App.jsx", "code here"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}
