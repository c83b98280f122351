package synth

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

func TestSanitize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"```js\nconst x=1;\n```", "const x=1;"},
		{"```\nconst x=1;\n```", "const x=1;"},
		{"const x=1;", "const x=1;"},
		{`"quoted content"`, "quoted content"},
		{"'quoted'", "quoted"},
		{"  \n```jsx\n<App />\n```\n", "<App />"},
		{"no fences ``` inside ``` stay", "no fences ``` inside ``` stay"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Sanitize(tc.in); got != tc.want {
			t.Fatalf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

type scriptedChat struct {
	reply string
	seen  []llm.Message
}

type scriptedStream struct{ s string }

func (s *scriptedStream) Recv() (string, bool, error) {
	if s.s == "" {
		return "", true, nil
	}
	v := s.s
	s.s = ""
	return v, false, nil
}
func (s *scriptedStream) Close() error { return nil }

func (c *scriptedChat) Chat(ctx context.Context, messages []llm.Message, stream bool, temperature float32) (llm.ChatStream, error) {
	c.seen = messages
	return &scriptedStream{s: c.reply}, nil
}

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func TestSynthesizeEmbedsFileContext(t *testing.T) {
	lg := log.NewWriter(io.Discard, log.Error)
	vs := vectorstore.NewMemory()
	ctx := context.Background()
	code := vectorstore.CodeCollection("demo")
	_ = vs.EnsureCollection(ctx, code, 2)
	_ = vs.Upsert(ctx, code, []vectorstore.Point{{
		ID:     "1",
		Vector: []float32{1, 0},
		Payload: map[string]any{
			"filePath": "src/App.jsx", "snippet": "existing app code", "chunkIndex": 0,
		},
	}})

	chat := &scriptedChat{reply: "```jsx\nnew code\n```"}
	s := NewSynthesizer(chat, knowledge.NewRetriever(fixedEmbedder{}, vs, lg), lg)
	history := []llm.Message{{Role: llm.RoleUser, Content: "add footer"}}

	got, err := s.Synthesize(ctx, "demo", models.FileAction{Kind: models.ActionEdit, Path: "src/App.jsx"}, history)
	if err != nil {
		t.Fatal(err)
	}
	if got != "new code" {
		t.Fatalf("sanitized output: %q", got)
	}
	sys := chat.seen[0].Content
	for _, want := range []string{"ACTION: EDIT", "TARGET FILE: src/App.jsx", "existing app code"} {
		if !strings.Contains(sys, want) {
			t.Fatalf("prompt missing %q:\n%s", want, sys)
		}
	}
	if chat.seen[len(chat.seen)-1].Content != "add footer" {
		t.Fatalf("history not appended")
	}
}

func TestSynthesizeMissingContextUsesEmpty(t *testing.T) {
	lg := log.NewWriter(io.Discard, log.Error)
	chat := &scriptedChat{reply: "code"}
	s := NewSynthesizer(chat, knowledge.NewRetriever(fixedEmbedder{}, vectorstore.NewMemory(), lg), lg)
	got, err := s.Synthesize(context.Background(), "demo", models.FileAction{Kind: models.ActionCreate, Path: "src/New.jsx"}, nil)
	if err != nil || got != "code" {
		t.Fatalf("got %q err %v", got, err)
	}
	if !strings.Contains(chat.seen[0].Content, "ACTION: CREATE") {
		t.Fatalf("prompt: %s", chat.seen[0].Content)
	}
}
