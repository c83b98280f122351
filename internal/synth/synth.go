package synth

import (
	"context"
	"fmt"
	"strings"

	"webforge/internal/knowledge"
	"webforge/internal/llm"
	"webforge/internal/log"
	"webforge/internal/models"
)

// Synthesizer produces the full new content for one planned file.
type Synthesizer struct {
	chat llm.ChatProvider
	ret  *knowledge.Retriever
	lg   *log.Logger
}

func NewSynthesizer(chat llm.ChatProvider, ret *knowledge.Retriever, lg *log.Logger) *Synthesizer {
	return &Synthesizer{chat: chat, ret: ret, lg: lg}
}

// Synthesize retrieves file-scoped context and asks the completion service
// for pure code. No syntax check is performed; correctness of the output is
// the model's responsibility.
func (s *Synthesizer) Synthesize(ctx context.Context, project string, action models.FileAction, history []llm.Message) (string, error) {
	fileContext := s.ret.SearchFile(ctx, project, action.Path, "Context for file: "+action.Path)

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: buildPrompt(action, fileContext)})
	messages = append(messages, history...)

	stream, err := s.chat.Chat(ctx, messages, false, 0)
	if err != nil {
		return "", fmt.Errorf("synthesize %s: %w", action.Path, err)
	}
	raw, err := llm.Collect(stream)
	if err != nil {
		return "", fmt.Errorf("synthesize %s: %w", action.Path, err)
	}
	return Sanitize(raw), nil
}

func buildPrompt(action models.FileAction, fileContext string) string {
	return fmt.Sprintf(`You are an AI assistant tasked with generating code changes for a Vite + React project.
ACTION: %s
TARGET FILE: %s
FILE CONTEXT:
%s

Based on the developer conversation and the file context provided, generate the code modifications or new code needed.
Provide ONLY the code changes required, and do not include any extra text or explanations.`,
		strings.ToUpper(string(action.Kind)), action.Path, fileContext)
}

// Sanitize strips one wrapping markdown fence (with optional language tag)
// and one layer of wrapping quotes from model output. Inner content is left
// untouched.
func Sanitize(raw string) string {
	out := strings.TrimSpace(raw)
	out = stripFence(out)
	out = stripQuotes(out)
	return out
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	body := strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	// drop the language tag on the opening fence line
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		first := strings.TrimSpace(body[:i])
		if first == "" || isLangTag(first) {
			body = body[i+1:]
		}
	}
	return strings.TrimSuffix(body, "\n")
}

func isLangTag(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return s != ""
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'' || first == '`') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
