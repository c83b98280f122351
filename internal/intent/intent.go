package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"webforge/internal/llm"
)

type Intent string

const (
	IntentCodeChange  Intent = "code_change"
	IntentGeneralChat Intent = "general_chat"
	IntentOutOfScope  Intent = "out_of_scope"
)

// ErrNoLabel is returned when the completion does not yield one of the three
// labels. Callers fail closed rather than guessing.
var ErrNoLabel = errors.New("intent: completion returned no valid label")

const (
	GeneralChatReply = "I can only assist with React development. How can I help with your project?"
	OutOfScopeReply  = "That request is outside the scope of this React assistant."
)

// Result is either an actionable signal or a canned conversational reply.
type Result struct {
	Intent Intent
	Reply  string
}

func (r Result) Actionable() bool { return r.Intent == IntentCodeChange }

const systemPrompt = `You are an intent classifier for a Vite + React project. Classify the user's message as exactly one of these labels:

- code_change: any request to change, update, or modify the project, with technical specifics such as component or file names, or clear implementation detail.
- general_chat: ONLY casual conversation (greetings, jokes, "how are you").
- out_of_scope: non-React/Vite technology ("Deploy to AWS", "Train a model") or non-technical tasks ("Summarize this text").

Respond with the label only. No extra text.`

// Classifier labels incoming messages via a constrained completion call.
type Classifier struct {
	chat llm.ChatProvider
}

func NewClassifier(chat llm.ChatProvider) *Classifier {
	return &Classifier{chat: chat}
}

func (c *Classifier) Classify(ctx context.Context, message string) (Result, error) {
	stream, err := c.chat.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: message},
	}, false, 0)
	if err != nil {
		return Result{}, fmt.Errorf("intent classification: %w", err)
	}
	raw, err := llm.Collect(stream)
	if err != nil {
		return Result{}, fmt.Errorf("intent classification: %w", err)
	}
	switch parseLabel(raw) {
	case IntentCodeChange:
		return Result{Intent: IntentCodeChange}, nil
	case IntentGeneralChat:
		return Result{Intent: IntentGeneralChat, Reply: GeneralChatReply}, nil
	case IntentOutOfScope:
		return Result{Intent: IntentOutOfScope, Reply: OutOfScopeReply}, nil
	}
	return Result{}, ErrNoLabel
}

// parseLabel accepts only an exact label, modulo surrounding whitespace and
// case. Anything else is invalid.
func parseLabel(raw string) Intent {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case string(IntentCodeChange):
		return IntentCodeChange
	case string(IntentGeneralChat):
		return IntentGeneralChat
	case string(IntentOutOfScope):
		return IntentOutOfScope
	}
	return ""
}
