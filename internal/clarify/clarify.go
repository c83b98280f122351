package clarify

import (
	"context"
	"fmt"
	"strings"

	"webforge/internal/knowledge"
	"webforge/internal/llm"
	"webforge/internal/log"
	"webforge/internal/models"
)

// State is the per-conversation clarification gate. It is persisted as the
// conversation's clarification_pending flag so it survives restarts.
type State int

const (
	// Idle: no clarification pending; new messages go through intent
	// classification first.
	Idle State = iota
	// AwaitingDetail: the last assessment found the request underspecified;
	// the next user message continues the same request without
	// reclassification.
	AwaitingDetail
)

// StateOf maps the persisted flag to a State.
func StateOf(clarificationPending bool) State {
	if clarificationPending {
		return AwaitingDetail
	}
	return Idle
}

// Pending maps a State back to the persisted flag.
func (s State) Pending() bool { return s == AwaitingDetail }

// Assessment is the outcome of one sufficiency check. Sufficient is true only
// when the full streamed response, trimmed, is exactly SufficientToken.
type Assessment struct {
	Sufficient bool
	Text       string
}

// Next is the only legal transition function: a sufficient assessment always
// lands in Idle, an insufficient one in AwaitingDetail, from either state.
func Next(_ State, a Assessment) State {
	if a.Sufficient {
		return Idle
	}
	return AwaitingDetail
}

// SufficientToken is the literal the assessment model answers with when no
// details are missing.
const SufficientToken = "Sufficient"

const baseQuery = "Project structure and UI elements context:"

// Assessor judges whether the accumulated conversation carries enough detail
// to generate code, streaming its answer chunk by chunk.
type Assessor struct {
	chat llm.ChatProvider
	ret  *knowledge.Retriever
	lg   *log.Logger
}

func NewAssessor(chat llm.ChatProvider, ret *knowledge.Retriever, lg *log.Logger) *Assessor {
	return &Assessor{chat: chat, ret: ret, lg: lg}
}

// Assess retrieves project context for the latest user message, runs the
// streaming sufficiency completion over the FULL history, and forwards each
// chunk to sink in arrival order. Sufficiency is judged on the concatenation,
// never on individual chunks.
func (a *Assessor) Assess(ctx context.Context, project string, history []llm.Message, sink func(string)) (Assessment, error) {
	query := baseQuery + " " + latestUserMessage(history)
	meta := a.ret.SearchMetadata(ctx, project, query)
	chunks := a.ret.Search(ctx, project, query)

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: buildPrompt(FormatContext(meta, chunks))})
	messages = append(messages, history...)

	stream, err := a.chat.Chat(ctx, messages, true, 0)
	if err != nil {
		return Assessment{}, fmt.Errorf("assessment: %w", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		delta, done, err := stream.Recv()
		if err != nil {
			return Assessment{}, fmt.Errorf("assessment stream: %w", err)
		}
		if delta != "" {
			full.WriteString(delta)
			if sink != nil {
				sink(delta)
			}
		}
		if done {
			break
		}
	}
	text := strings.TrimSpace(full.String())
	return Assessment{Sufficient: text == SufficientToken, Text: text}, nil
}

func latestUserMessage(history []llm.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == llm.RoleUser {
			return history[i].Content
		}
	}
	return ""
}

// FormatContext renders retrieved metadata and chunks into the prompt block.
func FormatContext(meta *models.MetadataSnapshot, chunks []models.Chunk) string {
	var b strings.Builder
	b.WriteString("Project Metadata:\n")
	if meta != nil {
		names := make([]string, 0, len(meta.Components))
		for _, c := range meta.Components {
			names = append(names, c.Name)
		}
		fmt.Fprintf(&b, "ARCHITECTURE:\nComponents: %s\nRoutes: %s\nStyling: %s\n",
			strings.Join(names, ", "), strings.Join(meta.Routes, ", "), strings.Join(meta.Styling, ", "))
	} else {
		b.WriteString("(none indexed)\n")
	}
	b.WriteString("\nProject Code Context:\n")
	if len(chunks) == 0 {
		b.WriteString("(none)\n")
	}
	for _, c := range chunks {
		fmt.Fprintf(&b, "CODE: %s\n%s\n\n", c.FilePath, c.Snippet)
	}
	return b.String()
}

func buildPrompt(ragContext string) string {
	return fmt.Sprintf(`You are an AI assistant evaluating whether a user request contains sufficient details to implement code changes in a Vite + React project.

PROJECT CONTEXT:
%s

NOTE: The user message includes both the description of the changes and an appended "Files:" section.
- If the "Files:" section lists files, the request is for editing existing files.
- If the "Files:" section is empty, the request is for a new feature or creating a new file.

ASSESSMENT CRITERIA:
1. Component details: Does the request specify what component(s) to create or modify?
2. Functionality requirements: Are the specific behaviors and interactions clearly defined?
3. UI elements: Are the visual elements and their layout sufficiently described?
4. Data requirements: Is it clear what data needs to be managed or displayed?
5. Integration: If this adds to existing functionality, is the integration point clear?

REQUIRED RESPONSE FORMAT:
- If ALL necessary details are provided, respond ONLY with the word "Sufficient".
- If ANY details are missing, respond ONLY with the missing details, and format your response in markdown.
- Do NOT include any additional text, explanations or suggestions.`, ragContext)
}
