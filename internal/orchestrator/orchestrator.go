package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"webforge/internal/clarify"
	"webforge/internal/intent"
	"webforge/internal/llm"
	"webforge/internal/log"
	"webforge/internal/models"
	"webforge/internal/plan"
	"webforge/internal/store"
	"webforge/internal/synth"
	"webforge/internal/workspace"
)

// ErrProjectNotFound is returned when the named project is not registered.
var ErrProjectNotFound = errors.New("project not found")

// ErrProcessing is the single generic failure surfaced to callers. The real
// cause is logged; partial progress already persisted is not rolled back.
var ErrProcessing = errors.New("failed to process message")

// ProcessingReply is sent when a sufficiently detailed request enters the
// generation pipeline.
const ProcessingReply = "Code change request received and processing will begin shortly."

// Outcome is the terminal result of one chat turn.
type Outcome struct {
	Reply               string               `json:"message"`
	ClarificationNeeded bool                 `json:"clarificationNeeded,omitempty"`
	Files               []models.FileOutcome `json:"files,omitempty"`
}

// Engine drives one message through classification, the clarification gate,
// planning, synthesis and materialization. Requests for the same conversation
// are serialized; the gate reads and then writes the persisted flag, so two
// in-flight assessments would race on it.
type Engine struct {
	store      store.Store
	classifier *intent.Classifier
	assessor   *clarify.Assessor
	planner    *plan.Planner
	synth      *synth.Synthesizer
	lg         *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(st store.Store, cls *intent.Classifier, asr *clarify.Assessor, pl *plan.Planner, sy *synth.Synthesizer, lg *log.Logger) *Engine {
	return &Engine{
		store:      st,
		classifier: cls,
		assessor:   asr,
		planner:    pl,
		synth:      sy,
		lg:         lg,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(projectID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[projectID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[projectID] = l
	}
	return l
}

// HandleMessage runs one chat turn. Assessment stream chunks are forwarded to
// sink in arrival order; sink may be nil.
func (e *Engine) HandleMessage(ctx context.Context, projectName, message string, files []string, sink func(string)) (*Outcome, error) {
	p, ok := e.store.GetProjectByName(projectName)
	if !ok {
		return nil, ErrProjectNotFound
	}

	// The lock is keyed by project ID (one conversation per project) and must
	// be held before the clarification flag is read: a turn that reads the
	// flag outside the critical section can act on a state that an in-flight
	// assessment is about to overwrite.
	l := e.lockFor(p.ID)
	l.Lock()
	defer l.Unlock()

	conv, err := e.store.ConversationFor(p.ID)
	if err != nil {
		e.lg.Error("conversation lookup failed", "project", projectName, "err", err.Error())
		return nil, ErrProcessing
	}

	if sink == nil {
		sink = func(string) {}
	}
	stored := appendFiles(message, files)
	state := clarify.StateOf(conv.ClarificationPending)

	// While gated, the message continues the pending request and is never
	// reclassified.
	if state == clarify.Idle {
		res, err := e.classifier.Classify(ctx, message)
		if err != nil {
			e.lg.Error("intent classification failed", "project", projectName, "err", err.Error())
			return nil, ErrProcessing
		}
		if !res.Actionable() {
			return &Outcome{Reply: res.Reply}, nil
		}
	}

	if _, err := e.store.AppendMessage(conv.ID, models.SenderUser, stored); err != nil {
		e.lg.Error("message persist failed", "conversation", conv.ID, "err", err.Error())
		return nil, ErrProcessing
	}
	history, err := e.history(conv.ID)
	if err != nil {
		e.lg.Error("history load failed", "conversation", conv.ID, "err", err.Error())
		return nil, ErrProcessing
	}

	assessment, err := e.assessor.Assess(ctx, projectName, history, sink)
	if err != nil {
		e.lg.Error("sufficiency assessment failed", "project", projectName, "err", err.Error())
		return nil, ErrProcessing
	}

	next := clarify.Next(state, assessment)
	if err := e.store.SetClarificationPending(conv.ID, next.Pending()); err != nil {
		e.lg.Error("clarification flag persist failed", "conversation", conv.ID, "err", err.Error())
		return nil, ErrProcessing
	}

	if next == clarify.AwaitingDetail {
		if _, err := e.store.AppendMessage(conv.ID, models.SenderAssistant, assessment.Text); err != nil {
			e.lg.Error("message persist failed", "conversation", conv.ID, "err", err.Error())
			return nil, ErrProcessing
		}
		return &Outcome{Reply: assessment.Text, ClarificationNeeded: true}, nil
	}

	outcomes, err := e.generate(ctx, p, history)
	if err != nil {
		return nil, ErrProcessing
	}
	return &Outcome{Reply: ProcessingReply, Files: outcomes}, nil
}

// generate plans the file actions and synthesizes each file independently. A
// failure on one file is recorded in its outcome and does not stop the rest.
func (e *Engine) generate(ctx context.Context, p *models.Project, history []llm.Message) ([]models.FileOutcome, error) {
	actions, err := e.planner.Plan(ctx, p.Name, history)
	if err != nil {
		e.lg.Error("file planning failed", "project", p.Name, "err", err.Error())
		return nil, err
	}
	var outcomes []models.FileOutcome
	for _, action := range actions {
		out := models.FileOutcome{Action: action}
		content, err := e.synth.Synthesize(ctx, p.Name, action, history)
		if err != nil {
			e.lg.Warn("synthesis failed", "project", p.Name, "path", action.Path, "err", err.Error())
			out.Err = err.Error()
			outcomes = append(outcomes, out)
			continue
		}
		if err := workspace.Apply(p.RootPath, action, content); err != nil {
			e.lg.Warn("write failed", "project", p.Name, "path", action.Path, "err", err.Error())
			out.Err = err.Error()
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (e *Engine) history(conversationID string) ([]llm.Message, error) {
	msgs, err := e.store.ListMessages(conversationID)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := llm.RoleAssistant
		if m.Sender == models.SenderUser {
			role = llm.RoleUser
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out, nil
}

// appendFiles attaches the "Files:" section to the stored user message. The
// section is present even when no files were attached; the assessment prompt
// treats an empty section as a signal that the request is for new work.
func appendFiles(message string, files []string) string {
	var b strings.Builder
	b.WriteString(message)
	b.WriteString("\nFiles:\n")
	for i, f := range files {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s", f)
	}
	return b.String()
}
