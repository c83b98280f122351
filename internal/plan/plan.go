package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"webforge/internal/knowledge"
	"webforge/internal/llm"
	"webforge/internal/log"
	"webforge/internal/models"
)

// actionLine is the only accepted output shape; everything else is discarded.
var actionLine = regexp.MustCompile(`^(create|edit):\s*(.+)$`)

// Planner decides the ordered set of file actions for a sufficiently-detailed
// request.
type Planner struct {
	chat llm.ChatProvider
	ret  *knowledge.Retriever
	lg   *log.Logger
}

func NewPlanner(chat llm.ChatProvider, ret *knowledge.Retriever, lg *log.Logger) *Planner {
	return &Planner{chat: chat, ret: ret, lg: lg}
}

const structureQuery = "Project structure:"

const decisionInstruction = "Based on the conversation and the project structure above, list ONLY the file(s) that should be edited or created. Do not include any additional text or explanations."

// Plan asks the completion service for create:/edit: lines and parses them
// strictly. Output order is preserved. An empty plan is not an error.
func (p *Planner) Plan(ctx context.Context, project string, history []llm.Message) ([]models.FileAction, error) {
	snap := p.ret.SearchMetadata(ctx, project, structureQuery)

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: buildPrompt(snap)})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: decisionInstruction})

	stream, err := p.chat.Chat(ctx, messages, false, 0)
	if err != nil {
		return nil, fmt.Errorf("file planning: %w", err)
	}
	raw, err := llm.Collect(stream)
	if err != nil {
		return nil, fmt.Errorf("file planning: %w", err)
	}
	return p.Parse(raw), nil
}

// Parse extracts validated FileActions from raw model output. Lines that do
// not match are logged and dropped, never guessed at.
func (p *Planner) Parse(raw string) []models.FileAction {
	var actions []models.FileAction
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := actionLine.FindStringSubmatch(line)
		if m == nil {
			p.lg.Debug("discarding unparsable plan line", "line", line)
			continue
		}
		actions = append(actions, models.FileAction{
			Kind: models.ActionKind(m[1]),
			Path: strings.TrimSpace(m[2]),
		})
	}
	return actions
}

func buildPrompt(snap *models.MetadataSnapshot) string {
	structure := ""
	if snap != nil {
		if b, err := json.MarshalIndent(snap.Tree, "", "  "); err == nil {
			structure = string(b)
		}
	}
	return fmt.Sprintf(`You are a file path analyzer for Vite+React projects. Your task is to identify EXACTLY which files need creation or modification based on developer conversations and project context. Output MUST be machine-parsable.

PROJECT STRUCTURE:
%s

RULES:
1. REQUIRED FORMAT: [create|edit]: path/to/file.js (one per line)
2. Decision logic:
   - Use 'create' if file doesn't exist in project structure
   - Use 'edit' if file exists in project structure
   - Verify existence against project structure
3. Never include:
   - Comments or explanations
   - Code snippets
   - Markdown formatting
   - Duplicate entries

DECISION CRITERIA:
- Cross-reference project structure for file existence
- Explicit "Files:" mentions are likely edits
- New features/components imply creation
- Configuration updates are edits

OUTPUT EXAMPLES:
edit: src/components/ExistingComponent.js
create: src/hooks/useNewFeature.js
edit: vite.config.js
create: public/data/config.json`, structure)
}
