package models

import "time"

type Project struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	RootPath string    `json:"rootPath"`
	Created  time.Time `json:"createdAt"`
}

type SenderRole string

const (
	SenderUser      SenderRole = "user"
	SenderAssistant SenderRole = "assistant"
)

// Conversation is the single persistent conversation owned by a project.
// ClarificationPending is the durable state-machine flag; it must survive
// process restarts, so it lives here and not in memory.
type Conversation struct {
	ID                   string    `json:"conversationId"`
	ProjectID            string    `json:"projectId"`
	Created              time.Time `json:"createdOn"`
	LastUpdated          time.Time `json:"lastUpdated"`
	ClarificationPending bool      `json:"clarificationPending"`
}

type Message struct {
	ID             int64      `json:"messageId"`
	ConversationID string     `json:"conversationId"`
	Sender         SenderRole `json:"sender"`
	Content        string     `json:"content"`
	Created        time.Time  `json:"createdOn"`
}

// Chunk is a line-bounded slice of a source file, embedded for retrieval.
// Text never exceeds MaxChunkSize characters unless a single line does.
type Chunk struct {
	FilePath   string `json:"filePath"`
	Snippet    string `json:"snippet"`
	ChunkIndex int    `json:"chunkIndex"`
}

// MaxChunkSize bounds chunk text length, measured over whole lines.
const MaxChunkSize = 512

type Component struct {
	Name  string   `json:"name"`
	File  string   `json:"file"`
	Props []string `json:"props"`
}

type Manifest struct {
	Dependencies    map[string]string `json:"dependencies,omitempty"`
	DevDependencies map[string]string `json:"devDependencies,omitempty"`
	Scripts         map[string]string `json:"scripts,omitempty"`
}

// MetadataSnapshot is the structural summary of a project. One per project,
// overwritten wholesale on every re-index.
type MetadataSnapshot struct {
	Tree        []string    `json:"tree"`
	Components  []Component `json:"components"`
	Routes      []string    `json:"routes"`
	Styling     []string    `json:"styling"`
	APIs        []string    `json:"apis"`
	ConfigFiles []string    `json:"configFiles"`
	Manifest    *Manifest   `json:"manifest,omitempty"`
	GeneratedAt time.Time   `json:"generatedAt"`
}

type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionEdit   ActionKind = "edit"
)

// FileAction is a validated plan entry. Transient; never persisted.
type FileAction struct {
	Kind ActionKind `json:"action"`
	Path string     `json:"path"`
}

// FileOutcome reports the result of materializing one planned file.
type FileOutcome struct {
	Action FileAction `json:"file"`
	Err    string     `json:"error,omitempty"`
}

func (o FileOutcome) OK() bool { return o.Err == "" }
