package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"webforge/internal/clarify"
	"webforge/internal/intent"
	"webforge/internal/knowledge"
	"webforge/internal/llm"
	mylog "webforge/internal/log"
	"webforge/internal/orchestrator"
	"webforge/internal/plan"
	"webforge/internal/store"
	"webforge/internal/synth"
	"webforge/internal/vectorstore"
)

type scriptedStream struct {
	chunks []string
	i      int
}

func (s *scriptedStream) Recv() (string, bool, error) {
	if s.i >= len(s.chunks) {
		return "", true, nil
	}
	c := s.chunks[s.i]
	s.i++
	return c, false, nil
}

func (s *scriptedStream) Close() error { return nil }

type scriptedChat struct {
	mu        sync.Mutex
	responses [][]string
}

func (s *scriptedChat) Chat(ctx context.Context, messages []llm.Message, stream bool, temperature float32) (llm.ChatStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) == 0 {
		return nil, errors.New("no scripted response left")
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return &scriptedStream{chunks: r}, nil
}

type constEmbedder struct{}

func (constEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, vectorstore.Dim)
	v[0] = 1
	return v, nil
}

type testAPI struct {
	api        *API
	store      *store.MemStore
	vs         *vectorstore.Memory
	classifier *scriptedChat
	assessor   *scriptedChat
	planner    *scriptedChat
	synthChat  *scriptedChat
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st := store.NewMem()
	vs := vectorstore.NewMemory()
	lg := mylog.NewWriter(io.Discard, mylog.Error)
	ret := knowledge.NewRetriever(constEmbedder{}, vs, lg)
	ix := knowledge.NewIndexer(constEmbedder{}, vs, lg)

	ta := &testAPI{
		store:      st,
		vs:         vs,
		classifier: &scriptedChat{},
		assessor:   &scriptedChat{},
		planner:    &scriptedChat{},
		synthChat:  &scriptedChat{},
	}
	engine := orchestrator.New(st,
		intent.NewClassifier(ta.classifier),
		clarify.NewAssessor(ta.assessor, ret, lg),
		plan.NewPlanner(ta.planner, ret, lg),
		synth.NewSynthesizer(ta.synthChat, ret, lg),
		lg,
	)
	ta.api = NewAPI(st, engine, ix, vs)
	return ta
}

// projectRoot writes a minimal vite-style project tree and returns its path.
func projectRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"package.json": `{"name":"demo","dependencies":{"react":"^18.0.0"}}`,
		"src/App.jsx":  "export default function App() { return <div/>; }",
	}
	for rel, content := range files {
		if err := os.WriteFile(filepath.Join(root, rel), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	ta := newTestAPI(t)
	rec := doJSON(t, ta.api.Handler(), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}

func TestProjectLifecycle(t *testing.T) {
	ta := newTestAPI(t)
	h := ta.api.Handler()
	root := projectRoot(t)

	rec := doJSON(t, h, http.MethodPost, "/projects", `{"name":"demo","rootPath":"`+root+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	if ta.vs.PointCount(vectorstore.CodeCollection("demo")) == 0 {
		t.Fatal("create must index the project")
	}
	if ta.vs.PointCount(vectorstore.MetaCollection("demo")) != 1 {
		t.Fatal("create must index the metadata snapshot")
	}

	rec = doJSON(t, h, http.MethodPost, "/projects", `{"name":"demo","rootPath":"`+root+`"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate create: %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/projects", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"demo"`) {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/index", `{"projectName":"demo"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("reindex: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodDelete, "/projects", `{"name":"demo"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	if ok, _ := ta.vs.CollectionExists(context.Background(), vectorstore.CodeCollection("demo")); ok {
		t.Fatal("code collection must be dropped")
	}
	if ok, _ := ta.vs.CollectionExists(context.Background(), vectorstore.MetaCollection("demo")); ok {
		t.Fatal("meta collection must be dropped")
	}
	if _, ok := ta.store.GetProjectByName("demo"); ok {
		t.Fatal("project row must be gone")
	}
}

// sseEvents parses an event-stream body into (event, data) pairs.
func sseEvents(body string) [][2]string {
	var out [][2]string
	var event string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			out = append(out, [2]string{event, strings.TrimPrefix(line, "data: ")})
		}
	}
	return out
}

func setupProject(t *testing.T, ta *testAPI) string {
	t.Helper()
	root := projectRoot(t)
	rec := doJSON(t, ta.api.Handler(), http.MethodPost, "/projects", `{"name":"demo","rootPath":"`+root+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("setup: %d %s", rec.Code, rec.Body.String())
	}
	return root
}

func TestChatStreamsClarification(t *testing.T) {
	ta := newTestAPI(t)
	setupProject(t, ta)
	ta.classifier.responses = [][]string{{"code_change"}}
	ta.assessor.responses = [][]string{{"Missing ", "details"}}

	rec := doJSON(t, ta.api.Handler(), http.MethodPost, "/chat", `{"projectName":"demo","message":"make it nicer"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: %d %s", rec.Code, rec.Body.String())
	}
	events := sseEvents(rec.Body.String())
	var chunks []string
	var final string
	for _, ev := range events {
		switch ev[0] {
		case "chunk":
			chunks = append(chunks, ev[1])
		case "message":
			final = ev[1]
		}
	}
	if strings.Join(chunks, "") != "Missing details" {
		t.Fatalf("chunks %q", chunks)
	}
	var out orchestrator.Outcome
	if err := json.Unmarshal([]byte(final), &out); err != nil {
		t.Fatalf("final event: %v (%q)", err, final)
	}
	if !out.ClarificationNeeded || out.Reply != "Missing details" {
		t.Fatalf("outcome %+v", out)
	}
}

func TestChatSynthesizesFiles(t *testing.T) {
	ta := newTestAPI(t)
	root := setupProject(t, ta)
	ta.classifier.responses = [][]string{{"code_change"}}
	ta.assessor.responses = [][]string{{"Sufficient"}}
	ta.planner.responses = [][]string{{"create: src/components/Footer.jsx"}}
	ta.synthChat.responses = [][]string{{"export default function Footer() {}"}}

	rec := doJSON(t, ta.api.Handler(), http.MethodPost, "/chat", `{"projectName":"demo","message":"Add a footer with copyright"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: %d %s", rec.Code, rec.Body.String())
	}
	events := sseEvents(rec.Body.String())
	var filesData, msgData string
	for _, ev := range events {
		switch ev[0] {
		case "files":
			filesData = ev[1]
		case "message":
			msgData = ev[1]
		}
	}
	if filesData == "" {
		t.Fatal("expected a files event")
	}
	if !strings.Contains(filesData, "src/components/Footer.jsx") {
		t.Fatalf("files event %q", filesData)
	}
	if !strings.Contains(msgData, orchestrator.ProcessingReply) {
		t.Fatalf("message event %q", msgData)
	}
	if _, err := os.Stat(filepath.Join(root, "src", "components", "Footer.jsx")); err != nil {
		t.Fatalf("file not materialized: %v", err)
	}
}

func TestChatUnknownProject(t *testing.T) {
	ta := newTestAPI(t)
	rec := doJSON(t, ta.api.Handler(), http.MethodPost, "/chat", `{"projectName":"nope","message":"hi"}`)
	events := sseEvents(rec.Body.String())
	if len(events) != 1 || events[0][0] != "error" || !strings.Contains(events[0][1], "project not found") {
		t.Fatalf("events %v", events)
	}
}

func TestChatMessagesAndReset(t *testing.T) {
	ta := newTestAPI(t)
	setupProject(t, ta)
	ta.classifier.responses = [][]string{{"code_change"}}
	ta.assessor.responses = [][]string{{"Which page?"}}

	doJSON(t, ta.api.Handler(), http.MethodPost, "/chat", `{"projectName":"demo","message":"improve it"}`)

	rec := doJSON(t, ta.api.Handler(), http.MethodGet, "/chat/messages?projectName=demo", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("messages: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "improve it") || !strings.Contains(rec.Body.String(), "Which page?") {
		t.Fatalf("history missing turns: %s", rec.Body.String())
	}

	rec = doJSON(t, ta.api.Handler(), http.MethodPost, "/chat/reset", `{"projectName":"demo"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: %d", rec.Code)
	}
	rec = doJSON(t, ta.api.Handler(), http.MethodGet, "/chat/messages?projectName=demo", "")
	var parsed struct {
		Messages []json.RawMessage `json:"messages"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &parsed)
	if len(parsed.Messages) != 0 {
		t.Fatalf("reset left %d messages", len(parsed.Messages))
	}
}

// TestInstallNothingMissing covers the install path with code whose imports
// are already satisfied, so no npm process is spawned.
func TestInstallNothingMissing(t *testing.T) {
	ta := newTestAPI(t)
	setupProject(t, ta)

	body := `{"projectName":"demo","code":"import React from 'react';\nimport App from './App';"}`
	rec := doJSON(t, ta.api.Handler(), http.MethodPost, "/install", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("install: %d %s", rec.Code, rec.Body.String())
	}
	var parsed struct {
		Installed []string `json:"installed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(parsed.Installed) != 0 {
		t.Fatalf("nothing should be installed: %v", parsed.Installed)
	}
}

func TestInstallUnknownProject(t *testing.T) {
	ta := newTestAPI(t)
	rec := doJSON(t, ta.api.Handler(), http.MethodPost, "/install", `{"projectName":"nope","code":"import axios from 'axios';"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("install: %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsText(t *testing.T) {
	ta := newTestAPI(t)
	h := ta.api.Handler()
	doJSON(t, h, http.MethodGet, "/healthz", "")

	rec := doJSON(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"webforge_projects", "webforge_http_requests_total", "webforge_build_info"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %s:\n%s", want, body)
		}
	}
}

func TestAuthTokenRequired(t *testing.T) {
	t.Setenv("WEBFORGE_API_TOKEN", "sekrit")
	ta := newTestAPI(t)
	h := ta.api.Handler()

	rec := doJSON(t, h, http.MethodGet, "/projects", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("want 200 with token, got %d", rec2.Code)
	}
}
