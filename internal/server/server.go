package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"webforge/internal/clarify"
	"webforge/internal/config"
	"webforge/internal/intent"
	"webforge/internal/knowledge"
	"webforge/internal/llm/embed"
	oai "webforge/internal/llm/openai"
	mylog "webforge/internal/log"
	"webforge/internal/orchestrator"
	"webforge/internal/plan"
	"webforge/internal/store"
	"webforge/internal/synth"
	"webforge/internal/vectorstore"
	"webforge/internal/version"
	"webforge/internal/workspace"
)

// API owns the HTTP surface: project registry, indexing and the chat pipeline.
type API struct {
	store   store.Store
	engine  *orchestrator.Engine
	indexer *knowledge.Indexer
	vs      vectorstore.Store
	lg      *mylog.Logger
}

func NewAPI(st store.Store, engine *orchestrator.Engine, ix *knowledge.Indexer, vs vectorstore.Store) *API {
	return &API{store: st, engine: engine, indexer: ix, vs: vs, lg: mylog.New()}
}

type metricsCollector struct {
	mu sync.Mutex
	// counters keyed by method|path|status
	reqTotal map[string]int
	// duration sum/count keyed by method|path
	durSum   map[string]float64
	durCount map[string]int
	// pipeline counters
	chatRequests   int
	chatChunks     int
	indexRuns      int
	filesSynthed   int
	clarifications int
}

func newMetrics() *metricsCollector {
	return &metricsCollector{
		reqTotal: make(map[string]int),
		durSum:   make(map[string]float64),
		durCount: make(map[string]int),
	}
}

var metrics = newMetrics()

// Authorization: optional token via env WEBFORGE_API_TOKEN.
// Accepts Authorization: Bearer <token> or query param ?token=...
func authorize(w http.ResponseWriter, r *http.Request) bool {
	tok := os.Getenv("WEBFORGE_API_TOKEN")
	if tok == "" {
		return true
	}
	hdr := r.Header.Get("Authorization")
	if strings.HasPrefix(hdr, "Bearer ") && strings.TrimSpace(hdr[len("Bearer "):]) == tok {
		return true
	}
	if r.URL.Query().Get("token") == tok {
		return true
	}
	writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
	return false
}

func (a *API) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/projects", a.handleProjects)
	mux.HandleFunc("/index", a.handleIndex)
	mux.HandleFunc("/install", a.handleInstall)
	mux.HandleFunc("/chat", a.handleChat)
	mux.HandleFunc("/chat/messages", a.handleChatMessages)
	mux.HandleFunc("/chat/reset", a.handleChatReset)
	mux.HandleFunc("/metrics", a.handleMetrics)
	return mux
}

// Handler exposes the wired mux with middleware, for tests and embedding.
func (a *API) Handler() http.Handler {
	return logMiddleware(a.mux())
}

// Run wires the full stack from env and serves until a signal arrives.
func Run(addr string) error {
	var st store.Store
	if path := os.Getenv("WEBFORGE_SQLITE_PATH"); path != "" {
		sdb, err := store.NewSQLite(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sqlite init failed: %v, falling back to memory\n", err)
			st = store.NewMem()
		} else {
			st = sdb
		}
	} else {
		st = store.NewMem()
	}
	defer st.Close()

	lg := mylog.New()
	embedder := embed.NewCaching(embed.NewFromEnv())
	vs := vectorstore.NewQdrantFromEnv()
	ret := knowledge.NewRetriever(embedder, vs, lg)
	ix := knowledge.NewIndexer(embedder, vs, lg)

	chat := oai.NewFromEnv()
	intentChat := chat
	if m := os.Getenv("WEBFORGE_INTENT_MODEL"); m != "" && m != chat.Model() {
		intentChat = oai.New(
			config.Env("WEBFORGE_OPENAI_BASE_URL", "http://localhost:11434/v1"),
			config.Env("WEBFORGE_OPENAI_API_KEY", ""),
			m,
		)
	}

	engine := orchestrator.New(st,
		intent.NewClassifier(intentChat),
		clarify.NewAssessor(chat, ret, lg),
		plan.NewPlanner(chat, ret, lg),
		synth.NewSynthesizer(chat, ret, lg),
		lg,
	)
	api := NewAPI(st, engine, ix, vs)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()

	// graceful shutdown on SIGINT/SIGTERM
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigc:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		return fmt.Errorf("shutdown by signal: %v", sig)
	case err := <-errs:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	nbytes int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.nbytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if fl, ok := sr.ResponseWriter.(http.Flusher); ok {
		fl.Flush()
	}
}

func newRequestID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

func clientIP(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		parts := strings.Split(v, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		// request-id propagation: accept client-provided or generate
		reqID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = newRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		lg := mylog.New()
		lg.Info("http.req",
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"remoteIP", clientIP(r),
			"status", rec.status,
			"duration_ms", int(dur/time.Millisecond),
			"bytes", rec.nbytes,
		)
		key := r.Method + "|" + r.URL.Path
		metrics.mu.Lock()
		metrics.reqTotal[fmt.Sprintf("%s|%d", key, rec.status)]++
		metrics.durSum[key] += dur.Seconds()
		metrics.durCount[key]++
		metrics.mu.Unlock()
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func writeError(w http.ResponseWriter, status int, errStr, message string) {
	writeJSON(w, status, apiError{Error: errStr, Message: message, Code: status})
}

func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	if len(b) >= 2 {
		return string(b[1 : len(b)-1])
	}
	return string(b)
}

// Handlers

func (a *API) handleProjects(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"projects": a.store.ListProjects()})
	case http.MethodPost:
		var req struct {
			Name     string `json:"name"`
			RootPath string `json:"rootPath"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "name is required")
			return
		}
		root := req.RootPath
		if root == "" {
			root = filepath.Join(config.Env("WEBFORGE_PROJECTS_DIR", "projects"), req.Name)
		}
		if _, ok := a.store.GetProjectByName(req.Name); ok {
			writeError(w, http.StatusConflict, "conflict", "project already exists")
			return
		}
		p, err := a.store.CreateProject(req.Name, root)
		if err != nil {
			a.lg.Error("project create failed", "name", req.Name, "err", err.Error())
			writeError(w, http.StatusInternalServerError, "internal", "failed to create project")
			return
		}
		if _, err := a.store.ConversationFor(p.ID); err != nil {
			a.lg.Error("conversation create failed", "project", p.Name, "err", err.Error())
			writeError(w, http.StatusInternalServerError, "internal", "failed to create project")
			return
		}
		if err := a.indexer.Index(r.Context(), *p); err != nil {
			a.lg.Warn("initial indexing failed", "project", p.Name, "err", err.Error())
		}
		metrics.mu.Lock()
		metrics.indexRuns++
		metrics.mu.Unlock()
		writeJSON(w, http.StatusCreated, p)
	case http.MethodDelete:
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "name is required")
			return
		}
		p, ok := a.store.GetProjectByName(req.Name)
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "project not found")
			return
		}
		if err := a.indexer.Drop(r.Context(), p.Name); err != nil {
			a.lg.Warn("collection drop failed", "project", p.Name, "err", err.Error())
		}
		if err := a.store.DeleteProject(p.ID); err != nil {
			a.lg.Error("project delete failed", "project", p.Name, "err", err.Error())
			writeError(w, http.StatusInternalServerError, "internal", "failed to delete project")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": p.Name})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
	}
}

func (a *API) handleIndex(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	var req struct {
		ProjectName string `json:"projectName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProjectName == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "projectName is required")
		return
	}
	p, ok := a.store.GetProjectByName(req.ProjectName)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "project not found")
		return
	}
	if err := a.indexer.Index(r.Context(), *p); err != nil {
		a.lg.Error("indexing failed", "project", p.Name, "err", err.Error())
		writeError(w, http.StatusInternalServerError, "internal", "failed to index project")
		return
	}
	metrics.mu.Lock()
	metrics.indexRuns++
	metrics.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"indexed": p.Name})
}

// handleInstall resolves the npm packages the given code imports but the
// project's package.json lacks, and installs them into the project root.
func (a *API) handleInstall(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	var req struct {
		ProjectName string `json:"projectName"`
		Code        string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProjectName == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "projectName is required")
		return
	}
	p, ok := a.store.GetProjectByName(req.ProjectName)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "project not found")
		return
	}
	installed, err := workspace.InstallPackages(r.Context(), p.RootPath, req.Code)
	if err != nil {
		a.lg.Error("package install failed", "project", p.Name, "err", err.Error())
		writeError(w, http.StatusInternalServerError, "internal", "failed to install packages")
		return
	}
	if installed == nil {
		installed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"installed": installed})
}

// handleChat runs one pipeline turn and streams progress as SSE: `chunk`
// events while the assessment streams, one `files` event when files were
// synthesized, and a final `message` event with the turn's outcome.
func (a *API) handleChat(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	var req struct {
		ProjectName string   `json:"projectName"`
		Message     string   `json:"message"`
		Files       []string `json:"files"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProjectName == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "projectName and message are required")
		return
	}

	metrics.mu.Lock()
	metrics.chatRequests++
	metrics.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	fl, _ := w.(http.Flusher)
	flush := func() {
		if fl != nil {
			fl.Flush()
		}
	}

	out, err := a.engine.HandleMessage(r.Context(), req.ProjectName, req.Message, req.Files, func(chunk string) {
		fmt.Fprintf(w, "event: chunk\n")
		fmt.Fprintf(w, "data: %s\n\n", jsonEscape(chunk))
		metrics.mu.Lock()
		metrics.chatChunks++
		metrics.mu.Unlock()
		flush()
	})
	if err != nil {
		msg := "failed to process message"
		if errors.Is(err, orchestrator.ErrProjectNotFound) {
			msg = "project not found"
		}
		fmt.Fprintf(w, "event: error\n")
		fmt.Fprintf(w, "data: %s\n\n", jsonEscape(msg))
		flush()
		return
	}

	if out.ClarificationNeeded {
		metrics.mu.Lock()
		metrics.clarifications++
		metrics.mu.Unlock()
	}
	if len(out.Files) > 0 {
		metrics.mu.Lock()
		metrics.filesSynthed += len(out.Files)
		metrics.mu.Unlock()
		b, _ := json.Marshal(out.Files)
		fmt.Fprintf(w, "event: files\n")
		fmt.Fprintf(w, "data: %s\n\n", b)
		flush()
	}
	b, _ := json.Marshal(out)
	fmt.Fprintf(w, "event: message\n")
	fmt.Fprintf(w, "data: %s\n\n", b)
	flush()
}

func (a *API) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	name := r.URL.Query().Get("projectName")
	if name == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "projectName is required")
		return
	}
	p, ok := a.store.GetProjectByName(name)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "project not found")
		return
	}
	conv, err := a.store.ConversationFor(p.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to retrieve messages")
		return
	}
	msgs, err := a.store.ListMessages(conv.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to retrieve messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (a *API) handleChatReset(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	var req struct {
		ProjectName string `json:"projectName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProjectName == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "projectName is required")
		return
	}
	p, ok := a.store.GetProjectByName(req.ProjectName)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "project not found")
		return
	}
	conv, err := a.store.ConversationFor(p.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to reset chat")
		return
	}
	if err := a.store.ResetConversation(conv.ID); err != nil {
		a.lg.Error("chat reset failed", "project", p.Name, "err", err.Error())
		writeError(w, http.StatusInternalServerError, "internal", "failed to reset chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Chat reset successfully"})
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	io.WriteString(w, "# HELP webforge_projects Number of registered projects.\n")
	io.WriteString(w, "# TYPE webforge_projects gauge\n")
	io.WriteString(w, fmt.Sprintf("webforge_projects %d\n", len(a.store.ListProjects())))

	metrics.mu.Lock()
	for key, v := range metrics.reqTotal {
		parts := strings.Split(key, "|")
		if len(parts) == 3 {
			io.WriteString(w, "# TYPE webforge_http_requests_total counter\n")
			io.WriteString(w, fmt.Sprintf("webforge_http_requests_total{method=%q,path=%q,status=%q} %d\n", parts[0], parts[1], parts[2], v))
		}
	}
	for key, sum := range metrics.durSum {
		cnt := metrics.durCount[key]
		parts := strings.Split(key, "|")
		if len(parts) == 2 {
			io.WriteString(w, "# TYPE webforge_http_request_duration_seconds summary\n")
			io.WriteString(w, fmt.Sprintf("webforge_http_request_duration_seconds_sum{method=%q,path=%q} %f\n", parts[0], parts[1], sum))
			io.WriteString(w, fmt.Sprintf("webforge_http_request_duration_seconds_count{method=%q,path=%q} %d\n", parts[0], parts[1], cnt))
		}
	}
	io.WriteString(w, "# TYPE webforge_chat_requests_total counter\n")
	io.WriteString(w, fmt.Sprintf("webforge_chat_requests_total %d\n", metrics.chatRequests))
	io.WriteString(w, "# TYPE webforge_chat_stream_chunks_total counter\n")
	io.WriteString(w, fmt.Sprintf("webforge_chat_stream_chunks_total %d\n", metrics.chatChunks))
	io.WriteString(w, "# TYPE webforge_index_runs_total counter\n")
	io.WriteString(w, fmt.Sprintf("webforge_index_runs_total %d\n", metrics.indexRuns))
	io.WriteString(w, "# TYPE webforge_files_synthesized_total counter\n")
	io.WriteString(w, fmt.Sprintf("webforge_files_synthesized_total %d\n", metrics.filesSynthed))
	io.WriteString(w, "# TYPE webforge_clarifications_total counter\n")
	io.WriteString(w, fmt.Sprintf("webforge_clarifications_total %d\n", metrics.clarifications))
	metrics.mu.Unlock()

	io.WriteString(w, "# HELP webforge_build_info Build information.\n")
	io.WriteString(w, "# TYPE webforge_build_info gauge\n")
	io.WriteString(w, fmt.Sprintf("webforge_build_info{version=%q,commit=%q} 1\n", version.Version, version.Commit))
}
