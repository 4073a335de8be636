package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/repo-assistant/internal/config"
	"github.com/kirillkom/repo-assistant/internal/core/domain"
	"github.com/kirillkom/repo-assistant/internal/core/ports"
	"github.com/kirillkom/repo-assistant/internal/observability/metrics"
)

const (
	serviceName  = "repoqa-api"
	apiKeyHeader = "X-Api-Key"
	maxBodyBytes = 1 << 20
)

type Router struct {
	settings  *config.Source
	answerer  ports.QuestionAnswerer
	rebuilder ports.IndexRebuilder
	inspector ports.IndexInspector
	queue     ports.RebuildQueue
	metrics   *metrics.HTTPServerMetrics
	logger    *slog.Logger
}

type Option func(*Router)

// WithQueue makes rebuild requests asynchronous.
func WithQueue(queue ports.RebuildQueue) Option {
	return func(rt *Router) {
		rt.queue = queue
	}
}

func WithMetrics(m *metrics.HTTPServerMetrics) Option {
	return func(rt *Router) {
		rt.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(rt *Router) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

func NewRouter(
	settings *config.Source,
	answerer ports.QuestionAnswerer,
	rebuilder ports.IndexRebuilder,
	inspector ports.IndexInspector,
	opts ...Option,
) *Router {
	rt := &Router{
		settings:  settings,
		answerer:  answerer,
		rebuilder: rebuilder,
		inspector: inspector,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/projects/{project}/rebuild", rt.rebuild)
	mux.HandleFunc("POST /v1/projects/{project}/ask", rt.ask)
	mux.HandleFunc("GET /v1/projects/{project}/index", rt.indexStatus)

	cfg := rt.settings.Current()
	var handler http.Handler = mux
	handler = rateLimitMiddleware(handler, cfg.APIRateLimitRPS, cfg.APIRateLimitBurst)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler, rt.logger)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type rebuildRequest struct {
	Ref    string `json:"ref"`
	Append *bool  `json:"append"`
}

func (rt *Router) rebuild(w http.ResponseWriter, r *http.Request) {
	projectID, ok := rt.authorize(w, r)
	if !ok {
		return
	}

	var req rebuildRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	appendMode := rt.settings.Current().IndexAppend
	if req.Append != nil {
		appendMode = *req.Append
	}
	ref := strings.TrimSpace(req.Ref)
	if ref == "" {
		ref = domain.DefaultRef
	}

	if rt.queue != nil {
		requestID := requestIDFromContext(r.Context())
		err := rt.queue.PublishRebuild(r.Context(), domain.RebuildRequest{
			RequestID: requestID,
			ProjectID: projectID,
			Ref:       ref,
			Append:    appendMode,
		})
		rt.recordRebuild("queued", 0, 0, err)
		if err != nil {
			rt.writeDomainError(w, r, "rebuild_enqueue_failed", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":     "queued",
			"request_id": requestID,
			"project_id": projectID,
			"ref":        ref,
		})
		return
	}

	start := time.Now()
	run, err := rt.rebuilder.Rebuild(r.Context(), projectID, ref, domain.RebuildOptions{Append: appendMode})
	chunks := 0
	if run != nil {
		chunks = run.Chunks
	}
	rt.recordRebuild("sync", chunks, time.Since(start), err)
	if err != nil {
		rt.writeDomainError(w, r, "rebuild_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"run":    run,
	})
}

type askRequest struct {
	Question string `json:"question"`
	Ref      string `json:"ref"`
}

type askResponse struct {
	Answer  string               `json:"answer"`
	Context []domain.ContextItem `json:"context"`
}

func (rt *Router) ask(w http.ResponseWriter, r *http.Request) {
	projectID, ok := rt.authorize(w, r)
	if !ok {
		return
	}

	var req askRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		req.Question = r.URL.Query().Get("q")
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	start := time.Now()
	answer, err := rt.answerer.Answer(r.Context(), projectID, req.Question, req.Ref)
	if err != nil {
		rt.recordAsk(nil, 0, err)
		rt.writeDomainError(w, r, "ask_failed", err)
		return
	}
	rt.recordAsk(answer.Context, time.Since(start), nil)

	items := answer.Context
	if items == nil {
		items = []domain.ContextItem{}
	}
	writeJSON(w, http.StatusOK, askResponse{Answer: answer.Text, Context: items})
}

func (rt *Router) indexStatus(w http.ResponseWriter, r *http.Request) {
	projectID, ok := rt.authorize(w, r)
	if !ok {
		return
	}
	status, err := rt.inspector.Status(r.Context(), projectID)
	if err != nil {
		rt.writeDomainError(w, r, "index_status_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// authorize resolves the project path value and applies the access policy
// of the current configuration.
func (rt *Router) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	projectID := strings.TrimSpace(r.PathValue("project"))
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project id is required")
		return "", false
	}
	policy := NewAccessPolicy(rt.settings.Current())
	if !policy.CanAccessProject(projectID, r.Header.Get(apiKeyHeader)) {
		rt.logger.Warn("project_access_denied",
			"request_id", requestIDFromContext(r.Context()),
			"project", projectID,
		)
		writeError(w, http.StatusForbidden, "forbidden")
		return "", false
	}
	return projectID, true
}

func (rt *Router) recordAsk(items []domain.ContextItem, duration time.Duration, err error) {
	if rt.metrics == nil {
		return
	}
	structural, vector := 0, 0
	for _, item := range items {
		if item.Kind == domain.ContextStructural {
			structural++
		} else {
			vector++
		}
	}
	rt.metrics.RecordAsk(serviceName, structural, vector, duration, err)
}

func (rt *Router) recordRebuild(mode string, chunks int, duration time.Duration, err error) {
	if rt.metrics == nil {
		return
	}
	rt.metrics.RecordRebuild(serviceName, mode, chunks, duration, err)
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, event string, err error) {
	status := mapErrorToHTTPStatus(err)
	attrs := []any{
		"request_id", requestIDFromContext(r.Context()),
		"project", r.PathValue("project"),
		"status", status,
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		rt.logger.Error(event, attrs...)
	} else {
		rt.logger.Warn(event, attrs...)
	}
	writeError(w, status, err.Error())
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(out)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
