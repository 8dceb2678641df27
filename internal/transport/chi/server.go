package chi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ragdex/internal/domain"
	"ragdex/internal/metrics"
	chatuc "ragdex/internal/usecase/chat"
	healthuc "ragdex/internal/usecase/health"
	ingestuc "ragdex/internal/usecase/ingest"
)

type errorCode string

const (
	codeBadRequest         errorCode = "bad_request"
	codeValidationFailed   errorCode = "validation_failed"
	codeUnauthorized       errorCode = "unauthorized"
	codeInvalidSource      errorCode = "invalid_source"
	codeThreadNotFound     errorCode = "thread_not_found"
	codeEmbeddingProvider  errorCode = "embedding_provider_error"
	codeGenerationProvider errorCode = "generation_provider_error"
	codeIndexUnavailable   errorCode = "index_unavailable"
	codeInternalError      errorCode = "internal_error"
)

type errorResponse struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server is the HTTP API for conversations, document ingestion and health.
type Server struct {
	chat          *chatuc.Service
	ingest        *ingestuc.Service
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	chat *chatuc.Service,
	ingest *ingestuc.Service,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		chat:   chat,
		ingest: ingest,
		health: health,
		logger: logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrThreadNotFound, http.StatusNotFound, codeThreadNotFound),
		sentinelHandler(domain.ErrInvalidSource, http.StatusBadRequest, codeInvalidSource),
		sentinelHandler(domain.ErrEmbeddingProvider, http.StatusBadGateway, codeEmbeddingProvider),
		sentinelHandler(domain.ErrGenerationProvider, http.StatusBadGateway, codeGenerationProvider),
		sentinelHandler(domain.ErrIndexUnavailable, http.StatusServiceUnavailable, codeIndexUnavailable),
	}
	return s
}

// Router builds the chi router with the full middleware chain.
func (s *Server) Router(apiKeys []string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(RequestLogger(s.logger))
	r.Use(Recoverer(s.logger))
	r.Use(metrics.Middleware())
	r.Use(BearerAuthMiddleware(apiKeys))

	r.Get("/healthz", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/chat", s.Chat)

		r.Get("/threads", s.ListThreads)
		r.Post("/threads", s.CreateThread)
		r.Get("/threads/{id}", s.GetThread)
		r.Get("/threads/{id}/messages", s.GetThreadMessages)
		r.Delete("/threads/{id}", s.DeleteThread)

		r.Post("/documents", s.IngestDocuments)
		r.Get("/documents", s.ListDocuments)
		r.Delete("/documents", s.DeleteDocuments)
		r.Post("/documents/flush", s.FlushDocuments)
	})

	return r
}

type chatRequest struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

// Chat handles POST /api/v1/chat. The answer is streamed as plain text;
// the thread ID travels in the X-Thread-ID header so new conversations
// can be continued.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "Message is required")
		return
	}

	threadID, stream, err := s.chat.Chat(r.Context(), req.ThreadID, req.Message)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Thread-ID", threadID)
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	for {
		frag, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			// headers are gone, all we can do is cut the stream
			s.logger.Warn("Answer stream aborted", zap.String("thread", threadID), zap.Error(err))
			return
		}
		if _, err := io.WriteString(w, frag); err != nil {
			s.logger.Debug("Client disconnected mid-stream", zap.String("thread", threadID))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

type threadResponse struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

type messageResponse struct {
	Role         domain.Role `json:"role"`
	Content      string      `json:"content"`
	ResponseTime float64     `json:"response_time,omitempty"`
}

type createThreadRequest struct {
	Title string `json:"title"`
}

// CreateThread handles POST /api/v1/threads.
func (s *Server) CreateThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	t := s.chat.Create(req.Title)
	writeJSON(w, http.StatusCreated, threadToResponse(t))
}

// ListThreads handles GET /api/v1/threads.
func (s *Server) ListThreads(w http.ResponseWriter, r *http.Request) {
	threads := s.chat.List()

	items := make([]threadResponse, len(threads))
	for i, t := range threads {
		items[i] = threadToResponse(t)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	})
}

// GetThread handles GET /api/v1/threads/{id}.
func (s *Server) GetThread(w http.ResponseWriter, r *http.Request) {
	t, err := s.chat.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, threadToResponse(t))
}

// GetThreadMessages handles GET /api/v1/threads/{id}/messages.
func (s *Server) GetThreadMessages(w http.ResponseWriter, r *http.Request) {
	t, err := s.chat.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]messageResponse, len(t.Messages))
	for i, m := range t.Messages {
		items[i] = messageResponse{
			Role:         m.Role,
			Content:      m.Content,
			ResponseTime: m.ResponseTime,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	})
}

// DeleteThread handles DELETE /api/v1/threads/{id}.
func (s *Server) DeleteThread(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.Delete(chi.URLParam(r, "id")); err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type ingestRequest struct {
	Path string `json:"path"`
}

// IngestDocuments handles POST /api/v1/documents.
func (s *Server) IngestDocuments(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "Path is required")
		return
	}

	report, err := s.ingest.Ingest(r.Context(), req.Path)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ListDocuments handles GET /api/v1/documents.
func (s *Server) ListDocuments(w http.ResponseWriter, r *http.Request) {
	sources, err := s.ingest.Sources(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	if sources == nil {
		sources = []domain.SourceInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": sources,
		"total": len(sources),
	})
}

// DeleteDocuments handles DELETE /api/v1/documents?source=...
func (s *Server) DeleteDocuments(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "Source query parameter is required")
		return
	}

	deleted, err := s.ingest.DeleteSource(r.Context(), source)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

// FlushDocuments handles POST /api/v1/documents/flush.
func (s *Server) FlushDocuments(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.ingest.Flush(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

// HealthCheck handles GET /healthz.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func threadToResponse(t domain.Thread) threadResponse {
	return threadResponse{
		ID:           t.ID,
		Title:        t.Title,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		MessageCount: t.MessageCount(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code errorCode, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrThreadNotFound,
		domain.ErrInvalidSource,
		domain.ErrExtraction,
		domain.ErrEmbeddingProvider,
		domain.ErrGenerationProvider,
		domain.ErrIndexUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code errorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
