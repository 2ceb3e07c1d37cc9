// Package chi exposes the HTTP API: document registration, task status,
// dispatcher triggers, and the streamed subject query endpoint.
package chi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/atenea-labs/atenea/internal/domain"
)

// Server is the HTTP API server.
type Server struct {
	dispatcher    Dispatcher
	chat          Answerer
	store         Pinger
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(dispatcher Dispatcher, chat Answerer, store Pinger, logger *zap.Logger) *Server {
	s := &Server{
		dispatcher: dispatcher,
		chat:       chat,
		store:      store,
		logger:     logger,
	}
	s.errorHandlers = []errorHandler{
		validationHandler,
		sentinelHandler(domain.ErrTaskNotFound, http.StatusNotFound, "task_not_found"),
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, "document_not_found"),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, "not_found"),
		sentinelHandler(domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"),
		sentinelHandler(domain.ErrStateConflict, http.StatusConflict, "state_conflict"),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, "embedding_provider_error"),
		sentinelHandler(domain.ErrGenerationProviderError, http.StatusBadGateway, "generation_provider_error"),
		sentinelHandler(domain.ErrRetrievalFailed, http.StatusServiceUnavailable, "retrieval_failed"),
	}
	return s
}

// Routes mounts the API on a router. The dispatch secret guards the
// /internal subtree only.
func (s *Server) Routes(r chi.Router, dispatchSecret string) {
	r.Get("/healthz", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/internal", func(r chi.Router) {
		r.Use(SecretAuthMiddleware(dispatchSecret))
		r.Get("/dispatch", s.Dispatch)
		r.Post("/dispatch", s.DispatchStats)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/documents", s.RegisterDocument)
		r.Delete("/documents/{documentID}", s.DeleteDocument)
		r.Get("/tasks/{taskID}", s.TaskStatus)
		r.Post("/tasks/{taskID}/reprocess", s.ReprocessTask)
		r.Post("/subjects/{subjectID}/query", s.Query)
	})
}

// Dispatch handles GET /internal/dispatch: run one ingestion cycle.
func (s *Server) Dispatch(w http.ResponseWriter, r *http.Request) {
	res, err := s.dispatcher.Dispatch(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DispatchStats handles POST /internal/dispatch: sweep stuck tasks and
// report queue health.
func (s *Server) DispatchStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.dispatcher.Stats(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// RegisterDocumentRequest is the POST /api/documents body.
type RegisterDocumentRequest struct {
	Filename  string `json:"filename"`
	SourceURL string `json:"source_url"`
	SubjectID string `json:"subject_id"`
}

// RegisterDocumentResponse pairs the created document with its queued task.
type RegisterDocumentResponse struct {
	Document DocumentResponse `json:"document"`
	Task     TaskResponse     `json:"task"`
}

// DocumentResponse is the document JSON representation.
type DocumentResponse struct {
	ID            string    `json:"id"`
	Filename      string    `json:"filename"`
	SourceURL     string    `json:"source_url"`
	SubjectID     string    `json:"subject_id"`
	ArchiveURL    string    `json:"archive_url,omitempty"`
	FragmentCount int       `json:"fragment_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// TaskResponse is the task JSON representation.
type TaskResponse struct {
	ID           string            `json:"id"`
	DocumentID   string            `json:"document_id"`
	Status       domain.TaskStatus `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// RegisterDocument handles POST /api/documents.
func (s *Server) RegisterDocument(w http.ResponseWriter, r *http.Request) {
	var req RegisterDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	doc, task, err := s.dispatcher.RegisterDocument(r.Context(), req.Filename, req.SourceURL, req.SubjectID)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, RegisterDocumentResponse{
		Document: documentToResponse(doc),
		Task:     taskToResponse(task),
	})
}

// DeleteDocument handles DELETE /api/documents/{documentID}.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")
	if err := s.dispatcher.DeleteDocument(r.Context(), id); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TaskStatusResponse is the task status report with its document summary.
type TaskStatusResponse struct {
	Task     TaskResponse     `json:"task"`
	Document DocumentResponse `json:"document"`
}

// TaskStatus handles GET /api/tasks/{taskID}.
func (s *Server) TaskStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	view, err := s.dispatcher.TaskStatus(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TaskStatusResponse{
		Task:     taskToResponse(view.Task),
		Document: documentToResponse(view.Document),
	})
}

// ReprocessTask handles POST /api/tasks/{taskID}/reprocess.
func (s *Server) ReprocessTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	task, err := s.dispatcher.Reprocess(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

// QueryRequest is the POST /api/subjects/{subjectID}/query body.
type QueryRequest struct {
	Messages []QueryMessage `json:"messages"`
}

// QueryMessage is one conversation turn.
type QueryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Query handles POST /api/subjects/{subjectID}/query. The answer is
// streamed as plain text; an error before the first byte is still
// reported as a JSON envelope.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	messages := make([]domain.ChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = domain.ChatMessage{Role: m.Role, Content: m.Content}
	}

	sw := &streamWriter{w: w}
	if err := s.chat.Answer(r.Context(), subjectID, messages, sw); err != nil {
		if sw.started {
			// Headers are gone; the best we can do is log and cut the stream.
			s.logger.Error("answer stream aborted", zap.Error(err))
			return
		}
		s.handleDomainError(w, err)
		return
	}
	if !sw.started {
		sw.begin()
	}
}

// streamWriter defers the 200 header until the first answer byte so a
// failed retrieval can still produce a proper error status.
type streamWriter struct {
	w       http.ResponseWriter
	started bool
}

func (s *streamWriter) begin() {
	s.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

func (s *streamWriter) Write(p []byte) (int, error) {
	if !s.started {
		s.begin()
	}
	n, err := s.w.Write(p)
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}

// HealthCheck handles GET /healthz.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
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
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}

func documentToResponse(d domain.Document) DocumentResponse {
	return DocumentResponse{
		ID:            d.ID,
		Filename:      d.Filename,
		SourceURL:     d.SourceURL,
		SubjectID:     d.SubjectID,
		ArchiveURL:    d.FragmentArchiveURL,
		FragmentCount: d.FragmentCount,
		CreatedAt:     d.CreatedAt,
	}
}

func taskToResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:           t.ID,
		DocumentID:   t.DocumentID,
		Status:       t.Status,
		ErrorMessage: t.ErrorMessage,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}
