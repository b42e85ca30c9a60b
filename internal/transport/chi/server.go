// Package chi is the HTTP API surface, routed with go-chi.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/docdex/docdex/internal/domain"
	collectionuc "github.com/docdex/docdex/internal/usecase/collection"
	indexuc "github.com/docdex/docdex/internal/usecase/index"
	jobuc "github.com/docdex/docdex/internal/usecase/job"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 1000
	maxBatchSize       = 1000
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server exposes the collection, index, and job services over HTTP.
type Server struct {
	collections   *collectionuc.Service
	indices       *indexuc.Service
	jobs          *jobuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

func NewServer(collections *collectionuc.Service, indices *indexuc.Service, jobs *jobuc.Service, logger *zap.Logger) *Server {
	s := &Server{
		collections: collections,
		indices:     indices,
		jobs:        jobs,
		logger:      logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, "not_found"),
		sentinelHandler(domain.ErrConflict, http.StatusConflict, "conflict"),
		sentinelHandler(domain.ErrInvalidState, http.StatusConflict, "invalid_state"),
		sentinelHandler(domain.ErrSchema, http.StatusBadRequest, "schema_violation"),
		sentinelHandler(domain.ErrTypeMismatch, http.StatusBadRequest, "type_mismatch"),
	}
	return s
}

// Routes mounts all API routes on the given router.
func (s *Server) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/collections", func(r chi.Router) {
			r.Post("/", s.createCollection)
			r.Get("/", s.listCollections)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.getCollection)
				r.Delete("/", s.deleteCollection)
				r.Post("/documents", s.batchUpload)
			})
		})
		r.Route("/indices", func(r chi.Router) {
			r.Post("/", s.createIndex)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.getIndex)
				r.Patch("/", s.updateIndex)
				r.Delete("/", s.deleteIndex)
				r.Post("/activate", s.activateIndex)
				r.Post("/recreate", s.recreateIndex)
				r.Post("/append", s.appendIndex)
				r.Post("/force-activate", s.forceActivateIndex)
				r.Post("/search", s.searchDocuments)
				r.Route("/documents/{docID}", func(r chi.Router) {
					r.Get("/", s.getDocument)
					r.Put("/", s.updateDocument)
				})
			})
		})
		r.Get("/jobs/{id}", s.getJob)
	})
	r.Get("/healthz", s.healthz)
}

func (s *Server) createCollection(w http.ResponseWriter, r *http.Request) {
	var req createCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "collection name is required")
		return
	}
	rec, err := s.collections.Create(r.Context(), req.Name, req.Description)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, collectionToPayload(rec))
}

func (s *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	recs, err := s.collections.List(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	out := make([]collectionPayload, 0, len(recs))
	for _, rec := range recs {
		out = append(out, collectionToPayload(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getCollection(w http.ResponseWriter, r *http.Request) {
	detail, err := s.collections.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	out := collectionDetailPayload{
		collectionPayload: collectionToPayload(detail.Record),
		Indices:           make([]indexPayload, 0, len(detail.Indices)),
	}
	for _, v := range detail.Indices {
		out.Indices = append(out.Indices, indexToPayload(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteCollection(w http.ResponseWriter, r *http.Request) {
	if err := s.collections.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) batchUpload(w http.ResponseWriter, r *http.Request) {
	var req batchUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	if len(req.Documents) > maxBatchSize {
		writeError(w, http.StatusBadRequest, "validation_failed",
			"batch exceeds "+strconv.Itoa(maxBatchSize)+" documents")
		return
	}
	docs := make([][]byte, 0, len(req.Documents))
	for _, d := range req.Documents {
		docs = append(docs, d)
	}
	batchID, accepted, err := s.collections.BatchUpload(r.Context(), chi.URLParam(r, "name"), req.BatchID, docs)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, batchUploadResponse{BatchID: batchID, Accepted: accepted})
}

func (s *Server) createIndex(w http.ResponseWriter, r *http.Request) {
	var req createIndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	props, err := propertiesFromPayload(req.Properties)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	view, err := s.indices.Create(r.Context(), indexuc.CreateParams{
		Name:           req.Name,
		Description:    req.Description,
		CollectionName: req.Collection,
		AutoAppend:     req.AutoAppend,
		Properties:     props,
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, indexToPayload(view))
}

func (s *Server) getIndex(w http.ResponseWriter, r *http.Request) {
	view, err := s.indices.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, indexToPayload(view))
}

func (s *Server) updateIndex(w http.ResponseWriter, r *http.Request) {
	var req updateIndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	props, err := propertiesFromPayload(req.Properties)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	job, err := s.indices.UpdateSchema(r.Context(), chi.URLParam(r, "name"), req.Description, props)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if job != nil {
		writeJSON(w, http.StatusAccepted, jobToPayload(*job, nil))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteIndex(w http.ResponseWriter, r *http.Request) {
	retain := r.URL.Query().Get("retain_data") == "true"
	if err := s.indices.Delete(r.Context(), chi.URLParam(r, "name"), retain); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) activateIndex(w http.ResponseWriter, r *http.Request) {
	job, err := s.indices.Activate(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobToPayload(job, nil))
}

func (s *Server) recreateIndex(w http.ResponseWriter, r *http.Request) {
	job, err := s.indices.Recreate(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobToPayload(job, nil))
}

func (s *Server) appendIndex(w http.ResponseWriter, r *http.Request) {
	job, err := s.indices.Append(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobToPayload(job, nil))
}

func (s *Server) forceActivateIndex(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.indices.ForceActivate(r.Context(), name); err != nil {
		s.handleDomainError(w, err)
		return
	}
	view, err := s.indices.Get(r.Context(), name)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOnly(view.Index))
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	d, err := s.indices.GetDocument(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "docID"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentToPayload(d))
}

func (s *Server) updateDocument(w http.ResponseWriter, r *http.Request) {
	var patch json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	err := s.indices.UpdateDocument(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "docID"), patch)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) searchDocuments(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	if len(req.Query) == 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "query is required")
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	docs, err := s.indices.SearchDocuments(r.Context(), chi.URLParam(r, "name"), req.Query, limit)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	hits := make([]documentPayload, 0, len(docs))
	for _, d := range docs {
		hits = append(hits, documentToPayload(d))
	}
	writeJSON(w, http.StatusOK, searchResponse{Hits: hits})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid job id")
		return
	}
	job, logs, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobToPayload(job, logs))
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without
// exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrNotFound,
		domain.ErrConflict,
		domain.ErrInvalidState,
		domain.ErrSchema,
		domain.ErrTypeMismatch,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return err.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
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
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
