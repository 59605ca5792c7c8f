package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/devitalik/devitalik/internal/adapter/ws"
	"github.com/devitalik/devitalik/internal/domain/document"
	"github.com/devitalik/devitalik/internal/domain/query"
	"github.com/devitalik/devitalik/internal/domain/repo"
	"github.com/devitalik/devitalik/internal/logger"
	"github.com/devitalik/devitalik/internal/service"
)

const defaultChangeLimit = 50

// Handlers bundles the services exposed over HTTP.
type Handlers struct {
	Repositories *service.RepositoryService
	Webhook      *service.WebhookService
	Watcher      *service.WatcherService
	Indexer      *service.IndexerService
	Query        *service.QueryService
	Status       *service.StatusService
	Hub          *ws.Hub
}

// --- Webhooks ---

// HandleGitHubWebhook handles POST /api/v1/webhooks/github. Signature
// verification happens in middleware before the request reaches here.
func (h *Handlers) HandleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	ctx := logger.WithDeliveryID(r.Context(), deliveryID)

	err = h.Webhook.HandleGitHub(ctx, eventType, deliveryID, body)
	switch {
	case errors.Is(err, service.ErrIgnoredEvent):
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "event": eventType})
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "event": eventType})
	}
}

// --- Repositories ---

// ListRepositories handles GET /api/v1/repositories
func (h *Handlers) ListRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := h.Repositories.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if repos == nil {
		repos = []repo.Repository{}
	}
	writeJSON(w, http.StatusOK, repos)
}

// CreateRepository handles POST /api/v1/repositories
func (h *Handlers) CreateRepository(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[repo.CreateRequest](w, r)
	if !ok {
		return
	}
	created, err := h.Repositories.Register(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err, "repository not found")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetRepository handles GET /api/v1/repositories/{id}
func (h *Handlers) GetRepository(w http.ResponseWriter, r *http.Request) {
	got, err := h.Repositories.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "repository not found")
		return
	}
	writeJSON(w, http.StatusOK, got)
}

// UpdateRepository handles PUT /api/v1/repositories/{id}
func (h *Handlers) UpdateRepository(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[repo.UpdateRequest](w, r)
	if !ok {
		return
	}
	updated, err := h.Repositories.Update(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err, "repository not found")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteRepository handles DELETE /api/v1/repositories/{id}
func (h *Handlers) DeleteRepository(w http.ResponseWriter, r *http.Request) {
	if err := h.Repositories.Delete(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "repository not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Changes ---

// ListChanges handles GET /api/v1/changes?repository=owner/name&limit=50
func (h *Handlers) ListChanges(w http.ResponseWriter, r *http.Request) {
	limit := defaultChangeLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	changes, err := h.Watcher.RecentChanges(r.Context(), r.URL.Query().Get("repository"), limit)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

// --- Documents ---

// ListDocuments handles GET /api/v1/documents?repository=owner/name
func (h *Handlers) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.Indexer.ListDocuments(r.Context(), r.URL.Query().Get("repository"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if docs == nil {
		docs = []document.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// GetDocument handles GET /api/v1/documents/{id}
func (h *Handlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Indexer.GetDocument(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument handles DELETE /api/v1/documents/{id}
func (h *Handlers) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.Indexer.DeleteDocument(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "document not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadDocument handles POST /api/v1/documents
func (h *Handlers) UploadDocument(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[document.UploadRequest](w, r)
	if !ok {
		return
	}
	doc, err := h.Indexer.IndexUpload(r.Context(), &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// MatchDocuments handles GET /api/v1/documents/match?pattern=*.md
func (h *Handlers) MatchDocuments(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	paths, err := h.Query.MatchPaths(r.Context(), pattern)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if paths == nil {
		paths = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pattern": pattern, "paths": paths})
}

// RequestIndex handles POST /api/v1/index. The file is fetched and
// indexed asynchronously via the queue.
func (h *Handlers) RequestIndex(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.IndexRequest](w, r)
	if !ok {
		return
	}
	if req.Repository == "" || req.Path == "" {
		writeError(w, http.StatusBadRequest, "repository and path are required")
		return
	}
	if err := h.Indexer.RequestIndex(r.Context(), req); err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "path": req.Path})
}

// --- Query ---

// AnswerQuery handles POST /api/v1/query
func (h *Handlers) AnswerQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[query.Request](w, r)
	if !ok {
		return
	}
	ans, err := h.Query.Answer(r.Context(), &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

// --- Status ---

// GetStatus handles GET /api/v1/status
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Status.Snapshot(r.Context()))
}
