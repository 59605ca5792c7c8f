package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/devitalik/devitalik/internal/adapter/otel"
	"github.com/devitalik/devitalik/internal/adapter/ws"
	"github.com/devitalik/devitalik/internal/config"
	"github.com/devitalik/devitalik/internal/domain/change"
	"github.com/devitalik/devitalik/internal/domain/document"
	"github.com/devitalik/devitalik/internal/domain/repo"
	"github.com/devitalik/devitalik/internal/port/broadcast"
	"github.com/devitalik/devitalik/internal/port/database"
	"github.com/devitalik/devitalik/internal/port/gitprovider"
	"github.com/devitalik/devitalik/internal/port/messagequeue"
)

// IndexRequest asks the indexer to fetch and (re)index one file.
type IndexRequest struct {
	Repository string `json:"repository"`
	Path       string `json:"path"`
	Ref        string `json:"ref"`
}

// IndexResult reports the outcome of indexing one document.
type IndexResult struct {
	DocumentID string `json:"document_id,omitempty"`
	Repository string `json:"repository,omitempty"`
	Path       string `json:"path"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
}

// IndexerService consumes detected changes from the queue, fetches the
// touched files, chunks them, and writes them to the search index.
type IndexerService struct {
	store       database.Store
	queue       messagequeue.Queue
	provider    gitprovider.Provider
	broadcaster broadcast.Broadcaster
	metrics     *otel.Metrics
	cfg         config.Indexer
}

// NewIndexerService creates an IndexerService.
func NewIndexerService(
	store database.Store,
	queue messagequeue.Queue,
	provider gitprovider.Provider,
	broadcaster broadcast.Broadcaster,
	cfg config.Indexer,
) *IndexerService {
	return &IndexerService{
		store:       store,
		queue:       queue,
		provider:    provider,
		broadcaster: broadcaster,
		cfg:         cfg,
	}
}

// SetMetrics wires metric instruments; without them counters are skipped.
func (s *IndexerService) SetMetrics(m *otel.Metrics) { s.metrics = m }

// Start subscribes to the change and index-request subjects. The
// returned function cancels both subscriptions.
func (s *IndexerService) Start(ctx context.Context) (func(), error) {
	stopChanges, err := s.queue.Subscribe(ctx, messagequeue.SubjectChangeDetected, s.handleChange)
	if err != nil {
		return nil, fmt.Errorf("subscribe changes: %w", err)
	}

	stopRequests, err := s.queue.Subscribe(ctx, messagequeue.SubjectIndexRequest, s.handleRequest)
	if err != nil {
		stopChanges()
		return nil, fmt.Errorf("subscribe index requests: %w", err)
	}

	return func() {
		stopChanges()
		stopRequests()
	}, nil
}

// handleChange processes one push event from the watcher: changed files
// are re-indexed, removed files drop out of the index.
func (s *IndexerService) handleChange(ctx context.Context, _ string, data []byte) error {
	var ev change.PushEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("unmarshal push event: %w", err)
	}
	if ev.Type != change.TypePush {
		return nil
	}

	upserted, removed := ev.ChangedFiles()

	for _, p := range removed {
		if !s.indexable(p) {
			continue
		}
		if err := s.store.DeleteDocumentByPath(ctx, ev.Repository, p); err != nil {
			slog.Debug("delete removed document", "repo", ev.Repository, "path", p, "error", err)
		}
	}

	for _, p := range upserted {
		if !s.indexable(p) {
			continue
		}
		req := IndexRequest{Repository: ev.Repository, Path: p, Ref: ev.After}
		if err := s.index(ctx, req); err != nil {
			slog.Error("index file failed", "repo", ev.Repository, "path", p, "error", err)
		}
	}
	return nil
}

// handleRequest processes one direct index request.
func (s *IndexerService) handleRequest(ctx context.Context, _ string, data []byte) error {
	var req IndexRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("unmarshal index request: %w", err)
	}
	return s.index(ctx, req)
}

// RequestIndex queues a file for asynchronous indexing.
func (s *IndexerService) RequestIndex(ctx context.Context, req IndexRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal index request: %w", err)
	}
	return s.queue.Publish(ctx, messagequeue.SubjectIndexRequest, data)
}

// IndexUpload chunks and stores directly supplied content, bypassing the
// git provider.
func (s *IndexerService) IndexUpload(ctx context.Context, req *document.UploadRequest) (*document.Document, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	doc := document.Document{
		Source: document.SourceUpload,
		Path:   req.Path,
		Title:  req.Title,
		Status: document.StatusIndexed,
	}
	return s.persist(ctx, doc, req.Content)
}

// ListDocuments returns indexed documents, optionally filtered by
// repository full name.
func (s *IndexerService) ListDocuments(ctx context.Context, repository string) ([]document.Document, error) {
	return s.store.ListDocuments(ctx, repository)
}

// GetDocument returns one document by ID.
func (s *IndexerService) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	return s.store.GetDocument(ctx, id)
}

// DeleteDocument removes a document and its chunks from the index.
func (s *IndexerService) DeleteDocument(ctx context.Context, id string) error {
	return s.store.DeleteDocument(ctx, id)
}

// index fetches one file and writes it to the search index.
func (s *IndexerService) index(ctx context.Context, req IndexRequest) error {
	ctx, span := otel.StartIndexSpan(ctx, req.Repository, req.Path)
	defer span.End()

	owner, name, err := repo.ParseFullName(req.Repository)
	if err != nil {
		return err
	}

	content, err := s.provider.GetContent(ctx, owner, name, req.Path, req.Ref)
	if err != nil {
		s.report(ctx, IndexResult{Repository: req.Repository, Path: req.Path, Status: string(document.StatusError), Error: err.Error()})
		return fmt.Errorf("fetch %s: %w", req.Path, err)
	}
	if s.cfg.MaxFileBytes > 0 && int64(len(content)) > s.cfg.MaxFileBytes {
		slog.Info("file exceeds index size limit, skipping", "path", req.Path, "bytes", len(content))
		return nil
	}

	doc := document.Document{
		Source:     document.SourceRepo,
		Repository: req.Repository,
		Path:       req.Path,
		Ref:        req.Ref,
		Status:     document.StatusIndexed,
	}
	if _, err := s.persist(ctx, doc, string(content)); err != nil {
		s.report(ctx, IndexResult{Repository: req.Repository, Path: req.Path, Status: string(document.StatusError), Error: err.Error()})
		return err
	}
	return nil
}

// persist chunks content and upserts the document, then reports the result.
func (s *IndexerService) persist(ctx context.Context, doc document.Document, content string) (*document.Document, error) {
	parts := document.Split(content, document.ChunkOptions{
		MaxBytes: s.cfg.MaxChunkBytes,
		MinBytes: s.cfg.MinChunkBytes,
	})
	chunks := make([]document.Chunk, 0, len(parts))
	for i, p := range parts {
		chunks = append(chunks, document.Chunk{
			Seq:        i,
			Content:    p,
			TokenCount: document.EstimateTokens(p),
		})
	}

	saved, err := s.store.UpsertDocument(ctx, &doc, chunks)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IndexFailures.Add(ctx, 1)
		}
		return nil, fmt.Errorf("upsert document %s: %w", doc.Path, err)
	}

	if s.metrics != nil {
		s.metrics.DocumentsIndexed.Add(ctx, 1)
	}
	s.report(ctx, IndexResult{
		DocumentID: saved.ID,
		Repository: saved.Repository,
		Path:       saved.Path,
		Status:     string(saved.Status),
		ChunkCount: saved.ChunkCount,
	})

	slog.Info("document indexed", "repo", saved.Repository, "path", saved.Path, "chunks", saved.ChunkCount)
	return saved, nil
}

// report publishes an index result and mirrors it to connected clients.
func (s *IndexerService) report(ctx context.Context, res IndexResult) {
	if data, err := json.Marshal(res); err == nil {
		if err := s.queue.Publish(ctx, messagequeue.SubjectIndexResult, data); err != nil {
			slog.Debug("publish index result", "path", res.Path, "error", err)
		}
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastEvent(ctx, ws.EventIndexResult, ws.IndexResultEvent{
			DocumentID: res.DocumentID,
			Repository: res.Repository,
			Path:       res.Path,
			Status:     res.Status,
			ChunkCount: res.ChunkCount,
		})
	}
}

// indexable filters files by extension. An empty extension list indexes
// everything.
func (s *IndexerService) indexable(p string) bool {
	if len(s.cfg.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(path.Ext(p))
	for _, allowed := range s.cfg.Extensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}
