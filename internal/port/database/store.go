// Package database defines the persistence port (interface).
package database

import (
	"context"
	"time"

	"github.com/devitalik/devitalik/internal/domain/change"
	"github.com/devitalik/devitalik/internal/domain/document"
	"github.com/devitalik/devitalik/internal/domain/repo"
)

// SearchResult is one scored chunk returned by SearchChunks.
type SearchResult struct {
	Chunk      document.Chunk
	Path       string
	Repository string
	Score      float64
}

// ChangeRecord is a persisted change event with its payload.
type ChangeRecord struct {
	ID         string
	Type       change.Type
	Source     change.Source
	Repository string
	Branch     string
	Sender     string
	DeliveryID string
	Payload    []byte // normalized event JSON
	DetectedAt time.Time
}

// Store is the port interface for persistence.
type Store interface {
	// Repositories
	ListRepositories(ctx context.Context) ([]repo.Repository, error)
	GetRepository(ctx context.Context, id string) (*repo.Repository, error)
	GetRepositoryByFullName(ctx context.Context, owner, name string) (*repo.Repository, error)
	CreateRepository(ctx context.Context, req *repo.CreateRequest) (*repo.Repository, error)
	UpdateRepository(ctx context.Context, r *repo.Repository) error
	DeleteRepository(ctx context.Context, id string) error
	// UpdateRepositoryHead records the last seen commit without bumping the version.
	UpdateRepositoryHead(ctx context.Context, id, sha string, at time.Time) error

	// Changes
	InsertChange(ctx context.Context, rec *ChangeRecord) error
	ListChanges(ctx context.Context, repository string, limit int) ([]ChangeRecord, error)
	CountChangesSince(ctx context.Context, since time.Time) (int, error)

	// Documents and chunks
	UpsertDocument(ctx context.Context, doc *document.Document, chunks []document.Chunk) (*document.Document, error)
	GetDocument(ctx context.Context, id string) (*document.Document, error)
	ListDocuments(ctx context.Context, repository string) ([]document.Document, error)
	ListDocumentPaths(ctx context.Context) ([]string, error)
	DeleteDocument(ctx context.Context, id string) error
	DeleteDocumentByPath(ctx context.Context, repository, path string) error
	MarkDocumentStatus(ctx context.Context, id string, status document.Status, chunkCount int) error
	CountDocuments(ctx context.Context) (indexed int, pending int, err error)

	// SearchChunks runs full-text search over chunk content.
	SearchChunks(ctx context.Context, query string, topK int) ([]SearchResult, error)
}
