// Package document defines the indexed document and chunk entities.
package document

import (
	"errors"
	"time"
)

// SourceKind tells where a document's content came from.
type SourceKind string

const (
	SourceRepo   SourceKind = "repo"   // fetched from a watched repository
	SourceUpload SourceKind = "upload" // pushed directly via the API
)

// Status represents the indexing status of a document.
type Status string

const (
	StatusPending Status = "pending"
	StatusIndexed Status = "indexed"
	StatusError   Status = "error"
)

// Document is a unit of indexed content.
type Document struct {
	ID         string     `json:"id"`
	Source     SourceKind `json:"source"`
	Repository string     `json:"repository,omitempty"` // "owner/repo" for repo documents
	Path       string     `json:"path"`                 // file path or upload name
	Title      string     `json:"title,omitempty"`
	Ref        string     `json:"ref,omitempty"` // commit SHA the content was fetched at
	Status     Status     `json:"status"`
	ChunkCount int        `json:"chunk_count"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Chunk is an indexed slice of a document's content.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Seq        int    `json:"seq"`
	Content    string `json:"content"`
	TokenCount int    `json:"token_count"` // rough estimate, bytes/4
}

// UploadRequest holds the input for indexing content directly.
type UploadRequest struct {
	Path    string `json:"path"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

// Validate checks that an UploadRequest is well-formed.
func (r *UploadRequest) Validate() error {
	if r.Path == "" {
		return errors.New("path is required")
	}
	if r.Content == "" {
		return errors.New("content is required")
	}
	return nil
}
