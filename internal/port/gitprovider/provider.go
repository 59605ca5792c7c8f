// Package gitprovider defines the Git hosting provider port (interface) and capabilities.
package gitprovider

import "context"

// Capabilities declares which operations a git provider supports.
type Capabilities struct {
	Webhook bool `json:"webhook"`
	Compare bool `json:"compare"`
	Content bool `json:"content"`
}

// Head describes the current state of a repository's default branch.
type Head struct {
	SHA           string `json:"sha"`
	DefaultBranch string `json:"default_branch"`
}

// FileChange is a single file touched between two commits.
type FileChange struct {
	Path   string `json:"path"`
	Status string `json:"status"` // "added", "modified", "removed", "renamed"
	// PrevPath is set when Status is "renamed".
	PrevPath string `json:"prev_path,omitempty"`
}

// Comparison is the result of comparing a known SHA against the branch head.
type Comparison struct {
	HeadSHA      string       `json:"head_sha"`
	TotalCommits int          `json:"total_commits"`
	Files        []FileChange `json:"files"`
}

// Provider is the port interface for interacting with a Git hosting platform.
type Provider interface {
	// Name returns the unique identifier for this provider (e.g. "github").
	Name() string

	// Capabilities returns what this provider supports.
	Capabilities() Capabilities

	// GetHead returns the current head of the repository's default branch.
	GetHead(ctx context.Context, owner, repo string) (Head, error)

	// Compare returns the files changed between a base SHA and the branch head.
	// Base may be empty, in which case only the head is resolved and no file
	// list is produced.
	Compare(ctx context.Context, owner, repo, base, head string) (Comparison, error)

	// GetContent fetches the raw content of a file at a given ref.
	GetContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error)
}
