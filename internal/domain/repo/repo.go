// Package repo defines the watched repository entity.
package repo

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository is a source repository being watched for changes.
type Repository struct {
	ID            string    `json:"id"`
	Owner         string    `json:"owner"`
	Name          string    `json:"name"`
	DefaultBranch string    `json:"default_branch"`
	WatchEnabled  bool      `json:"watch_enabled"`
	LastSeenSHA   string    `json:"last_seen_sha,omitempty"`
	LastChangeAt  time.Time `json:"last_change_at,omitempty"`
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// FullName returns the "owner/name" identifier used by the GitHub API.
func (r *Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// CreateRequest holds the input for registering a repository to watch.
type CreateRequest struct {
	FullName      string `json:"full_name"` // "owner/repo"
	DefaultBranch string `json:"default_branch,omitempty"`
	WatchEnabled  *bool  `json:"watch_enabled,omitempty"` // nil = true
}

// Validate checks that a CreateRequest is well-formed.
func (r *CreateRequest) Validate() error {
	if r.FullName == "" {
		return errors.New("full_name is required")
	}
	if _, _, err := ParseFullName(r.FullName); err != nil {
		return err
	}
	return nil
}

// UpdateRequest holds the input for updating a watched repository.
type UpdateRequest struct {
	DefaultBranch *string `json:"default_branch,omitempty"`
	WatchEnabled  *bool   `json:"watch_enabled,omitempty"`
}

// ParseFullName splits "owner/repo" into its components.
func ParseFullName(full string) (owner, name string, err error) {
	parts := strings.Split(full, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository %q: expected owner/repo", full)
	}
	for _, p := range parts {
		if strings.ContainsAny(p, " \t") || strings.Contains(p, "..") {
			return "", "", fmt.Errorf("invalid repository %q: expected owner/repo", full)
		}
	}
	return parts[0], parts[1], nil
}
