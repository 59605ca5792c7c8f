// Package change defines normalized repository change events.
package change

import (
	"strings"
	"time"
)

// Type classifies a change event.
type Type string

const (
	TypePush        Type = "push"
	TypePullRequest Type = "pull_request"
	TypeRelease     Type = "release"
)

// Source records how a change was detected.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
)

// Event is a normalized repository change event.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Source     Source    `json:"source"`
	Repository string    `json:"repository"` // "owner/repo"
	Branch     string    `json:"branch"`
	Sender     string    `json:"sender,omitempty"`
	DeliveryID string    `json:"delivery_id,omitempty"` // webhook delivery GUID, or after-SHA for polls
	DetectedAt time.Time `json:"detected_at"`
}

// PushEvent contains details specific to push events.
type PushEvent struct {
	Event
	Commits   []Commit `json:"commits"`
	Before    string   `json:"before"`
	After     string   `json:"after"`
	Forced    bool     `json:"forced"`
	FileCount int      `json:"file_count"`
}

// Commit represents a single commit in a push event.
type Commit struct {
	SHA      string   `json:"sha"`
	Message  string   `json:"message"`
	Author   string   `json:"author"`
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Removed  []string `json:"removed"`
}

// PullRequestEvent contains details specific to pull request events.
type PullRequestEvent struct {
	Event
	Action     string `json:"action"` // "opened", "closed", "synchronize"
	Number     int    `json:"number"`
	Title      string `json:"title"`
	BaseBranch string `json:"base_branch"`
	HeadBranch string `json:"head_branch"`
	HeadSHA    string `json:"head_sha"`
	Draft      bool   `json:"draft"`
}

// DedupKey identifies a delivery so webhook and poll detections of the
// same change collapse to one event.
func (e *Event) DedupKey() string {
	return e.Repository + ":" + e.DeliveryID
}

// ChangedFiles returns the union of files touched across commits, with the
// removed set split out so the indexer can delete stale documents.
func (p *PushEvent) ChangedFiles() (upserted, removed []string) {
	seen := make(map[string]struct{})
	gone := make(map[string]struct{})
	for _, c := range p.Commits {
		for _, f := range c.Added {
			seen[f] = struct{}{}
			delete(gone, f)
		}
		for _, f := range c.Modified {
			seen[f] = struct{}{}
			delete(gone, f)
		}
		for _, f := range c.Removed {
			gone[f] = struct{}{}
			delete(seen, f)
		}
	}
	for f := range seen {
		upserted = append(upserted, f)
	}
	for f := range gone {
		removed = append(removed, f)
	}
	return upserted, removed
}

// BranchFromRef turns "refs/heads/main" into "main". Non-branch refs are
// returned unchanged.
func BranchFromRef(ref string) string {
	const prefix = "refs/heads/"
	if strings.HasPrefix(ref, prefix) {
		return ref[len(prefix):]
	}
	return ref
}
