package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devitalik/devitalik/internal/domain/change"
	"github.com/devitalik/devitalik/internal/domain/repo"
)

// ErrIgnoredEvent marks webhook events that carry no indexable change
// (pings, branch deletions, draft PR noise). Callers should ack them
// without processing.
var ErrIgnoredEvent = errors.New("ignored event")

// WebhookService normalizes GitHub webhook deliveries into change events
// and feeds them to the watcher pipeline.
type WebhookService struct {
	watcher *WatcherService
}

// NewWebhookService creates a WebhookService.
func NewWebhookService(watcher *WatcherService) *WebhookService {
	return &WebhookService{watcher: watcher}
}

// githubPushPayload mirrors the fields of a GitHub push delivery we use.
type githubPushPayload struct {
	Ref        string `json:"ref"`
	Before     string `json:"before"`
	After      string `json:"after"`
	Forced     bool   `json:"forced"`
	Deleted    bool   `json:"deleted"`
	Repository struct {
		FullName      string `json:"full_name"`
		DefaultBranch string `json:"default_branch"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
	Commits []struct {
		ID      string `json:"id"`
		Message string `json:"message"`
		Author  struct {
			Name string `json:"name"`
		} `json:"author"`
		Added    []string `json:"added"`
		Modified []string `json:"modified"`
		Removed  []string `json:"removed"`
	} `json:"commits"`
}

type githubPullRequestPayload struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Title string `json:"title"`
		Draft bool   `json:"draft"`
		Base  struct {
			Ref string `json:"ref"`
		} `json:"base"`
		Head struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

type githubReleasePayload struct {
	Action  string `json:"action"`
	Release struct {
		TagName string `json:"tag_name"`
	} `json:"release"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

// HandleGitHub processes one GitHub webhook delivery. eventType is the
// X-GitHub-Event header, deliveryID the X-GitHub-Delivery header.
func (s *WebhookService) HandleGitHub(ctx context.Context, eventType, deliveryID string, payload []byte) error {
	switch eventType {
	case "ping":
		slog.Info("github webhook ping", "delivery_id", deliveryID)
		return ErrIgnoredEvent
	case "push":
		return s.handlePush(ctx, deliveryID, payload)
	case "pull_request":
		return s.handlePullRequest(ctx, deliveryID, payload)
	case "release":
		return s.handleRelease(ctx, deliveryID, payload)
	default:
		slog.Debug("github webhook ignored", "event", eventType, "delivery_id", deliveryID)
		return ErrIgnoredEvent
	}
}

func (s *WebhookService) handlePush(ctx context.Context, deliveryID string, payload []byte) error {
	var p githubPushPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("unmarshal push payload: %w", err)
	}
	if p.Repository.FullName == "" {
		return fmt.Errorf("push payload missing repository")
	}
	if _, _, err := repo.ParseFullName(p.Repository.FullName); err != nil {
		return err
	}

	branch := change.BranchFromRef(p.Ref)
	if p.Deleted {
		slog.Info("branch deleted, skipping", "repo", p.Repository.FullName, "branch", branch)
		return ErrIgnoredEvent
	}

	ev := change.PushEvent{
		Event: change.Event{
			Type:       change.TypePush,
			Source:     change.SourceWebhook,
			Repository: p.Repository.FullName,
			Branch:     branch,
			Sender:     p.Sender.Login,
			DeliveryID: deliveryID,
			DetectedAt: time.Now().UTC(),
		},
		Before: p.Before,
		After:  p.After,
		Forced: p.Forced,
	}
	for _, c := range p.Commits {
		ev.Commits = append(ev.Commits, change.Commit{
			SHA:      c.ID,
			Message:  c.Message,
			Author:   c.Author.Name,
			Added:    c.Added,
			Modified: c.Modified,
			Removed:  c.Removed,
		})
		ev.FileCount += len(c.Added) + len(c.Modified) + len(c.Removed)
	}

	return s.watcher.HandlePush(ctx, &ev)
}

func (s *WebhookService) handlePullRequest(ctx context.Context, deliveryID string, payload []byte) error {
	var p githubPullRequestPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("unmarshal pull_request payload: %w", err)
	}
	if p.Repository.FullName == "" {
		return fmt.Errorf("pull_request payload missing repository")
	}

	// Only state transitions that change visible content matter.
	switch p.Action {
	case "opened", "closed", "reopened", "synchronize":
	default:
		return ErrIgnoredEvent
	}

	ev := change.PullRequestEvent{
		Event: change.Event{
			Type:       change.TypePullRequest,
			Source:     change.SourceWebhook,
			Repository: p.Repository.FullName,
			Branch:     p.PullRequest.Base.Ref,
			Sender:     p.Sender.Login,
			DeliveryID: deliveryID,
			DetectedAt: time.Now().UTC(),
		},
		Action:     p.Action,
		Number:     p.Number,
		Title:      p.PullRequest.Title,
		BaseBranch: p.PullRequest.Base.Ref,
		HeadBranch: p.PullRequest.Head.Ref,
		HeadSHA:    p.PullRequest.Head.SHA,
		Draft:      p.PullRequest.Draft,
	}

	return s.watcher.HandlePullRequest(ctx, &ev)
}

func (s *WebhookService) handleRelease(ctx context.Context, deliveryID string, payload []byte) error {
	var p githubReleasePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("unmarshal release payload: %w", err)
	}
	if p.Repository.FullName == "" {
		return fmt.Errorf("release payload missing repository")
	}
	if p.Action != "published" {
		return ErrIgnoredEvent
	}

	ev := change.Event{
		Type:       change.TypeRelease,
		Source:     change.SourceWebhook,
		Repository: p.Repository.FullName,
		Branch:     p.Release.TagName,
		Sender:     p.Sender.Login,
		DeliveryID: deliveryID,
		DetectedAt: time.Now().UTC(),
	}

	return s.watcher.HandleRelease(ctx, &ev)
}
