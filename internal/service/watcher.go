package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devitalik/devitalik/internal/adapter/otel"
	"github.com/devitalik/devitalik/internal/adapter/ws"
	"github.com/devitalik/devitalik/internal/config"
	"github.com/devitalik/devitalik/internal/domain/change"
	"github.com/devitalik/devitalik/internal/domain/repo"
	"github.com/devitalik/devitalik/internal/logger"
	"github.com/devitalik/devitalik/internal/port/broadcast"
	"github.com/devitalik/devitalik/internal/port/cache"
	"github.com/devitalik/devitalik/internal/port/database"
	"github.com/devitalik/devitalik/internal/port/gitprovider"
	"github.com/devitalik/devitalik/internal/port/messagequeue"
	"github.com/devitalik/devitalik/internal/port/notifier"
)

// WatcherService detects repository changes. Webhook deliveries arrive
// through the Handle* methods; Run polls as a fallback so changes are
// still seen within one poll interval when deliveries are lost.
type WatcherService struct {
	store       database.Store
	queue       messagequeue.Queue
	dedup       cache.Cache
	provider    gitprovider.Provider
	notify      *NotificationService
	broadcaster broadcast.Broadcaster
	metrics     *otel.Metrics
	cfg         config.Watcher

	lastPoll atomic.Int64 // unix seconds of the last completed poll pass
}

// NewWatcherService creates a WatcherService.
func NewWatcherService(
	store database.Store,
	queue messagequeue.Queue,
	dedup cache.Cache,
	provider gitprovider.Provider,
	notify *NotificationService,
	broadcaster broadcast.Broadcaster,
	cfg config.Watcher,
) *WatcherService {
	return &WatcherService{
		store:       store,
		queue:       queue,
		dedup:       dedup,
		provider:    provider,
		notify:      notify,
		broadcaster: broadcaster,
		cfg:         cfg,
	}
}

// SetMetrics wires metric instruments; without them counters are skipped.
func (s *WatcherService) SetMetrics(m *otel.Metrics) { s.metrics = m }

// LastPoll returns when the last poll pass finished, or the zero time if
// none has run yet.
func (s *WatcherService) LastPoll() time.Time {
	sec := s.lastPoll.Load()
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// HandlePush records a push event and hands the changed files to the
// indexer. Webhook and poll detections of the same head SHA collapse to
// one event.
func (s *WatcherService) HandlePush(ctx context.Context, ev *change.PushEvent) error {
	ctx, span := otel.StartDetectionSpan(ctx, ev.Repository, string(ev.Source))
	defer span.End()

	// Dedup on the resulting head so a poll pass does not re-announce a
	// push the webhook already delivered.
	dedupKey := ev.Repository + ":" + ev.After
	if s.alreadySeen(ctx, dedupKey) {
		slog.Debug("duplicate push skipped",
			"repo", ev.Repository, "after", ev.After, "delivery_id", logger.DeliveryID(ctx))
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal push event: %w", err)
	}

	if err := s.record(ctx, &ev.Event, payload); err != nil {
		return err
	}

	owner, name := splitFullName(ev.Repository)
	if r, err := s.store.GetRepositoryByFullName(ctx, owner, name); err == nil {
		if err := s.store.UpdateRepositoryHead(ctx, r.ID, ev.After, ev.DetectedAt); err != nil {
			slog.Warn("update repository head failed", "repo", ev.Repository, "error", err)
		}
	}

	if err := s.queue.Publish(ctx, messagequeue.SubjectChangeDetected, payload); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	s.markSeen(ctx, dedupKey)

	s.announce(ctx, &ev.Event, ev.FileCount,
		fmt.Sprintf("%d commit(s) pushed to %s %s by %s", len(ev.Commits), ev.Repository, ev.Branch, ev.Sender))
	return nil
}

// HandlePullRequest records a pull request event. Content indexing waits
// for the merge push, so the event is announced but not queued.
func (s *WatcherService) HandlePullRequest(ctx context.Context, ev *change.PullRequestEvent) error {
	ctx, span := otel.StartDetectionSpan(ctx, ev.Repository, string(ev.Source))
	defer span.End()

	if s.alreadySeen(ctx, ev.DedupKey()) {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal pull request event: %w", err)
	}
	if err := s.record(ctx, &ev.Event, payload); err != nil {
		return err
	}
	s.markSeen(ctx, ev.DedupKey())

	s.announce(ctx, &ev.Event, 0,
		fmt.Sprintf("PR #%d %s: %q on %s", ev.Number, ev.Action, ev.Title, ev.Repository))
	return nil
}

// HandleRelease records a published release.
func (s *WatcherService) HandleRelease(ctx context.Context, ev *change.Event) error {
	ctx, span := otel.StartDetectionSpan(ctx, ev.Repository, string(ev.Source))
	defer span.End()

	if s.alreadySeen(ctx, ev.DedupKey()) {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal release event: %w", err)
	}
	if err := s.record(ctx, ev, payload); err != nil {
		return err
	}
	s.markSeen(ctx, ev.DedupKey())

	s.announce(ctx, ev, 0,
		fmt.Sprintf("release %s published on %s", ev.Branch, ev.Repository))
	return nil
}

// Run polls all watched repositories until ctx is cancelled. One pass
// runs immediately so a fresh start does not wait a full interval.
func (s *WatcherService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.pollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.pollAll(ctx)
		}
	}
}

func (s *WatcherService) pollAll(ctx context.Context) {
	repos, err := s.store.ListRepositories(ctx)
	if err != nil {
		slog.Error("list repositories for poll", "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrent)
	for i := range repos {
		r := repos[i]
		if !r.WatchEnabled {
			continue
		}
		g.Go(func() error {
			if err := s.pollRepo(gctx, &r); err != nil {
				slog.Warn("poll repository failed", "repo", r.FullName(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.lastPoll.Store(time.Now().Unix())
}

// pollRepo compares the stored head against the live branch head and
// synthesizes a push event for anything that moved.
func (s *WatcherService) pollRepo(ctx context.Context, r *repo.Repository) error {
	head, err := s.provider.GetHead(ctx, r.Owner, r.Name)
	if err != nil {
		return fmt.Errorf("get head: %w", err)
	}
	if head.SHA == r.LastSeenSHA {
		return nil
	}

	cmp, err := s.provider.Compare(ctx, r.Owner, r.Name, r.LastSeenSHA, head.SHA)
	if err != nil {
		return fmt.Errorf("compare: %w", err)
	}

	ev := change.PushEvent{
		Event: change.Event{
			Type:       change.TypePush,
			Source:     change.SourcePoll,
			Repository: r.FullName(),
			Branch:     head.DefaultBranch,
			DeliveryID: head.SHA,
			DetectedAt: time.Now().UTC(),
		},
		Before:    r.LastSeenSHA,
		After:     head.SHA,
		FileCount: len(cmp.Files),
	}

	// Fold the comparison's file list into one synthetic commit so the
	// indexer sees the same shape as a webhook push.
	var c change.Commit
	c.SHA = head.SHA
	for _, f := range cmp.Files {
		switch f.Status {
		case "removed":
			c.Removed = append(c.Removed, f.Path)
		case "renamed":
			c.Removed = append(c.Removed, f.PrevPath)
			c.Added = append(c.Added, f.Path)
		case "added":
			c.Added = append(c.Added, f.Path)
		default:
			c.Modified = append(c.Modified, f.Path)
		}
	}
	ev.Commits = []change.Commit{c}

	return s.HandlePush(ctx, &ev)
}

// RecentChanges returns recorded change events, newest first. repository
// may be empty to list across all repositories.
func (s *WatcherService) RecentChanges(ctx context.Context, repository string, limit int) ([]database.ChangeRecord, error) {
	return s.store.ListChanges(ctx, repository, limit)
}

// alreadySeen reports whether a dedup key is marked.
func (s *WatcherService) alreadySeen(ctx context.Context, key string) bool {
	if s.dedup == nil {
		return false
	}
	_, ok, _ := s.dedup.Get(ctx, "dedup:"+key)
	return ok
}

// markSeen marks a dedup key. Callers mark only after the event is
// recorded and published, so a transient failure leaves the key clear
// and the redelivery goes through.
func (s *WatcherService) markSeen(ctx context.Context, key string) {
	if s.dedup == nil {
		return
	}
	_ = s.dedup.Set(ctx, "dedup:"+key, []byte{1}, s.cfg.DedupTTL)
}

func (s *WatcherService) record(ctx context.Context, ev *change.Event, payload []byte) error {
	rec := database.ChangeRecord{
		Type:       ev.Type,
		Source:     ev.Source,
		Repository: ev.Repository,
		Branch:     ev.Branch,
		Sender:     ev.Sender,
		DeliveryID: ev.DeliveryID,
		Payload:    payload,
		DetectedAt: ev.DetectedAt,
	}
	if err := s.store.InsertChange(ctx, &rec); err != nil {
		return fmt.Errorf("record change: %w", err)
	}
	ev.ID = rec.ID
	return nil
}

// announce fans a recorded event out to metrics, notifiers, and clients.
func (s *WatcherService) announce(ctx context.Context, ev *change.Event, fileCount int, message string) {
	if s.metrics != nil {
		s.metrics.ChangesDetected.Add(ctx, 1)
	}

	if s.notify != nil {
		s.notify.Notify(ctx, notifier.Notification{
			Title:   "Change detected: " + ev.Repository,
			Message: message,
			Level:   "info",
			Source:  "change.detected",
		})
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastEvent(ctx, ws.EventChangeDetected, ws.ChangeDetectedEvent{
			Repository: ev.Repository,
			Branch:     ev.Branch,
			Type:       string(ev.Type),
			Source:     string(ev.Source),
			Sender:     ev.Sender,
			FileCount:  fileCount,
		})
	}

	slog.Info("change detected",
		"repo", ev.Repository,
		"type", ev.Type,
		"source", ev.Source,
		"branch", ev.Branch,
	)
}

// splitFullName adapts repo.ParseFullName for call sites that already
// validated the name.
func splitFullName(full string) (owner, name string) {
	owner, name, _ = repo.ParseFullName(full)
	return owner, name
}
