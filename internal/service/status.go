package service

import (
	"context"
	"time"

	"github.com/devitalik/devitalik/internal/port/database"
	"github.com/devitalik/devitalik/internal/port/messagequeue"
	"github.com/devitalik/devitalik/internal/resilience"
)

// Status is a snapshot of the bot's health and activity.
type Status struct {
	Uptime           string            `json:"uptime"`
	RepositoryCount  int               `json:"repository_count"`
	WatchedCount     int               `json:"watched_count"`
	DocumentsIndexed int               `json:"documents_indexed"`
	DocumentsPending int               `json:"documents_pending"`
	ChangesLastDay   int               `json:"changes_last_day"`
	QueueConnected   bool              `json:"queue_connected"`
	Breakers         map[string]string `json:"breakers,omitempty"`
	LastPoll         time.Time         `json:"last_poll,omitempty"`
}

// StatusService aggregates a status snapshot from the store, queue, and
// watcher.
type StatusService struct {
	store     database.Store
	queue     messagequeue.Queue
	watcher   *WatcherService
	breakers  map[string]*resilience.Breaker
	startedAt time.Time
}

// RegisterBreaker includes a named outbound-call breaker in snapshots.
// Call during wiring, before Snapshot is ever invoked.
func (s *StatusService) RegisterBreaker(name string, b *resilience.Breaker) {
	if s.breakers == nil {
		s.breakers = make(map[string]*resilience.Breaker)
	}
	s.breakers[name] = b
}

// NewStatusService creates a StatusService. Uptime counts from now.
func NewStatusService(store database.Store, queue messagequeue.Queue, watcher *WatcherService) *StatusService {
	return &StatusService{
		store:     store,
		queue:     queue,
		watcher:   watcher,
		startedAt: time.Now(),
	}
}

// Snapshot collects the current status. Partial failures degrade the
// snapshot instead of failing it.
func (s *StatusService) Snapshot(ctx context.Context) Status {
	st := Status{
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	}

	if repos, err := s.store.ListRepositories(ctx); err == nil {
		st.RepositoryCount = len(repos)
		for _, r := range repos {
			if r.WatchEnabled {
				st.WatchedCount++
			}
		}
	}

	if indexed, pending, err := s.store.CountDocuments(ctx); err == nil {
		st.DocumentsIndexed = indexed
		st.DocumentsPending = pending
	}

	if n, err := s.store.CountChangesSince(ctx, time.Now().Add(-24*time.Hour)); err == nil {
		st.ChangesLastDay = n
	}

	if s.queue != nil {
		st.QueueConnected = s.queue.IsConnected()
	}
	if len(s.breakers) > 0 {
		st.Breakers = make(map[string]string, len(s.breakers))
		for name, b := range s.breakers {
			st.Breakers[name] = b.State()
		}
	}
	if s.watcher != nil {
		st.LastPoll = s.watcher.LastPoll()
	}

	return st
}
