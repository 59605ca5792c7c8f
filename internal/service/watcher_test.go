package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/devitalik/devitalik/internal/config"
	"github.com/devitalik/devitalik/internal/domain/change"
	"github.com/devitalik/devitalik/internal/domain/repo"
	"github.com/devitalik/devitalik/internal/port/gitprovider"
	"github.com/devitalik/devitalik/internal/port/messagequeue"
	"github.com/devitalik/devitalik/internal/port/notifier"
)

func watcherFixture() (*WatcherService, *mockStore, *mockQueue, *mockProvider, *mockNotifier, *mockBroadcaster) {
	store := newMockStore()
	queue := newMockQueue()
	provider := newMockProvider()
	sink := &mockNotifier{}
	notify := NewNotificationService([]notifier.Notifier{sink}, nil)
	bc := &mockBroadcaster{}
	svc := NewWatcherService(store, queue, newMockCache(), provider, notify, bc, config.Watcher{
		PollInterval:  time.Minute,
		MaxConcurrent: 2,
		DedupTTL:      10 * time.Minute,
	})
	return svc, store, queue, provider, sink, bc
}

func TestHandlePushRecordsAndQueues(t *testing.T) {
	svc, store, queue, _, sink, bc := watcherFixture()
	r := watchedRepo(t, store, "octo/widgets", "aaa111")

	ev := pushEvent("octo/widgets", "bbb222", "docs/readme.md", "src/main.go")
	if err := svc.HandlePush(context.Background(), ev); err != nil {
		t.Fatalf("HandlePush: %v", err)
	}

	if ev.ID == "" {
		t.Error("expected event ID to be set from the change record")
	}
	if len(store.changes) != 1 {
		t.Fatalf("expected 1 change record, got %d", len(store.changes))
	}
	rec := store.changes[0]
	if rec.Type != change.TypePush || rec.Repository != "octo/widgets" {
		t.Errorf("unexpected change record: %+v", rec)
	}

	msgs := queue.bySubject(messagequeue.SubjectChangeDetected)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 queued change, got %d", len(msgs))
	}
	var queued change.PushEvent
	if err := json.Unmarshal(msgs[0], &queued); err != nil {
		t.Fatalf("unmarshal queued event: %v", err)
	}
	if queued.After != "bbb222" {
		t.Errorf("queued After = %q, want bbb222", queued.After)
	}

	got, err := store.GetRepository(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("GetRepository: %v", err)
	}
	if got.LastSeenSHA != "bbb222" {
		t.Errorf("LastSeenSHA = %q, want bbb222", got.LastSeenSHA)
	}

	if len(sink.sent) != 1 {
		t.Errorf("expected 1 notification, got %d", len(sink.sent))
	}
	if evs := bc.byType("change.detected"); len(evs) != 1 {
		t.Errorf("expected 1 broadcast, got %d", len(evs))
	}
}

func TestHandlePushDedupsOnHeadSHA(t *testing.T) {
	svc, store, queue, _, _, _ := watcherFixture()
	watchedRepo(t, store, "octo/widgets", "aaa111")

	if err := svc.HandlePush(context.Background(), pushEvent("octo/widgets", "bbb222", "a.md")); err != nil {
		t.Fatalf("first HandlePush: %v", err)
	}
	// Same head delivered again, e.g. webhook then poll.
	dup := pushEvent("octo/widgets", "bbb222", "a.md")
	dup.Source = change.SourcePoll
	if err := svc.HandlePush(context.Background(), dup); err != nil {
		t.Fatalf("duplicate HandlePush: %v", err)
	}

	if len(store.changes) != 1 {
		t.Errorf("expected 1 change record after duplicate, got %d", len(store.changes))
	}
	if msgs := queue.bySubject(messagequeue.SubjectChangeDetected); len(msgs) != 1 {
		t.Errorf("expected 1 queued change after duplicate, got %d", len(msgs))
	}
}

func TestHandlePushRetriesAfterRecordFailure(t *testing.T) {
	svc, store, queue, _, _, _ := watcherFixture()
	watchedRepo(t, store, "octo/widgets", "aaa111")

	store.insertChangeErr = errors.New("connection reset")
	if err := svc.HandlePush(context.Background(), pushEvent("octo/widgets", "bbb222", "a.md")); err == nil {
		t.Fatal("expected error from failing store")
	}

	// The redelivery of the same head must not be swallowed by dedup.
	store.insertChangeErr = nil
	if err := svc.HandlePush(context.Background(), pushEvent("octo/widgets", "bbb222", "a.md")); err != nil {
		t.Fatalf("retry HandlePush: %v", err)
	}

	if len(store.changes) != 1 {
		t.Errorf("expected 1 change record after retry, got %d", len(store.changes))
	}
	if msgs := queue.bySubject(messagequeue.SubjectChangeDetected); len(msgs) != 1 {
		t.Errorf("expected 1 queued change after retry, got %d", len(msgs))
	}
}

func TestHandlePushRetriesAfterPublishFailure(t *testing.T) {
	svc, store, queue, _, _, _ := watcherFixture()
	watchedRepo(t, store, "octo/widgets", "aaa111")

	queue.pubErr = errors.New("nats: connection closed")
	if err := svc.HandlePush(context.Background(), pushEvent("octo/widgets", "bbb222", "a.md")); err == nil {
		t.Fatal("expected error from failing queue")
	}

	queue.pubErr = nil
	if err := svc.HandlePush(context.Background(), pushEvent("octo/widgets", "bbb222", "a.md")); err != nil {
		t.Fatalf("retry HandlePush: %v", err)
	}

	if msgs := queue.bySubject(messagequeue.SubjectChangeDetected); len(msgs) != 1 {
		t.Errorf("expected 1 queued change after retry, got %d", len(msgs))
	}
}

func TestHandlePullRequestNotQueued(t *testing.T) {
	svc, store, queue, _, sink, _ := watcherFixture()

	ev := &change.PullRequestEvent{
		Event: change.Event{
			Type:       change.TypePullRequest,
			Source:     change.SourceWebhook,
			Repository: "octo/widgets",
			Branch:     "main",
			DeliveryID: "guid-1",
			DetectedAt: time.Now(),
		},
		Action: "opened",
		Number: 7,
		Title:  "add widgets",
	}
	if err := svc.HandlePullRequest(context.Background(), ev); err != nil {
		t.Fatalf("HandlePullRequest: %v", err)
	}

	if len(store.changes) != 1 {
		t.Errorf("expected 1 change record, got %d", len(store.changes))
	}
	// Indexing waits for the merge push.
	if msgs := queue.bySubject(messagequeue.SubjectChangeDetected); len(msgs) != 0 {
		t.Errorf("pull request should not be queued for indexing, got %d messages", len(msgs))
	}
	if len(sink.sent) != 1 {
		t.Errorf("expected 1 notification, got %d", len(sink.sent))
	}

	// Redelivery of the same delivery ID is dropped.
	if err := svc.HandlePullRequest(context.Background(), ev); err != nil {
		t.Fatalf("redelivered HandlePullRequest: %v", err)
	}
	if len(store.changes) != 1 {
		t.Errorf("expected 1 change record after redelivery, got %d", len(store.changes))
	}
}

func TestPollSynthesizesPush(t *testing.T) {
	svc, store, queue, provider, _, _ := watcherFixture()
	watchedRepo(t, store, "octo/widgets", "aaa111")

	provider.heads["octo/widgets"] = gitprovider.Head{SHA: "ccc333", DefaultBranch: "main"}
	provider.compares["aaa111..ccc333"] = gitprovider.Comparison{
		HeadSHA:      "ccc333",
		TotalCommits: 2,
		Files: []gitprovider.FileChange{
			{Path: "src/new.go", Status: "added"},
			{Path: "src/old.go", Status: "removed"},
			{Path: "docs/guide.md", Status: "renamed", PrevPath: "docs/old-guide.md"},
			{Path: "src/main.go", Status: "modified"},
		},
	}

	svc.pollAll(context.Background())

	msgs := queue.bySubject(messagequeue.SubjectChangeDetected)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 queued change, got %d", len(msgs))
	}
	var ev change.PushEvent
	if err := json.Unmarshal(msgs[0], &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Source != change.SourcePoll {
		t.Errorf("Source = %q, want poll", ev.Source)
	}
	if ev.Before != "aaa111" || ev.After != "ccc333" {
		t.Errorf("Before/After = %q/%q", ev.Before, ev.After)
	}
	if len(ev.Commits) != 1 {
		t.Fatalf("expected 1 synthetic commit, got %d", len(ev.Commits))
	}
	c := ev.Commits[0]
	if want := []string{"src/new.go", "docs/guide.md"}; !sameStrings(c.Added, want) {
		t.Errorf("Added = %v, want %v", c.Added, want)
	}
	if want := []string{"src/old.go", "docs/old-guide.md"}; !sameStrings(c.Removed, want) {
		t.Errorf("Removed = %v, want %v", c.Removed, want)
	}
	if want := []string{"src/main.go"}; !sameStrings(c.Modified, want) {
		t.Errorf("Modified = %v, want %v", c.Modified, want)
	}

	if svc.LastPoll().IsZero() {
		t.Error("LastPoll should be set after a poll pass")
	}
}

func TestPollSkipsUnmovedHead(t *testing.T) {
	svc, store, queue, provider, _, _ := watcherFixture()
	watchedRepo(t, store, "octo/widgets", "aaa111")
	provider.heads["octo/widgets"] = gitprovider.Head{SHA: "aaa111", DefaultBranch: "main"}

	svc.pollAll(context.Background())

	if len(provider.compareLog) != 0 {
		t.Errorf("expected no compare calls, got %v", provider.compareLog)
	}
	if msgs := queue.bySubject(messagequeue.SubjectChangeDetected); len(msgs) != 0 {
		t.Errorf("expected no queued changes, got %d", len(msgs))
	}
}

func TestPollSkipsUnwatchedRepos(t *testing.T) {
	svc, store, _, provider, _, _ := watcherFixture()
	r := watchedRepo(t, store, "octo/widgets", "aaa111")
	disabled := false
	if _, err := NewRepositoryService(store, provider).Update(context.Background(), r.ID, repo.UpdateRequest{WatchEnabled: &disabled}); err != nil {
		t.Fatalf("disable watch: %v", err)
	}
	provider.heads["octo/widgets"] = gitprovider.Head{SHA: "zzz999", DefaultBranch: "main"}

	svc.pollAll(context.Background())

	if len(provider.compareLog) != 0 {
		t.Errorf("unwatched repository was polled: %v", provider.compareLog)
	}
}

// sameStrings compares two slices ignoring order.
func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]int)
	for _, s := range a {
		set[s]++
	}
	for _, s := range b {
		set[s]--
		if set[s] < 0 {
			return false
		}
	}
	return true
}
