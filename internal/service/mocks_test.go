package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devitalik/devitalik/internal/domain"
	"github.com/devitalik/devitalik/internal/domain/change"
	"github.com/devitalik/devitalik/internal/domain/document"
	"github.com/devitalik/devitalik/internal/domain/repo"
	"github.com/devitalik/devitalik/internal/port/broadcast"
	"github.com/devitalik/devitalik/internal/port/cache"
	"github.com/devitalik/devitalik/internal/port/database"
	"github.com/devitalik/devitalik/internal/port/gitprovider"
	"github.com/devitalik/devitalik/internal/port/messagequeue"
	"github.com/devitalik/devitalik/internal/port/notifier"
)

// Ensure mock types implement their interfaces at compile time.
var (
	_ database.Store        = (*mockStore)(nil)
	_ messagequeue.Queue    = (*mockQueue)(nil)
	_ cache.Cache           = (*mockCache)(nil)
	_ gitprovider.Provider  = (*mockProvider)(nil)
	_ notifier.Notifier     = (*mockNotifier)(nil)
	_ broadcast.Broadcaster = (*mockBroadcaster)(nil)
)

type mockStore struct {
	mu sync.Mutex

	repos   map[string]*repo.Repository
	changes []database.ChangeRecord
	docs    map[string]*document.Document // by repository+":"+path
	chunks  map[string][]document.Chunk   // by document ID
	results []database.SearchResult       // canned SearchChunks output

	insertChangeErr error
	searchErr       error
	nextID          int
}

func newMockStore() *mockStore {
	return &mockStore{
		repos:  make(map[string]*repo.Repository),
		docs:   make(map[string]*document.Document),
		chunks: make(map[string][]document.Chunk),
	}
}

func (m *mockStore) id() string {
	m.nextID++
	return fmt.Sprintf("id-%03d", m.nextID)
}

func (m *mockStore) ListRepositories(_ context.Context) ([]repo.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]repo.Repository, 0, len(m.repos))
	for _, r := range m.repos {
		out = append(out, *r)
	}
	return out, nil
}

func (m *mockStore) GetRepository(_ context.Context, id string) (*repo.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *mockStore) GetRepositoryByFullName(_ context.Context, owner, name string) (*repo.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.repos {
		if r.Owner == owner && r.Name == name {
			c := *r
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) CreateRepository(_ context.Context, req *repo.CreateRequest) (*repo.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, name, err := repo.ParseFullName(req.FullName)
	if err != nil {
		return nil, err
	}
	for _, r := range m.repos {
		if r.Owner == owner && r.Name == name {
			return nil, domain.ErrConflict
		}
	}
	watch := true
	if req.WatchEnabled != nil {
		watch = *req.WatchEnabled
	}
	r := &repo.Repository{
		ID:            m.id(),
		Owner:         owner,
		Name:          name,
		DefaultBranch: req.DefaultBranch,
		WatchEnabled:  watch,
		Version:       1,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	m.repos[r.ID] = r
	c := *r
	return &c, nil
}

func (m *mockStore) UpdateRepository(_ context.Context, r *repo.Repository) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.repos[r.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != r.Version {
		return domain.ErrConflict
	}
	c := *r
	c.Version++
	m.repos[r.ID] = &c
	r.Version = c.Version
	return nil
}

func (m *mockStore) DeleteRepository(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.repos[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.repos, id)
	return nil
}

func (m *mockStore) UpdateRepositoryHead(_ context.Context, id, sha string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.LastSeenSHA = sha
	r.LastChangeAt = at
	return nil
}

func (m *mockStore) InsertChange(_ context.Context, rec *database.ChangeRecord) error {
	if m.insertChangeErr != nil {
		return m.insertChangeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.id()
	m.changes = append(m.changes, *rec)
	return nil
}

func (m *mockStore) ListChanges(_ context.Context, repository string, limit int) ([]database.ChangeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.ChangeRecord
	for _, c := range m.changes {
		if repository != "" && c.Repository != repository {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) CountChangesSince(_ context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.changes {
		if c.DetectedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (m *mockStore) docKey(repository, path string) string {
	return repository + ":" + path
}

func (m *mockStore) UpsertDocument(_ context.Context, doc *document.Document, chunks []document.Chunk) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.docKey(doc.Repository, doc.Path)
	if existing, ok := m.docs[key]; ok {
		doc.ID = existing.ID
	} else if doc.ID == "" {
		doc.ID = m.id()
	}
	doc.ChunkCount = len(chunks)
	c := *doc
	m.docs[key] = &c
	m.chunks[doc.ID] = append([]document.Chunk(nil), chunks...)
	out := c
	return &out, nil
}

func (m *mockStore) GetDocument(_ context.Context, id string) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.ID == id {
			c := *d
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ListDocuments(_ context.Context, repository string) ([]document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []document.Document
	for _, d := range m.docs {
		if repository != "" && d.Repository != repository {
			continue
		}
		out = append(out, *d)
	}
	return out, nil
}

func (m *mockStore) ListDocumentPaths(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, d := range m.docs {
		out = append(out, d.Path)
	}
	return out, nil
}

func (m *mockStore) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, d := range m.docs {
		if d.ID == id {
			delete(m.docs, key)
			delete(m.chunks, id)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) DeleteDocumentByPath(_ context.Context, repository, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.docKey(repository, path)
	d, ok := m.docs[key]
	if !ok {
		return domain.ErrNotFound
	}
	delete(m.docs, key)
	delete(m.chunks, d.ID)
	return nil
}

func (m *mockStore) MarkDocumentStatus(_ context.Context, id string, status document.Status, chunkCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.ID == id {
			d.Status = status
			d.ChunkCount = chunkCount
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) CountDocuments(_ context.Context) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	indexed, pending := 0, 0
	for _, d := range m.docs {
		switch d.Status {
		case document.StatusIndexed:
			indexed++
		case document.StatusPending:
			pending++
		}
	}
	return indexed, pending, nil
}

func (m *mockStore) SearchChunks(_ context.Context, _ string, topK int) ([]database.SearchResult, error) {
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	if topK > 0 && len(m.results) > topK {
		return m.results[:topK], nil
	}
	return m.results, nil
}

type published struct {
	subject string
	data    []byte
}

type mockQueue struct {
	mu        sync.Mutex
	published []published
	handlers  map[string]messagequeue.Handler
	connected bool
	pubErr    error
}

func newMockQueue() *mockQueue {
	return &mockQueue{handlers: make(map[string]messagequeue.Handler), connected: true}
}

func (m *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	if m.pubErr != nil {
		return m.pubErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, published{subject, data})
	return nil
}

func (m *mockQueue) Subscribe(_ context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[subject] = handler
	return func() {}, nil
}

// deliver invokes the registered handler for subject, as the broker would.
func (m *mockQueue) deliver(ctx context.Context, subject string, data []byte) error {
	m.mu.Lock()
	h := m.handlers[subject]
	m.mu.Unlock()
	if h == nil {
		return nil
	}
	return h(ctx, subject, data)
}

func (m *mockQueue) bySubject(subject string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]byte
	for _, p := range m.published {
		if p.subject == subject {
			out = append(out, p.data)
		}
	}
	return out
}

func (m *mockQueue) Drain() error      { return nil }
func (m *mockQueue) Close() error      { return nil }
func (m *mockQueue) IsConnected() bool { return m.connected }

type cacheEntry struct {
	value []byte
	ttl   time.Duration
}

type mockCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string]cacheEntry)}
}

func (m *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e.value, ok, nil
}

func (m *mockCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = cacheEntry{value, ttl}
	return nil
}

func (m *mockCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

type mockProvider struct {
	mu       sync.Mutex
	heads    map[string]gitprovider.Head       // by "owner/repo"
	compares map[string]gitprovider.Comparison // by "base..head"
	content  map[string][]byte                 // by path

	headErr    error
	contentErr error
	compareLog []string
}

func newMockProvider() *mockProvider {
	return &mockProvider{
		heads:    make(map[string]gitprovider.Head),
		compares: make(map[string]gitprovider.Comparison),
		content:  make(map[string][]byte),
	}
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Capabilities() gitprovider.Capabilities {
	return gitprovider.Capabilities{Webhook: true, Compare: true, Content: true}
}

func (m *mockProvider) GetHead(_ context.Context, owner, repo string) (gitprovider.Head, error) {
	if m.headErr != nil {
		return gitprovider.Head{}, m.headErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.heads[owner+"/"+repo]
	if !ok {
		return gitprovider.Head{}, domain.ErrNotFound
	}
	return h, nil
}

func (m *mockProvider) Compare(_ context.Context, owner, repo, base, head string) (gitprovider.Comparison, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compareLog = append(m.compareLog, base+".."+head)
	cmp, ok := m.compares[base+".."+head]
	if !ok {
		return gitprovider.Comparison{HeadSHA: head}, nil
	}
	return cmp, nil
}

func (m *mockProvider) GetContent(_ context.Context, _, _, path, _ string) ([]byte, error) {
	if m.contentErr != nil {
		return nil, m.contentErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.content[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

type mockNotifier struct {
	mu      sync.Mutex
	sent    []notifier.Notification
	sendErr error
}

func (m *mockNotifier) Name() string { return "mock" }

func (m *mockNotifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{RichFormatting: true}
}

func (m *mockNotifier) Send(_ context.Context, n notifier.Notification) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return nil
}

type broadcastEvent struct {
	eventType string
	payload   any
}

type mockBroadcaster struct {
	mu     sync.Mutex
	events []broadcastEvent
}

func (m *mockBroadcaster) BroadcastEvent(_ context.Context, eventType string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, broadcastEvent{eventType, payload})
}

func (m *mockBroadcaster) byType(eventType string) []broadcastEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []broadcastEvent
	for _, e := range m.events {
		if e.eventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// watchedRepo seeds a repository into the store and provider head map.
func watchedRepo(t interface{ Fatalf(string, ...any) }, store *mockStore, full, headSHA string) *repo.Repository {
	r, err := store.CreateRepository(context.Background(), &repo.CreateRequest{FullName: full, DefaultBranch: "main"})
	if err != nil {
		t.Fatalf("seed repository %s: %v", full, err)
	}
	if headSHA != "" {
		if err := store.UpdateRepositoryHead(context.Background(), r.ID, headSHA, time.Now()); err != nil {
			t.Fatalf("seed head %s: %v", full, err)
		}
		r.LastSeenSHA = headSHA
	}
	return r
}

// pushEvent builds a minimal push event for tests.
func pushEvent(repository, after string, files ...string) *change.PushEvent {
	ev := &change.PushEvent{
		Event: change.Event{
			Type:       change.TypePush,
			Source:     change.SourceWebhook,
			Repository: repository,
			Branch:     "main",
			Sender:     "octocat",
			DeliveryID: "delivery-" + after,
			DetectedAt: time.Now(),
		},
		Before: "0000",
		After:  after,
	}
	ev.Commits = []change.Commit{{SHA: after, Message: "update", Author: "octocat", Modified: files}}
	ev.FileCount = len(files)
	return ev
}
