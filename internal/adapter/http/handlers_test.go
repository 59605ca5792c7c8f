package http_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devitalik/devitalik/internal/domain"
	"github.com/devitalik/devitalik/internal/domain/document"
	"github.com/devitalik/devitalik/internal/domain/repo"
	"github.com/devitalik/devitalik/internal/port/database"
	"github.com/devitalik/devitalik/internal/port/gitprovider"
	"github.com/devitalik/devitalik/internal/port/messagequeue"
)

// mockStore implements database.Store for testing.
type mockStore struct {
	mu      sync.Mutex
	repos   map[string]*repo.Repository
	changes []database.ChangeRecord
	docs    map[string]*document.Document
	results []database.SearchResult
	nextID  int
}

var _ database.Store = (*mockStore)(nil)

func newMockStore() *mockStore {
	return &mockStore{
		repos: make(map[string]*repo.Repository),
		docs:  make(map[string]*document.Document),
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
		ID: m.id(), Owner: owner, Name: name,
		DefaultBranch: req.DefaultBranch, WatchEnabled: watch,
		Version: 1, CreatedAt: time.Now(), UpdatedAt: time.Now(),
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
	if r, ok := m.repos[id]; ok {
		r.LastSeenSHA = sha
		r.LastChangeAt = at
		return nil
	}
	return domain.ErrNotFound
}

func (m *mockStore) InsertChange(_ context.Context, rec *database.ChangeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.id()
	m.changes = append(m.changes, *rec)
	return nil
}

func (m *mockStore) ListChanges(_ context.Context, repository string, limit int) ([]database.ChangeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []database.ChangeRecord{}
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

func (m *mockStore) UpsertDocument(_ context.Context, doc *document.Document, chunks []document.Chunk) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := doc.Repository + ":" + doc.Path
	if existing, ok := m.docs[key]; ok {
		doc.ID = existing.ID
	} else if doc.ID == "" {
		doc.ID = m.id()
	}
	doc.ChunkCount = len(chunks)
	c := *doc
	m.docs[key] = &c
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
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) DeleteDocumentByPath(_ context.Context, repository, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := repository + ":" + path
	if _, ok := m.docs[key]; !ok {
		return domain.ErrNotFound
	}
	delete(m.docs, key)
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
	m.mu.Lock()
	defer m.mu.Unlock()
	if topK > 0 && len(m.results) > topK {
		return m.results[:topK], nil
	}
	return m.results, nil
}

// mockQueue implements messagequeue.Queue for testing.
type mockQueue struct {
	mu        sync.Mutex
	published map[string][][]byte
}

var _ messagequeue.Queue = (*mockQueue)(nil)

func newMockQueue() *mockQueue {
	return &mockQueue{published: make(map[string][][]byte)}
}

func (m *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[subject] = append(m.published[subject], data)
	return nil
}

func (m *mockQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (m *mockQueue) Drain() error      { return nil }
func (m *mockQueue) Close() error      { return nil }
func (m *mockQueue) IsConnected() bool { return true }

// mockProvider implements gitprovider.Provider for testing.
type mockProvider struct {
	head    gitprovider.Head
	content map[string][]byte
}

var _ gitprovider.Provider = (*mockProvider)(nil)

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Capabilities() gitprovider.Capabilities {
	return gitprovider.Capabilities{Webhook: true, Compare: true, Content: true}
}

func (m *mockProvider) GetHead(_ context.Context, _, _ string) (gitprovider.Head, error) {
	if m.head.SHA == "" {
		return gitprovider.Head{}, domain.ErrNotFound
	}
	return m.head, nil
}

func (m *mockProvider) Compare(_ context.Context, _, _, _, head string) (gitprovider.Comparison, error) {
	return gitprovider.Comparison{HeadSHA: head}, nil
}

func (m *mockProvider) GetContent(_ context.Context, _, _, path, _ string) ([]byte, error) {
	if c, ok := m.content[path]; ok {
		return c, nil
	}
	return nil, domain.ErrNotFound
}
