package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/devitalik/devitalik/internal/config"
	"github.com/devitalik/devitalik/internal/domain/document"
	"github.com/devitalik/devitalik/internal/domain/query"
	"github.com/devitalik/devitalik/internal/port/database"
)

func queryFixture() (*QueryService, *mockStore, *mockCache, *mockBroadcaster) {
	store := newMockStore()
	c := newMockCache()
	bc := &mockBroadcaster{}
	svc := NewQueryService(store, c, nil, bc, config.Query{TopK: 5, AnswerTTL: time.Minute})
	return svc, store, c, bc
}

func searchHit(docID, repoName, path, content string, score float64) database.SearchResult {
	return database.SearchResult{
		Chunk:      document.Chunk{DocumentID: docID, Seq: 0, Content: content},
		Path:       path,
		Repository: repoName,
		Score:      score,
	}
}

func TestAnswerExtractive(t *testing.T) {
	svc, store, _, bc := queryFixture()
	store.results = []database.SearchResult{
		searchHit("d1", "octo/widgets", "docs/staking.md", "Staking locks tokens for rewards.", 0.9),
		searchHit("d2", "octo/widgets", "docs/intro.md", "Widgets is a demo project.", 0.4),
	}

	ans, err := svc.Answer(context.Background(), &query.Request{Question: "how does staking work?"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ans.Synthesized {
		t.Error("answer without an LLM must not be marked synthesized")
	}
	if len(ans.Hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(ans.Hits))
	}
	if !strings.Contains(ans.Text, "octo/widgets:docs/staking.md") {
		t.Errorf("extractive answer should cite the top hit, got %q", ans.Text)
	}
	if !strings.Contains(ans.Text, "Staking locks tokens") {
		t.Errorf("extractive answer should quote the top excerpt, got %q", ans.Text)
	}
	if evs := bc.byType("query.answered"); len(evs) != 1 {
		t.Errorf("expected 1 broadcast, got %d", len(evs))
	}
}

func TestAnswerNoHits(t *testing.T) {
	svc, _, _, _ := queryFixture()
	ans, err := svc.Answer(context.Background(), &query.Request{Question: "anything at all?"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(ans.Hits) != 0 || ans.Synthesized {
		t.Errorf("ans = %+v", ans)
	}
	if !strings.Contains(ans.Text, "No indexed content") {
		t.Errorf("Text = %q", ans.Text)
	}
}

func TestAnswerServedFromCache(t *testing.T) {
	svc, store, _, _ := queryFixture()
	store.results = []database.SearchResult{
		searchHit("d1", "", "docs/a.md", "first answer", 1.0),
	}

	first, err := svc.Answer(context.Background(), &query.Request{Question: "What is   a Widget?"})
	if err != nil {
		t.Fatalf("first Answer: %v", err)
	}

	// A search failure now proves the second answer comes from cache. The
	// question differs only in case and spacing, which normalization folds.
	store.searchErr = errors.New("search is down")
	second, err := svc.Answer(context.Background(), &query.Request{Question: "what is a widget?"})
	if err != nil {
		t.Fatalf("cached Answer: %v", err)
	}
	if second.Text != first.Text {
		t.Errorf("cached text = %q, want %q", second.Text, first.Text)
	}
}

func TestAnswerValidatesQuestion(t *testing.T) {
	svc, _, _, _ := queryFixture()
	if _, err := svc.Answer(context.Background(), &query.Request{Question: "   "}); err == nil {
		t.Fatal("expected validation error for blank question")
	}
}

func TestMatchPaths(t *testing.T) {
	svc, store, _, _ := queryFixture()
	for _, p := range []string{"docs/readme.md", "docs/api/auth.md", "src/main.go", "Makefile"} {
		if _, err := store.UpsertDocument(context.Background(), &document.Document{
			Repository: "octo/widgets", Path: p, Status: document.StatusIndexed,
		}, nil); err != nil {
			t.Fatalf("seed %s: %v", p, err)
		}
	}

	tests := []struct {
		pattern string
		want    []string
	}{
		{"*.md", []string{"docs/readme.md", "docs/api/auth.md"}}, // base-name match
		{"docs/*.md", []string{"docs/readme.md"}},
		{"readme", []string{"docs/readme.md"}}, // literal substring
		{"Makefile", []string{"Makefile"}},
		{"*.rs", nil},
	}
	for _, tt := range tests {
		got, err := svc.MatchPaths(context.Background(), tt.pattern)
		if err != nil {
			t.Fatalf("MatchPaths(%q): %v", tt.pattern, err)
		}
		if !sameStrings(got, tt.want) {
			t.Errorf("MatchPaths(%q) = %v, want %v", tt.pattern, got, tt.want)
		}
	}

	if _, err := svc.MatchPaths(context.Background(), "  "); err == nil {
		t.Error("expected error for blank pattern")
	}
}
