package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/devitalik/devitalik/internal/adapter/llm"
	"github.com/devitalik/devitalik/internal/adapter/otel"
	"github.com/devitalik/devitalik/internal/adapter/ws"
	"github.com/devitalik/devitalik/internal/config"
	"github.com/devitalik/devitalik/internal/domain/query"
	"github.com/devitalik/devitalik/internal/port/broadcast"
	"github.com/devitalik/devitalik/internal/port/cache"
	"github.com/devitalik/devitalik/internal/port/database"
)

const answerSystemPrompt = `You answer questions about a software project using only the provided excerpts from its repository. Quote file paths when relevant. If the excerpts do not contain the answer, say so plainly.`

// QueryService answers natural-language questions over the indexed
// content. Answers come from full-text search, optionally synthesized by
// an LLM; identical questions are served from cache until the TTL runs out.
type QueryService struct {
	store       database.Store
	cache       cache.Cache
	llm         *llm.Client
	broadcaster broadcast.Broadcaster
	metrics     *otel.Metrics
	cfg         config.Query
}

// NewQueryService creates a QueryService. llmClient may be nil, in which
// case answers are extractive only.
func NewQueryService(store database.Store, c cache.Cache, llmClient *llm.Client, broadcaster broadcast.Broadcaster, cfg config.Query) *QueryService {
	return &QueryService{
		store:       store,
		cache:       c,
		llm:         llmClient,
		broadcaster: broadcaster,
		cfg:         cfg,
	}
}

// SetMetrics wires metric instruments; without them counters are skipped.
func (s *QueryService) SetMetrics(m *otel.Metrics) { s.metrics = m }

// Answer responds to a question over the indexed content.
func (s *QueryService) Answer(ctx context.Context, req *query.Request) (*query.Answer, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	topK := req.TopK
	if topK <= 0 {
		topK = s.cfg.TopK
	}

	ctx, span := otel.StartQuerySpan(ctx, topK)
	defer span.End()
	start := time.Now()

	cacheKey := "answer:" + query.NormalizeQuestion(req.Question)
	if s.cache != nil {
		if data, ok, _ := s.cache.Get(ctx, cacheKey); ok {
			var cached query.Answer
			if err := json.Unmarshal(data, &cached); err == nil {
				slog.Debug("answer served from cache", "question", req.Question)
				return &cached, nil
			}
		}
	}

	results, err := s.store.SearchChunks(ctx, req.Question, topK)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	ans := query.Answer{
		Question:   req.Question,
		AnsweredAt: time.Now().UTC(),
	}
	for _, r := range results {
		ans.Hits = append(ans.Hits, query.Hit{
			DocumentID: r.Chunk.DocumentID,
			Path:       r.Path,
			Repository: r.Repository,
			Seq:        r.Chunk.Seq,
			Content:    r.Chunk.Content,
			Score:      r.Score,
		})
	}

	ans.Text, ans.Synthesized = s.compose(ctx, req.Question, ans.Hits)

	if s.cache != nil {
		if data, err := json.Marshal(ans); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, s.cfg.AnswerTTL)
		}
	}

	if s.metrics != nil {
		s.metrics.QueriesAnswered.Add(ctx, 1)
		s.metrics.QueryDuration.Record(ctx, time.Since(start).Seconds())
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastEvent(ctx, ws.EventQueryAnswered, ws.QueryAnsweredEvent{
			Question:    req.Question,
			HitCount:    len(ans.Hits),
			Synthesized: ans.Synthesized,
		})
	}

	return &ans, nil
}

// compose turns search hits into answer text, via the LLM when one is
// configured and falling back to the best excerpt otherwise.
func (s *QueryService) compose(ctx context.Context, question string, hits []query.Hit) (text string, synthesized bool) {
	if len(hits) == 0 {
		return "No indexed content matches that question.", false
	}

	if s.llm == nil {
		return extractiveText(hits), false
	}

	var b strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&b, "[%d] %s", i+1, h.Path)
		if h.Repository != "" {
			fmt.Fprintf(&b, " (%s)", h.Repository)
		}
		b.WriteString(":\n")
		b.WriteString(h.Content)
		b.WriteString("\n\n")
	}
	userPrompt := fmt.Sprintf("Excerpts:\n\n%sQuestion: %s", b.String(), question)

	reply, err := s.llm.Complete(ctx, answerSystemPrompt, userPrompt)
	if err != nil {
		slog.Warn("llm synthesis failed, falling back to excerpt", "error", err)
		return extractiveText(hits), false
	}
	return strings.TrimSpace(reply), true
}

// extractiveText is the no-LLM answer: the highest-ranked excerpt with
// its source.
func extractiveText(hits []query.Hit) string {
	top := hits[0]
	src := top.Path
	if top.Repository != "" {
		src = top.Repository + ":" + top.Path
	}
	return fmt.Sprintf("From %s:\n%s", src, top.Content)
}

// MatchPaths returns indexed document paths matching a glob pattern. A
// pattern without glob metacharacters falls back to substring matching.
func (s *QueryService) MatchPaths(ctx context.Context, pattern string) ([]string, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("pattern is required")
	}

	paths, err := s.store.ListDocumentPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("list paths: %w", err)
	}

	literal := !strings.ContainsAny(pattern, "*?[")
	var matched []string
	for _, p := range paths {
		if literal {
			if strings.Contains(p, pattern) {
				matched = append(matched, p)
			}
			continue
		}
		if ok, _ := path.Match(pattern, p); ok {
			matched = append(matched, p)
			continue
		}
		if ok, _ := path.Match(pattern, path.Base(p)); ok {
			matched = append(matched, p)
		}
	}
	return matched, nil
}
