// Package query defines the query request and answer types.
package query

import (
	"errors"
	"strings"
	"time"
)

// Request is a natural-language question over the indexed content.
type Request struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"` // 0 = service default
}

// Validate checks that a Request is well-formed.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Question) == "" {
		return errors.New("question is required")
	}
	return nil
}

// Hit is a scored chunk matched by the search.
type Hit struct {
	DocumentID string  `json:"document_id"`
	Path       string  `json:"path"`
	Repository string  `json:"repository,omitempty"`
	Seq        int     `json:"seq"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// Answer is the response to a query.
type Answer struct {
	Question    string    `json:"question"`
	Text        string    `json:"text"` // synthesized or extractive answer
	Hits        []Hit     `json:"hits"`
	Synthesized bool      `json:"synthesized"` // true when an LLM composed the text
	AnsweredAt  time.Time `json:"answered_at"`
}

// NormalizeQuestion lowercases and collapses whitespace so equivalent
// questions share one cache entry.
func NormalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
