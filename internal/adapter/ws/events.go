package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventChangeDetected = "change.detected"
	EventIndexResult    = "index.result"
	EventQueryAnswered  = "query.answered"
)

// ChangeDetectedEvent is broadcast when a repository change is detected.
type ChangeDetectedEvent struct {
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
	Type       string `json:"type"`
	Source     string `json:"source"`
	Sender     string `json:"sender,omitempty"`
	FileCount  int    `json:"file_count"`
}

// IndexResultEvent is broadcast when a document finishes indexing.
type IndexResultEvent struct {
	DocumentID string `json:"document_id"`
	Repository string `json:"repository,omitempty"`
	Path       string `json:"path"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count"`
}

// QueryAnsweredEvent is broadcast when a question is answered.
type QueryAnsweredEvent struct {
	Question    string `json:"question"`
	HitCount    int    `json:"hit_count"`
	Synthesized bool   `json:"synthesized"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
