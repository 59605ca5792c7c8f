// Package broadcast defines the port for pushing activity events to
// connected feed clients.
package broadcast

import "context"

// Broadcaster fans a typed event out to every connected client.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
