package logger

import "context"

// Context keys are private types so other packages cannot collide with them.
type (
	requestIDKey  struct{}
	deliveryIDKey struct{}
)

// WithRequestID returns a context carrying the HTTP request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithDeliveryID returns a context carrying a webhook delivery ID, so log
// records emitted while handling the event correlate with GitHub's
// delivery log.
func WithDeliveryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, deliveryIDKey{}, id)
}

// DeliveryID returns the webhook delivery ID stored in ctx, or "".
func DeliveryID(ctx context.Context) string {
	id, _ := ctx.Value(deliveryIDKey{}).(string)
	return id
}
