// Package otel provides OpenTelemetry instrumentation: HTTP spans via
// otelhttp, domain metrics, and manual spans for the watch/index/query
// pipeline. Exporter wiring is a stub; the default no-op providers apply
// until one is configured.
package otel

import (
	"context"
	"log/slog"
)

// ShutdownFunc is called to flush and shut down the trace provider.
type ShutdownFunc func(ctx context.Context) error

// InitTracer returns a no-op shutdown function. Hooking up an OTLP
// exporter replaces this.
func InitTracer(serviceName string) ShutdownFunc {
	slog.Info("otel tracer initialized", "service", serviceName)
	return func(_ context.Context) error {
		return nil
	}
}
