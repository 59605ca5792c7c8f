package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "devitalik"

// StartDetectionSpan starts a span for a change detection pass.
func StartDetectionSpan(ctx context.Context, repository, source string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "detect",
		trace.WithAttributes(
			attribute.String("repo.full_name", repository),
			attribute.String("change.source", source),
		),
	)
}

// StartIndexSpan starts a span for indexing a document.
func StartIndexSpan(ctx context.Context, repository, path string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "index",
		trace.WithAttributes(
			attribute.String("repo.full_name", repository),
			attribute.String("document.path", path),
		),
	)
}

// StartQuerySpan starts a span for answering a question.
func StartQuerySpan(ctx context.Context, topK int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "query",
		trace.WithAttributes(
			attribute.Int("query.top_k", topK),
		),
	)
}
