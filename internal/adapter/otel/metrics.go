package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "devitalik"

// Metrics holds all DeVitalik metric instruments.
type Metrics struct {
	ChangesDetected  metric.Int64Counter
	WebhooksRejected metric.Int64Counter
	DocumentsIndexed metric.Int64Counter
	IndexFailures    metric.Int64Counter
	QueriesAnswered  metric.Int64Counter
	DetectionLatency metric.Float64Histogram
	QueryDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.ChangesDetected, err = meter.Int64Counter("devitalik.changes.detected",
		metric.WithDescription("Number of repository changes detected"))
	if err != nil {
		return nil, err
	}

	m.WebhooksRejected, err = meter.Int64Counter("devitalik.webhooks.rejected",
		metric.WithDescription("Number of webhook deliveries rejected by signature verification"))
	if err != nil {
		return nil, err
	}

	m.DocumentsIndexed, err = meter.Int64Counter("devitalik.documents.indexed",
		metric.WithDescription("Number of documents indexed"))
	if err != nil {
		return nil, err
	}

	m.IndexFailures, err = meter.Int64Counter("devitalik.index.failures",
		metric.WithDescription("Number of indexing failures"))
	if err != nil {
		return nil, err
	}

	m.QueriesAnswered, err = meter.Int64Counter("devitalik.queries.answered",
		metric.WithDescription("Number of questions answered"))
	if err != nil {
		return nil, err
	}

	m.DetectionLatency, err = meter.Float64Histogram("devitalik.detection.latency",
		metric.WithDescription("Seconds between a commit and its detection"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.QueryDuration, err = meter.Float64Histogram("devitalik.query.duration",
		metric.WithDescription("Seconds spent answering a question"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
