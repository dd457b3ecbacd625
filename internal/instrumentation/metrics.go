package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrGrant   = "grant"
	attrOutcome = "outcome"
)

// Metrics records request and relay metrics. The zero value is a no-op recorder.
type Metrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	relayRequestsTotal    metric.Int64Counter
	relayUpstreamDuration metric.Float64Histogram
}

// NewMetrics creates a new Metrics instance with all instruments initialized.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.relayRequestsTotal, err = meter.Int64Counter(
		"token_relay_requests_total",
		metric.WithDescription("Total number of token relay requests by grant and outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_relay_requests_total counter: %w", err)
	}

	m.relayUpstreamDuration, err = meter.Float64Histogram(
		"token_relay_upstream_duration_seconds",
		metric.WithDescription("Duration of calls to the identity provider token endpoint in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_relay_upstream_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	)

	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordRelay counts one relay request for grant with the given outcome.
// Preflight requests are not counted.
func (m *Metrics) RecordRelay(ctx context.Context, grant, outcome string) {
	if m == nil || m.relayRequestsTotal == nil {
		return
	}

	m.relayRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrGrant, grant),
		attribute.String(attrOutcome, outcome),
	))
}

// RecordUpstreamCall records how long a token endpoint call took.
// outcome is OutcomeSuccess, OutcomeProviderError or OutcomeUpstreamError.
func (m *Metrics) RecordUpstreamCall(ctx context.Context, grant, outcome string, duration time.Duration) {
	if m == nil || m.relayUpstreamDuration == nil {
		return
	}

	m.relayUpstreamDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(attrGrant, grant),
		attribute.String(attrOutcome, outcome),
	))
}
