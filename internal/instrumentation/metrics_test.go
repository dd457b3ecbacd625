package instrumentation

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics recorder backed by a manual reader so
// tests can collect what was recorded.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func hasAttr(set attribute.Set, key, want string) bool {
	v, ok := set.Value(attribute.Key(key))
	return ok && v.AsString() == want
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	ctx := context.Background()
	m, reader := newTestMetrics(t)

	m.RecordHTTPRequest(ctx, "POST", "/api/google/token", 200, 100*time.Millisecond)
	m.RecordHTTPRequest(ctx, "POST", "/api/google/token", 200, 50*time.Millisecond)
	m.RecordHTTPRequest(ctx, "GET", "/api/google/refresh", 405, time.Millisecond)

	got := collect(t, reader)

	counter, ok := got["http_requests_total"]
	if !ok {
		t.Fatal("expected http_requests_total to be recorded")
	}
	sum, ok := counter.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64], got %T", counter.Data)
	}
	if len(sum.DataPoints) != 2 {
		t.Fatalf("expected 2 data points, got %d", len(sum.DataPoints))
	}
	for _, dp := range sum.DataPoints {
		switch {
		case hasAttr(dp.Attributes, attrStatus, "200"):
			if dp.Value != 2 {
				t.Errorf("expected 2 successful requests, got %d", dp.Value)
			}
			if !hasAttr(dp.Attributes, attrPath, "/api/google/token") {
				t.Error("expected path attribute on success data point")
			}
		case hasAttr(dp.Attributes, attrStatus, "405"):
			if dp.Value != 1 {
				t.Errorf("expected 1 rejected request, got %d", dp.Value)
			}
		default:
			t.Errorf("unexpected data point attributes: %v", dp.Attributes)
		}
	}

	if _, ok := got["http_request_duration_seconds"]; !ok {
		t.Error("expected http_request_duration_seconds to be recorded")
	}
}

func TestMetrics_RecordRelay(t *testing.T) {
	ctx := context.Background()
	m, reader := newTestMetrics(t)

	m.RecordRelay(ctx, "exchange", OutcomeSuccess)
	m.RecordRelay(ctx, "refresh", OutcomeBadRequest)
	m.RecordRelay(ctx, "refresh", OutcomeBadRequest)

	got := collect(t, reader)
	counter, ok := got["token_relay_requests_total"]
	if !ok {
		t.Fatal("expected token_relay_requests_total to be recorded")
	}

	sum := counter.Data.(metricdata.Sum[int64])
	var refreshBadRequests int64
	for _, dp := range sum.DataPoints {
		if hasAttr(dp.Attributes, attrGrant, "refresh") && hasAttr(dp.Attributes, attrOutcome, OutcomeBadRequest) {
			refreshBadRequests = dp.Value
		}
	}
	if refreshBadRequests != 2 {
		t.Errorf("expected 2 refresh bad requests, got %d", refreshBadRequests)
	}
}

func TestMetrics_RecordUpstreamCall(t *testing.T) {
	ctx := context.Background()
	m, reader := newTestMetrics(t)

	m.RecordUpstreamCall(ctx, "exchange", OutcomeProviderError, 250*time.Millisecond)

	got := collect(t, reader)
	hist, ok := got["token_relay_upstream_duration_seconds"]
	if !ok {
		t.Fatal("expected token_relay_upstream_duration_seconds to be recorded")
	}

	data, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected Histogram[float64], got %T", hist.Data)
	}
	if len(data.DataPoints) != 1 {
		t.Fatalf("expected 1 data point, got %d", len(data.DataPoints))
	}
	dp := data.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("expected count 1, got %d", dp.Count)
	}
	if dp.Sum != 0.25 {
		t.Errorf("expected sum 0.25, got %f", dp.Sum)
	}
	if !hasAttr(dp.Attributes, attrOutcome, OutcomeProviderError) {
		t.Error("expected outcome attribute")
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	ctx := context.Background()

	// Neither a nil pointer nor a zero value may panic
	var nilMetrics *Metrics
	nilMetrics.RecordHTTPRequest(ctx, "POST", "/", 200, time.Second)
	nilMetrics.RecordRelay(ctx, "exchange", OutcomeSuccess)
	nilMetrics.RecordUpstreamCall(ctx, "exchange", OutcomeSuccess, time.Second)

	zero := &Metrics{}
	zero.RecordHTTPRequest(ctx, "POST", "/", 200, time.Second)
	zero.RecordRelay(ctx, "refresh", OutcomeUpstreamError)
	zero.RecordUpstreamCall(ctx, "refresh", OutcomeUpstreamError, time.Second)
}

func TestMetrics_WithPrometheusProvider(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	keepGlobals(t)
	provider, err := NewProvider(ctx, Config{
		ServiceName:     "test-service",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: "prometheus",
		TracingExporter: "none",
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	defer func() { _ = provider.Shutdown(ctx) }()

	metrics := provider.Metrics()
	if metrics == nil {
		t.Fatal("expected metrics to be non-nil")
	}

	// Should not panic
	metrics.RecordHTTPRequest(ctx, "POST", "/api/google/token", 200, 100*time.Millisecond)
	metrics.RecordRelay(ctx, "exchange", OutcomeSuccess)
	metrics.RecordUpstreamCall(ctx, "exchange", OutcomeSuccess, 80*time.Millisecond)
}
