package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the tracer name used for all relay spans.
const TracerName = "github.com/teemow/google-token-relay"

// Span attribute keys.
const (
	SpanAttrGrant          = "oauth.grant_type"
	SpanAttrProviderStatus = "oauth.provider.status_code"
	SpanAttrOutcome        = "relay.outcome"
	SpanAttrHTTPMethod     = "http.request.method"
	SpanAttrHTTPRoute      = "http.route"
	SpanAttrHTTPStatus     = "http.response.status_code"
)

// StartServerSpan starts a server span for an inbound request. The route is
// unknown until the router has matched, so it is set by EndServerSpan.
func StartServerSpan(ctx context.Context, method string) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "HTTP "+method,
		trace.WithAttributes(attribute.String(SpanAttrHTTPMethod, method)),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// EndServerSpan names the span after the matched route, records the response
// status and ends the span. 5xx responses mark the span as failed.
func EndServerSpan(span trace.Span, method, route string, statusCode int) {
	span.SetName("HTTP " + method + " " + route)
	span.SetAttributes(
		attribute.String(SpanAttrHTTPRoute, route),
		attribute.Int(SpanAttrHTTPStatus, statusCode),
	)
	if statusCode >= 500 {
		span.SetStatus(codes.Error, "server error")
	}
	span.End()
}

// StartProviderSpan starts a client span around a call to the identity
// provider's token endpoint. The caller must end the span.
func StartProviderSpan(ctx context.Context, grant string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+1)
	allAttrs = append(allAttrs, attribute.String(SpanAttrGrant, grant))
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "google.token."+grant,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// SetSpanError records an error on the span and sets the status to error.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanProviderStatus annotates the span with the provider's HTTP status.
// Provider rejections are expected traffic, so the span status stays unset
// for 4xx responses and is marked as an error only for 5xx.
func SetSpanProviderStatus(span trace.Span, statusCode int) {
	span.SetAttributes(attribute.Int(SpanAttrProviderStatus, statusCode))
	if statusCode >= 500 {
		span.SetStatus(codes.Error, "provider error")
		return
	}
	if statusCode < 300 {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanOutcome records the relay outcome on the span.
func SetSpanOutcome(span trace.Span, outcome string) {
	span.SetAttributes(attribute.String(SpanAttrOutcome, outcome))
}

// GetTraceID returns the trace ID from the current span in context.
// Returns empty string if no valid span is present.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
