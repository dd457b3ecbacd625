// Package instrumentation provides OpenTelemetry instrumentation for the token relay.
//
// # Metrics
//
// HTTP metrics:
//   - http_requests_total: Counter of HTTP requests by method, path, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//
// Relay metrics:
//   - token_relay_requests_total: Counter of relay requests by grant and outcome
//   - token_relay_upstream_duration_seconds: Histogram of token endpoint call durations
//
// Outcomes are one of: success, provider_error, bad_request, config_error,
// method_not_allowed, upstream_error.
//
// # Tracing
//
// Each inbound request runs in a server span named after its route, continuing
// a W3C traceparent sent by the client. Each outbound token endpoint call runs
// inside a child client span named google.token.<grant>, where grant is
// exchange or refresh, carrying the relay outcome.
//
// # Configuration
//
// Instrumentation can be configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: prometheus, otlp, stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout, none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: google-token-relay)
//
// # Example Usage
//
//	cfg, err := instrumentation.ConfigFromEnv(version)
//	if err != nil {
//		return err
//	}
//	provider, err := instrumentation.NewProvider(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	provider.Metrics().RecordRelay(ctx, "refresh", instrumentation.OutcomeSuccess)
package instrumentation
