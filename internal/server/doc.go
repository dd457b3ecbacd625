// Package server wires the token relay into HTTP listeners.
//
// # Key Components
//
// RelayHTTPServer routes the public endpoints with chi:
//   - POST /api/google/token: authorization code exchange
//     (also served at /api/google/tocken for older plugin builds)
//   - POST /api/google/refresh: refresh token exchange
//   - GET /healthz, /readyz, /healthz/detailed: Kubernetes probes
//
// Requests pass through request ID, real IP, slash stripping, tracing,
// metrics and panic recovery middleware before reaching the relay handlers.
//
// MetricsServer exposes Prometheus metrics on a separate port so that
// operational data never shares the public listener.
//
// HealthChecker reports readiness. A relay started without client
// credentials stays live but is reported as not ready.
package server
