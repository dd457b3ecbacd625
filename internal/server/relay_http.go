package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/teemow/google-token-relay/internal/instrumentation"
	"github.com/teemow/google-token-relay/internal/relay"
)

// Public relay routes.
const (
	ExchangePath = "/api/google/token"
	RefreshPath  = "/api/google/refresh"

	// LegacyExchangePath is the misspelled route earlier plugin releases call.
	LegacyExchangePath = "/api/google/tocken"
)

// unmatchedRoute labels requests that hit no route, keeping metric
// cardinality bounded.
const unmatchedRoute = "unmatched"

// RelayServerConfig holds configuration for the relay HTTP server.
type RelayServerConfig struct {
	// Addr is the listen address (e.g. ":8080").
	Addr string

	// Relay performs the upstream token calls. Required.
	Relay *relay.Relay

	// Metrics records HTTP and relay metrics. Nil disables recording.
	Metrics *instrumentation.Metrics

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// RelayHTTPServer serves the token relay endpoints and health probes.
type RelayHTTPServer struct {
	addr    string
	router  chi.Router
	health  *HealthChecker
	metrics *instrumentation.Metrics
	logger  *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewRelayHTTPServer builds the router for the relay endpoints.
func NewRelayHTTPServer(config RelayServerConfig) (*RelayHTTPServer, error) {
	if config.Relay == nil {
		return nil, errors.New("relay is required")
	}
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	s := &RelayHTTPServer{
		addr:    config.Addr,
		health:  NewHealthChecker(config.Relay.Credentials()),
		metrics: config.Metrics,
		logger:  config.Logger,
	}

	handler := relay.NewHandler(config.Relay, config.Logger, config.Metrics)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.StripSlashes)
	r.Use(tracingMiddleware)
	r.Use(s.instrumentationMiddleware)
	r.Use(middleware.Recoverer)

	s.health.RegisterHealthEndpoints(r)

	// Every method reaches the relay handler so that it can answer
	// preflight and 405 itself, with CORS headers attached.
	r.Handle(ExchangePath, handler.Exchange())
	r.Handle(LegacyExchangePath, handler.Exchange())
	r.Handle(RefreshPath, handler.Refresh())

	s.router = r
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *RelayHTTPServer) Handler() http.Handler {
	return s.router
}

// Health returns the checker behind the probe endpoints.
func (s *RelayHTTPServer) Health() *HealthChecker {
	return s.health
}

// StartWithReadySignal listens on the configured address and serves until
// Shutdown. ready, if non-nil, is closed once the listener is bound.
func (s *RelayHTTPServer) StartWithReadySignal(ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.mu.Lock()
	s.httpServer = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("relay server listening", "addr", ln.Addr().String())
	if ready != nil {
		close(ready)
	}
	return srv.Serve(ln)
}

// Addr returns the bound address once serving, otherwise the configured one.
func (s *RelayHTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown marks the server as shutting down and drains in-flight requests.
func (s *RelayHTTPServer) Shutdown(ctx context.Context) error {
	s.health.MarkShuttingDown()

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// routeLabel returns the matched route pattern, or unmatchedRoute.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}

// tracingMiddleware wraps each request in a server span so that provider
// spans and log lines share its trace ID.
func tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := instrumentation.StartServerSpan(ctx, r.Method)
		rw := newResponseWriter(w)
		r = r.WithContext(ctx)

		defer func() {
			instrumentation.EndServerSpan(span, r.Method, routeLabel(r), rw.statusCode)
		}()

		next.ServeHTTP(rw, r)
	})
}

// instrumentationMiddleware records request count and duration per route.
func (s *RelayHTTPServer) instrumentationMiddleware(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseWriter(w)

		defer func() {
			s.metrics.RecordHTTPRequest(r.Context(), r.Method, routeLabel(r), rw.statusCode, time.Since(start))
		}()

		next.ServeHTTP(rw, r)
	})
}
