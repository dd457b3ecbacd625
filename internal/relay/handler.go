package relay

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/teemow/google-token-relay/internal/instrumentation"
	"github.com/teemow/google-token-relay/internal/logging"
)

// maxRequestBodySize bounds inbound JSON bodies.
const maxRequestBodySize = 1 << 20

// CORS header values sent on every relay response.
const (
	corsAllowOrigin  = "*"
	corsAllowMethods = "POST, OPTIONS"
	corsAllowHeaders = "Content-Type"
)

// Handler serves the relay endpoints over HTTP.
type Handler struct {
	relay   *Relay
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// NewHandler creates a Handler. A nil logger falls back to slog.Default and
// a nil metrics recorder disables metrics.
func NewHandler(relay *Relay, logger *slog.Logger, metrics *instrumentation.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		relay:   relay,
		logger:  logging.WithOperation(logger, "relay"),
		metrics: metrics,
	}
}

// Exchange serves the authorization code exchange endpoint.
func (h *Handler) Exchange() http.Handler {
	return h.Grant(ExchangeGrant)
}

// Refresh serves the refresh token endpoint.
func (h *Handler) Refresh() http.Handler {
	return h.Grant(RefreshGrant)
}

// Grant returns a handler relaying g.
func (h *Handler) Grant(g Grant) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, g)
	})
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, g Grant) {
	setCORSHeaders(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx := r.Context()
	logger := logging.WithGrant(h.logger, g.Name).With(
		logging.RequestID(middleware.GetReqID(ctx)),
		logging.TraceID(instrumentation.GetTraceID(ctx)),
		logging.ClientHash(r.RemoteAddr),
	)

	if r.Method != http.MethodPost {
		h.metrics.RecordRelay(ctx, g.Name, instrumentation.OutcomeMethodNotAllowed)
		writeError(w, http.StatusMethodNotAllowed, MsgMethodNotAllowed)
		return
	}

	if err := h.relay.Credentials().Validate(); err != nil {
		logger.Error("relay is not configured", logging.Err(err))
		h.metrics.RecordRelay(ctx, g.Name, instrumentation.OutcomeConfigError)
		writeError(w, http.StatusInternalServerError, MsgMissingCredentials)
		return
	}

	fields := decodeFields(http.MaxBytesReader(w, r.Body, maxRequestBodySize), g.Required)
	if !g.Complete(fields) {
		logger.Debug("rejected incomplete token request", fieldMarkers(g, fields)...)
		h.metrics.RecordRelay(ctx, g.Name, instrumentation.OutcomeBadRequest)
		writeError(w, http.StatusBadRequest, g.BadRequestMessage)
		return
	}

	start := time.Now()
	resp, err := h.relay.Do(ctx, g, fields)
	elapsed := time.Since(start)
	if err != nil {
		h.logUpstreamError(logger, err, elapsed)
		if errors.Is(err, ErrMissingCredentials) {
			h.metrics.RecordRelay(ctx, g.Name, instrumentation.OutcomeConfigError)
			writeError(w, http.StatusInternalServerError, MsgMissingCredentials)
			return
		}
		h.metrics.RecordRelay(ctx, g.Name, instrumentation.OutcomeUpstreamError)
		writeError(w, http.StatusInternalServerError, MsgInternalServerError)
		return
	}

	status := resp.StatusCode
	if resp.OK() {
		status = http.StatusOK
		h.metrics.RecordRelay(ctx, g.Name, instrumentation.OutcomeSuccess)
		logger.Info("token relayed",
			logging.ProviderStatus(resp.StatusCode),
			logging.Duration(elapsed))
	} else {
		h.metrics.RecordRelay(ctx, g.Name, instrumentation.OutcomeProviderError)
		logger.Warn("provider rejected token request",
			logging.ProviderStatus(resp.StatusCode),
			logging.Duration(elapsed))
	}

	writeJSON(w, status, resp.Body)
}

func (h *Handler) logUpstreamError(logger *slog.Logger, err error, elapsed time.Duration) {
	attrs := []any{logging.Duration(elapsed), logging.Err(err)}

	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		attrs = append(attrs, slog.String("kind", string(upstreamErr.Kind)))
		if upstreamErr.StatusCode != 0 {
			attrs = append(attrs, logging.ProviderStatus(upstreamErr.StatusCode))
		}
	}

	logger.Error("token request failed", attrs...)
}

// decodeFields extracts the named string fields from a JSON object body.
// Malformed bodies, non-object documents and non-string values all yield
// missing fields.
func decodeFields(body io.Reader, names []string) map[string]string {
	fields := make(map[string]string, len(names))

	var doc map[string]json.RawMessage
	if err := json.NewDecoder(body).Decode(&doc); err != nil {
		return fields
	}

	for _, name := range names {
		raw, ok := doc[name]
		if !ok {
			continue
		}
		var value string
		if err := json.Unmarshal(raw, &value); err == nil {
			fields[name] = value
		}
	}
	return fields
}

// fieldMarkers describes the required fields by length only.
func fieldMarkers(g Grant, fields map[string]string) []any {
	attrs := make([]any, 0, len(g.Required))
	for _, name := range g.Required {
		attrs = append(attrs, slog.String(name, logging.SanitizeToken(fields[name])))
	}
	return attrs
}

func setCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", corsAllowOrigin)
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	body, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		body = []byte(`{"error":"Internal Server Error"}`)
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, body)
}
