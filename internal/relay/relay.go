package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/teemow/google-token-relay/internal/instrumentation"
)

// maxProviderBodySize bounds how much of a provider response is read.
const maxProviderBodySize = 1 << 20

// ProviderResponse is a provider answer that can be relayed unchanged.
type ProviderResponse struct {
	StatusCode int

	// Body is the raw provider JSON document.
	Body []byte
}

// OK reports whether the provider accepted the grant.
func (p *ProviderResponse) OK() bool {
	return p.StatusCode >= 200 && p.StatusCode < 300
}

// Relay performs token endpoint calls on behalf of clients.
type Relay struct {
	creds   *Credentials
	client  *http.Client
	timeout time.Duration
	metrics *instrumentation.Metrics
}

// Option configures a Relay.
type Option func(*Relay)

// WithHTTPClient sets the client used for upstream calls.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Relay) {
		if client != nil {
			r.client = client
		}
	}
}

// WithTimeout bounds each upstream call. Zero means no bound beyond the
// inbound request's context.
func WithTimeout(d time.Duration) Option {
	return func(r *Relay) {
		r.timeout = d
	}
}

// WithMetrics records upstream call durations on m.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

// New creates a Relay for the given credentials.
func New(creds *Credentials, opts ...Option) *Relay {
	r := &Relay{
		creds:  creds,
		client: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Credentials returns the credentials the relay sends upstream.
func (r *Relay) Credentials() *Credentials {
	return r.creds
}

// Do sends a grant to the provider. Any provider answer with a JSON body is
// returned as a ProviderResponse regardless of its status. Failures to reach
// the provider or to read a JSON body are returned as *UpstreamError.
// Do returns ErrMissingCredentials without calling out when unconfigured.
func (r *Relay) Do(ctx context.Context, grant Grant, fields map[string]string) (*ProviderResponse, error) {
	if err := r.creds.Validate(); err != nil {
		return nil, err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	ctx, span := instrumentation.StartProviderSpan(ctx, grant.Name)
	defer span.End()

	start := time.Now()
	resp, err := r.post(ctx, grant, fields)

	outcome := instrumentation.OutcomeSuccess
	switch {
	case err != nil:
		outcome = instrumentation.OutcomeUpstreamError
		instrumentation.SetSpanError(span, err)
	case !resp.OK():
		outcome = instrumentation.OutcomeProviderError
	}
	if resp != nil {
		instrumentation.SetSpanProviderStatus(span, resp.StatusCode)
	}
	instrumentation.SetSpanOutcome(span, outcome)
	r.metrics.RecordUpstreamCall(ctx, grant.Name, outcome, time.Since(start))

	return resp, err
}

func (r *Relay) post(ctx context.Context, grant Grant, fields map[string]string) (*ProviderResponse, error) {
	form := grant.Form(r.creds, fields)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.creds.TokenURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &UpstreamError{Kind: KindNetwork, Grant: grant.Name, Err: fmt.Errorf("failed to build token request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Kind: KindNetwork, Grant: grant.Name, Err: fmt.Errorf("token request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBodySize+1))
	if err != nil {
		return nil, &UpstreamError{Kind: KindNetwork, Grant: grant.Name, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read token response: %w", err)}
	}
	if len(body) > maxProviderBodySize {
		return nil, &UpstreamError{Kind: KindParse, Grant: grant.Name, StatusCode: resp.StatusCode, Err: errors.New("token response exceeds size limit")}
	}
	if !json.Valid(body) {
		return nil, &UpstreamError{Kind: KindParse, Grant: grant.Name, StatusCode: resp.StatusCode, Err: errors.New("token response is not valid JSON")}
	}

	return &ProviderResponse{StatusCode: resp.StatusCode, Body: body}, nil
}
