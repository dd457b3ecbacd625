package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/teemow/google-token-relay/internal/google"
	"github.com/teemow/google-token-relay/internal/instrumentation"
)

// fakeProvider stands in for Google's token endpoint.
type fakeProvider struct {
	*httptest.Server

	mu     sync.Mutex
	calls  int
	form   url.Values
	header http.Header
}

func newFakeProvider(t *testing.T, status int, body string) *fakeProvider {
	t.Helper()

	fp := &fakeProvider{}
	fp.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()

		fp.mu.Lock()
		fp.calls++
		fp.form = r.PostForm
		fp.header = r.Header.Clone()
		fp.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(fp.Close)
	return fp
}

func (fp *fakeProvider) Calls() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.calls
}

func (fp *fakeProvider) Form() url.Values {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.form
}

func testCredentials(tokenURL string) *Credentials {
	return NewCredentials(google.NewOAuthConfig("client-id", "client-secret", tokenURL, ""))
}

func TestRelay_Do_ExchangeForm(t *testing.T) {
	fp := newFakeProvider(t, http.StatusOK, `{"access_token":"T","expires_in":3600}`)
	r := New(testCredentials(fp.URL))

	resp, err := r.Do(context.Background(), ExchangeGrant, map[string]string{
		"code":          "abc",
		"code_verifier": "xyz",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"access_token":"T","expires_in":3600}`, string(resp.Body))

	form := fp.Form()
	assert.Equal(t, "client-id", form.Get("client_id"))
	assert.Equal(t, "client-secret", form.Get("client_secret"))
	assert.Equal(t, "abc", form.Get("code"))
	assert.Equal(t, "xyz", form.Get("code_verifier"))
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, google.DefaultRedirectURI, form.Get("redirect_uri"))
	assert.Len(t, form, 6)
	assert.Equal(t, "application/x-www-form-urlencoded", fp.header.Get("Content-Type"))
}

func TestRelay_Do_RefreshForm(t *testing.T) {
	fp := newFakeProvider(t, http.StatusOK, `{"access_token":"T2"}`)
	r := New(testCredentials(fp.URL))

	_, err := r.Do(context.Background(), RefreshGrant, map[string]string{"refresh_token": "R"})
	require.NoError(t, err)

	form := fp.Form()
	assert.Equal(t, "client-id", form.Get("client_id"))
	assert.Equal(t, "client-secret", form.Get("client_secret"))
	assert.Equal(t, "R", form.Get("refresh_token"))
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.NotContains(t, form, "redirect_uri")
	assert.Len(t, form, 4)
}

func TestRelay_Do_CustomRedirectURI(t *testing.T) {
	fp := newFakeProvider(t, http.StatusOK, `{}`)
	creds := NewCredentials(google.NewOAuthConfig("id", "secret", fp.URL, "http://127.0.0.1:50000/cb"))

	_, err := New(creds).Do(context.Background(), ExchangeGrant, map[string]string{"code": "c", "code_verifier": "v"})
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:50000/cb", fp.Form().Get("redirect_uri"))
}

func TestRelay_Do_ProviderStatusPreserved(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		wantOK bool
	}{
		{name: "ok", status: http.StatusOK, body: `{"access_token":"T"}`, wantOK: true},
		{name: "created", status: http.StatusCreated, body: `{"b":1,"a":2}`, wantOK: true},
		{name: "invalid grant", status: http.StatusBadRequest, body: `{"error":"invalid_grant"}`},
		{name: "unauthorized client", status: http.StatusUnauthorized, body: `{"error":"invalid_client","error_description":"Unauthorized"}`},
		{name: "provider outage", status: http.StatusServiceUnavailable, body: `{"error":"unavailable"}`},
		{name: "json array", status: http.StatusOK, body: `[1,2,3]`, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakeProvider(t, tt.status, tt.body)

			resp, err := New(testCredentials(fp.URL)).Do(context.Background(), RefreshGrant, map[string]string{"refresh_token": "R"})
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.body, string(resp.Body))
			assert.Equal(t, tt.wantOK, resp.OK())
		})
	}
}

func TestRelay_Do_ParseError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "html success", status: http.StatusOK, body: "<html>ok</html>"},
		{name: "html error", status: http.StatusBadGateway, body: "<html>Bad Gateway</html>"},
		{name: "empty body", status: http.StatusOK, body: ""},
		{name: "truncated json", status: http.StatusOK, body: `{"access_token":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakeProvider(t, tt.status, tt.body)

			resp, err := New(testCredentials(fp.URL)).Do(context.Background(), RefreshGrant, map[string]string{"refresh_token": "R"})
			require.Error(t, err)
			assert.Nil(t, resp)

			var upstreamErr *UpstreamError
			require.True(t, errors.As(err, &upstreamErr))
			assert.Equal(t, KindParse, upstreamErr.Kind)
			assert.Equal(t, tt.status, upstreamErr.StatusCode)
			assert.Equal(t, "refresh", upstreamErr.Grant)
		})
	}
}

func TestRelay_Do_NetworkError(t *testing.T) {
	fp := newFakeProvider(t, http.StatusOK, `{}`)
	tokenURL := fp.URL
	fp.Close()

	resp, err := New(testCredentials(tokenURL)).Do(context.Background(), ExchangeGrant, map[string]string{"code": "c", "code_verifier": "v"})
	require.Error(t, err)
	assert.Nil(t, resp)

	var upstreamErr *UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, KindNetwork, upstreamErr.Kind)
	assert.Zero(t, upstreamErr.StatusCode)
	assert.NotContains(t, err.Error(), "client-secret")
}

func TestRelay_Do_Timeout(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(slow.Close)
	t.Cleanup(func() { close(release) })

	r := New(testCredentials(slow.URL), WithTimeout(50*time.Millisecond))

	_, err := r.Do(context.Background(), RefreshGrant, map[string]string{"refresh_token": "R"})
	require.Error(t, err)

	var upstreamErr *UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, KindNetwork, upstreamErr.Kind)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRelay_Do_ContextCanceled(t *testing.T) {
	fp := newFakeProvider(t, http.StatusOK, `{}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(testCredentials(fp.URL)).Do(ctx, RefreshGrant, map[string]string{"refresh_token": "R"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fp.Calls())
}

func TestRelay_Do_MissingCredentials(t *testing.T) {
	fp := newFakeProvider(t, http.StatusOK, `{}`)
	creds := NewCredentials(google.NewOAuthConfig("", "", fp.URL, ""))

	_, err := New(creds).Do(context.Background(), RefreshGrant, map[string]string{"refresh_token": "R"})
	assert.ErrorIs(t, err, ErrMissingCredentials)
	assert.Equal(t, 0, fp.Calls())
}

func TestRelay_WithHTTPClient(t *testing.T) {
	fp := newFakeProvider(t, http.StatusOK, `{}`)

	var used bool
	client := &http.Client{Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		used = true
		return http.DefaultTransport.RoundTrip(req)
	})}

	_, err := New(testCredentials(fp.URL), WithHTTPClient(client)).Do(context.Background(), RefreshGrant, map[string]string{"refresh_token": "R"})
	require.NoError(t, err)
	assert.True(t, used)

	// A nil client keeps the default.
	r := New(testCredentials(fp.URL), WithHTTPClient(nil))
	assert.Equal(t, http.DefaultClient, r.client)
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestUpstreamError_Error(t *testing.T) {
	err := &UpstreamError{Kind: KindParse, Grant: "exchange", StatusCode: 502, Err: errors.New("not json")}
	assert.Equal(t, "exchange grant: parse error (provider status 502): not json", err.Error())

	err = &UpstreamError{Kind: KindNetwork, Grant: "refresh", Err: errors.New("dial failed")}
	assert.Equal(t, "refresh grant: network error: dial failed", err.Error())
	assert.Equal(t, "dial failed", errors.Unwrap(err).Error())
}

// recordSpans installs a recording global tracer provider for one test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func TestRelay_Do_SpanOutcome(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantOutcome string
	}{
		{name: "success", status: http.StatusOK, body: `{"access_token":"T"}`, wantOutcome: instrumentation.OutcomeSuccess},
		{name: "provider rejection", status: http.StatusBadRequest, body: `{"error":"invalid_grant"}`, wantOutcome: instrumentation.OutcomeProviderError},
		{name: "unparsable body", status: http.StatusOK, body: `<html>`, wantOutcome: instrumentation.OutcomeUpstreamError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := recordSpans(t)
			fp := newFakeProvider(t, tt.status, tt.body)

			_, _ = New(testCredentials(fp.URL)).Do(context.Background(), RefreshGrant, map[string]string{"refresh_token": "R"})

			ended := recorder.Ended()
			require.Len(t, ended, 1)
			assert.Equal(t, "google.token.refresh", ended[0].Name())

			attrs := map[string]string{}
			for _, attr := range ended[0].Attributes() {
				attrs[string(attr.Key)] = attr.Value.Emit()
			}
			assert.Equal(t, tt.wantOutcome, attrs[instrumentation.SpanAttrOutcome])
		})
	}
}
