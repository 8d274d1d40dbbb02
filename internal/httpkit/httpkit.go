// Package httpkit builds the HTTP clients used for every outbound call
// in Satchel: search providers, the model API, and the telemetry
// bridge. Centralizing construction keeps timeouts, connection
// pooling, and the User-Agent header consistent across packages.
package httpkit

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/satchelhq/satchel/internal/buildinfo"
)

// maxJSONBody caps how much of a response body DecodeJSON will read.
// Provider payloads are a few kilobytes; anything near this limit is a
// misbehaving upstream.
const maxJSONBody = 4 << 20

// ClientOption configures a Client built by NewClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout   time.Duration
	transport *http.Transport
}

// WithTimeout sets the overall request timeout on the http.Client.
// A zero value disables the timeout (needed for SSE streaming, where
// the response body stays open for the life of the stream).
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.timeout = d }
}

// WithTransport substitutes a caller-owned transport for the default
// one. The model client uses this to share one connection pool across
// its streaming and non-streaming clients.
func WithTransport(t *http.Transport) ClientOption {
	return func(c *clientConfig) { c.transport = t }
}

// NewTransport creates the pooled transport underlying every outbound
// client. Per-phase timeouts here bound the connection itself; the
// end-to-end request deadline is the http.Client's job.
func NewTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient builds an *http.Client that identifies itself with the
// Satchel User-Agent on every request. Default timeout is 30s.
func NewClient(opts ...ClientOption) *http.Client {
	cfg := &clientConfig{timeout: 30 * time.Second}
	for _, o := range opts {
		o(cfg)
	}

	t := cfg.transport
	if t == nil {
		t = NewTransport()
	}

	return &http.Client{
		Timeout:   cfg.timeout,
		Transport: &identifyingTransport{base: t, ua: buildinfo.UserAgent()},
	}
}

// identifyingTransport sets the User-Agent header when the caller has
// not set one of its own.
type identifyingTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *identifyingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		// RoundTrip must not mutate the caller's request.
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}

// DecodeJSON decodes a response body into v, reading at most
// maxJSONBody bytes, and drains the remainder so the connection
// returns to the pool.
func DecodeJSON(body io.ReadCloser, v any) error {
	defer DrainAndClose(body, 1024)
	if err := json.NewDecoder(io.LimitReader(body, maxJSONBody)).Decode(v); err != nil {
		return fmt.Errorf("decode json body: %w", err)
	}
	return nil
}

// DrainAndClose reads up to limit bytes from rc and closes it, so the
// underlying HTTP connection can be reused.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody reads up to limit bytes from rc for use in an error
// message, then drains and closes the remainder.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	DrainAndClose(rc, 1024)
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
