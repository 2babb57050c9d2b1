package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/blink/internal/resilience"
)

const (
	defaultAPIURL = "https://api.deepgram.com"
	defaultKeyTTL = 60 * time.Second
)

// ephemeralScopes are the only scopes granted to browser keys.
var ephemeralScopes = []string{"usage:write", "listen:stream"}

// UpstreamError is returned by [KeyMinter.Mint] when Deepgram answers with a
// non-2xx status.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("deepgram: upstream status %d: %s", e.StatusCode, e.Body)
}

// EphemeralKey is a short-lived API key handed to a signed-in browser.
type EphemeralKey struct {
	Key string `json:"key"`
	TTL int    `json:"ttl"`
}

// KeyOption configures a [KeyMinter].
type KeyOption func(*KeyMinter)

// WithAPIURL overrides the management API base URL.
func WithAPIURL(u string) KeyOption {
	return func(m *KeyMinter) { m.apiURL = strings.TrimRight(u, "/") }
}

// WithKeyTTL sets the lifetime of minted keys. Deepgram counts in whole
// seconds.
func WithKeyTTL(ttl time.Duration) KeyOption {
	return func(m *KeyMinter) { m.ttl = ttl }
}

// WithHTTPClient replaces the default traced HTTP client.
func WithHTTPClient(c *http.Client) KeyOption {
	return func(m *KeyMinter) { m.client = c }
}

// WithKeyBreaker guards Mint with cb. Build cb with [IsBreakerFailure] so
// that 4xx answers do not trip it.
func WithKeyBreaker(cb *resilience.CircuitBreaker) KeyOption {
	return func(m *KeyMinter) { m.breaker = cb }
}

// KeyMinter creates ephemeral Deepgram keys through the project keys API.
type KeyMinter struct {
	apiKey    string
	projectID string
	apiURL    string
	ttl       time.Duration
	client    *http.Client
	breaker   *resilience.CircuitBreaker
}

// NewKeyMinter returns a KeyMinter. A minter with an empty apiKey or
// projectID is valid but every Mint call fails with [ErrNotConfigured].
func NewKeyMinter(apiKey, projectID string, opts ...KeyOption) *KeyMinter {
	m := &KeyMinter{
		apiKey:    apiKey,
		projectID: projectID,
		apiURL:    defaultAPIURL,
		ttl:       defaultKeyTTL,
		client:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Configured reports whether both the API key and the project id are set.
func (m *KeyMinter) Configured() bool {
	return m.apiKey != "" && m.projectID != ""
}

// Mint creates a key labelled for userID with listen-only scopes.
//
// Errors: [ErrNotConfigured] without credentials, *[UpstreamError] for a
// non-2xx answer, [resilience.ErrCircuitOpen] while the breaker is open, any
// other error for transport failures.
func (m *KeyMinter) Mint(ctx context.Context, userID string) (EphemeralKey, error) {
	if !m.Configured() {
		return EphemeralKey{}, ErrNotConfigured
	}
	if m.breaker == nil {
		return m.mint(ctx, userID)
	}
	return resilience.Call(m.breaker, func() (EphemeralKey, error) {
		return m.mint(ctx, userID)
	})
}

func (m *KeyMinter) mint(ctx context.Context, userID string) (EphemeralKey, error) {
	ttl := int(m.ttl / time.Second)
	body, err := json.Marshal(struct {
		Comment string   `json:"comment"`
		Scopes  []string `json:"scopes"`
		TTL     int      `json:"time_to_live_in_seconds"`
	}{
		Comment: "blink-ephemeral-" + userID,
		Scopes:  ephemeralScopes,
		TTL:     ttl,
	})
	if err != nil {
		return EphemeralKey{}, fmt.Errorf("deepgram: encode key request: %w", err)
	}

	endpoint := m.apiURL + "/v1/projects/" + url.PathEscape(m.projectID) + "/keys"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return EphemeralKey{}, fmt.Errorf("deepgram: build key request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return EphemeralKey{}, fmt.Errorf("deepgram: mint key: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return EphemeralKey{}, fmt.Errorf("deepgram: read key response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return EphemeralKey{}, &UpstreamError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return EphemeralKey{}, fmt.Errorf("deepgram: decode key response: %w", err)
	}
	return EphemeralKey{Key: out.Key, TTL: ttl}, nil
}

// IsBreakerFailure reports whether err should count against a circuit
// breaker guarding Deepgram. Upstream 4xx answers are the caller's fault.
func IsBreakerFailure(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode >= 500
	}
	return err != nil
}
