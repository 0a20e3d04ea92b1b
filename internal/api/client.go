// Package api implements the authenticated, rate-limit-governed request
// layer and the pagination walker used for every GitHub REST call.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spiffcs/ghvault/internal/auth"
)

// apiVersion pins the REST version header GitHub asks clients to send.
const apiVersion = "2022-11-28"

const acceptJSON = "application/vnd.github+json"

// TokenSource yields the bearer value attached to outbound requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	// Invalidate discards any cached credential so the next Token call
	// mints a fresh one. No-op for static tokens.
	Invalidate()
}

type staticSource struct {
	token string
}

func (s staticSource) Token(context.Context) (string, error) { return s.token, nil }
func (s staticSource) Invalidate()                           {}

// StaticTokenSource returns a source for a personal access token.
func StaticTokenSource(token string) TokenSource {
	return staticSource{token: token}
}

type installationSource struct {
	cache          *auth.TokenCache
	installationID int64
}

func (s installationSource) Token(ctx context.Context) (string, error) {
	return s.cache.Token(ctx, s.installationID)
}

func (s installationSource) Invalidate() {
	s.cache.Invalidate(s.installationID)
}

// InstallationTokenSource returns a source backed by the installation
// token cache. Every request re-checks token freshness through the
// cache; the cache decides when an exchange is actually needed.
func InstallationTokenSource(cache *auth.TokenCache, installationID int64) TokenSource {
	return installationSource{cache: cache, installationID: installationID}
}

type appSource struct {
	identity auth.AppIdentity
	now      func() time.Time
}

func (s appSource) Token(ctx context.Context) (string, error) {
	return auth.SignAssertion(s.identity.AppID, s.identity.PrivateKeyPEM, s.now())
}

func (s appSource) Invalidate() {}

// AppTokenSource returns a source that signs a fresh app assertion per
// request. Used only for the /app/* endpoints (installation discovery
// and token exchange are app-authenticated, not installation-scoped).
func AppTokenSource(identity auth.AppIdentity) TokenSource {
	return appSource{identity: identity, now: time.Now}
}

// BaseURL returns the REST endpoint for a host: api.github.com for
// github.com, {host}/api/v3 for an Enterprise host.
func BaseURL(host string) string {
	if host == "" || host == "github.com" {
		return "https://api.github.com"
	}
	return "https://" + strings.TrimSuffix(host, "/") + "/api/v3"
}

// Client attaches the current credential to every outbound request and
// routes each call through the rate-limit governor. It performs no
// retries itself; retry policy lives in the walker.
type Client struct {
	baseURL    string
	source     TokenSource
	governor   *Governor
	httpClient *http.Client
	userAgent  string
}

// NewClient builds a request layer against baseURL. governor may be nil
// when no pacing is wanted (tests, one-shot commands).
func NewClient(baseURL string, source TokenSource, governor *Governor, userAgent string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		source:     source,
		governor:   governor,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		userAgent:  userAgent,
	}
}

// SetHTTPClient swaps the underlying transport. Used by tests.
func (c *Client) SetHTTPClient(hc *http.Client) { c.httpClient = hc }

// InvalidateToken forces the next request to mint a fresh credential.
func (c *Client) InvalidateToken() { c.source.Invalidate() }

// Do issues one authenticated JSON API request. path may be absolute or
// relative to the API base. Non-2xx responses are mapped to typed
// errors with the body consumed; 2xx responses return with the body
// open for the caller to drain and close.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values) (*http.Response, error) {
	return c.do(ctx, method, path, query, acceptJSON)
}

// Download issues a GET with an octet-stream accept header, used for
// release assets. GitHub answers with a redirect to S3; net/http drops
// the Authorization header on the cross-host hop, which is required or
// S3 rejects the request.
func (c *Client) Download(ctx context.Context, rawURL string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil, "application/octet-stream")
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, accept string) (*http.Response, error) {
	if c.governor != nil {
		if err := c.governor.BeforeRequest(ctx); err != nil {
			return nil, err
		}
	}

	bearer, err := c.source.Token(ctx)
	if err != nil {
		return nil, err
	}

	u := path
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = c.baseURL + u
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{URL: u, Err: err}
	}

	if c.governor != nil {
		c.governor.AfterResponse(resp)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	msg := errorMessage(body)

	if resp.StatusCode == http.StatusUnauthorized ||
		(resp.StatusCode == http.StatusForbidden && credentialRejected(msg)) {
		return nil, &AuthExpiredError{URL: u, StatusCode: resp.StatusCode, Message: msg, Retryable: true}
	}
	return nil, &HTTPError{URL: u, StatusCode: resp.StatusCode, Message: msg}
}

// errorMessage extracts the "message" field from a GitHub error body.
func errorMessage(body []byte) string {
	var payload struct {
		Message          string `json:"message"`
		DocumentationURL string `json:"documentation_url"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		if payload.DocumentationURL != "" {
			return payload.Message + " (see: " + payload.DocumentationURL + ")"
		}
		return payload.Message
	}
	return strings.TrimSpace(string(body))
}

// credentialRejected distinguishes an expired/invalid credential 403
// from permission or quota 403s, which must not trigger a refresh.
func credentialRejected(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "bad credentials") || strings.Contains(m, "expired")
}
