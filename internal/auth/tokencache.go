package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/spiffcs/ghvault/internal/log"
)

// refreshBuffer is how long before expiry a cached token is treated as
// stale. GitHub tokens live an hour; refreshing five minutes early
// keeps a multi-page walk from straddling the expiry.
const refreshBuffer = 5 * time.Minute

// InstallationToken is a scoped, time-limited bearer credential for one
// installation. Entries are replaced, never mutated, and never written
// to disk.
type InstallationToken struct {
	Value     string
	ExpiresAt time.Time
}

// TokenCache exchanges signed assertions for installation access tokens
// and caches them per installation ID. Concurrent callers for the same
// installation share a single exchange; different installations are
// independent.
type TokenCache struct {
	identity   AppIdentity
	baseURL    string
	httpClient *http.Client
	userAgent  string
	now        func() time.Time

	mu     sync.Mutex
	tokens map[int64]InstallationToken
	group  singleflight.Group
}

// NewTokenCache creates a cache for one App identity against one API
// base URL (https://api.github.com or an Enterprise /api/v3 base).
func NewTokenCache(identity AppIdentity, baseURL, userAgent string, httpClient *http.Client) *TokenCache {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenCache{
		identity:   identity,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		userAgent:  userAgent,
		now:        time.Now,
		tokens:     make(map[int64]InstallationToken),
	}
}

// Token returns a currently valid token for the installation, minting a
// new one only when no cached token exists or the cached one is inside
// the refresh buffer. The staleness check runs before every call; there
// is no background renewal.
func (c *TokenCache) Token(ctx context.Context, installationID int64) (string, error) {
	if tok, ok := c.cached(installationID); ok {
		return tok.Value, nil
	}

	v, err, _ := c.group.Do(strconv.FormatInt(installationID, 10), func() (any, error) {
		// Another caller may have refreshed while we waited on the key.
		if tok, ok := c.cached(installationID); ok {
			return tok, nil
		}
		tok, err := c.exchange(ctx, installationID)
		if err != nil {
			return InstallationToken{}, err
		}
		c.mu.Lock()
		c.tokens[installationID] = tok
		c.mu.Unlock()
		log.Debug("minted installation token",
			"installation", installationID,
			"expires_at", tok.ExpiresAt.Format(time.RFC3339))
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(InstallationToken).Value, nil
}

// Invalidate drops the cached token so the next Token call performs a
// fresh exchange. Used for the walker's single forced-refresh retry.
func (c *TokenCache) Invalidate(installationID int64) {
	c.mu.Lock()
	delete(c.tokens, installationID)
	c.mu.Unlock()
}

func (c *TokenCache) cached(installationID int64) (InstallationToken, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, ok := c.tokens[installationID]
	if !ok || c.stale(tok) {
		return InstallationToken{}, false
	}
	return tok, true
}

// stale compares in UTC only. The expiry is an absolute UTC timestamp
// from the server; mixing zones here is the classic way this check
// silently rots.
func (c *TokenCache) stale(tok InstallationToken) bool {
	return !c.now().UTC().Before(tok.ExpiresAt.UTC().Add(-refreshBuffer))
}

// exchange signs a fresh assertion and posts it to the installation
// token endpoint. Errors are surfaced, not retried.
func (c *TokenCache) exchange(ctx context.Context, installationID int64) (InstallationToken, error) {
	assertion, err := SignAssertion(c.identity.AppID, c.identity.PrivateKeyPEM, c.now())
	if err != nil {
		return InstallationToken{}, err
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", c.baseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(""))
	if err != nil {
		return InstallationToken{}, err
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return InstallationToken{}, fmt.Errorf("token exchange for installation %d: %w", installationID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return InstallationToken{}, fmt.Errorf("token exchange for installation %d: read response: %w", installationID, err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return InstallationToken{}, &TokenExchangeError{
			InstallationID: installationID,
			StatusCode:     resp.StatusCode,
			Message:        apiErrorMessage(body),
		}
	}

	var payload struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return InstallationToken{}, fmt.Errorf("token exchange for installation %d: decode response: %w", installationID, err)
	}
	if payload.Token == "" {
		return InstallationToken{}, fmt.Errorf("token exchange for installation %d: empty token in response", installationID)
	}

	return InstallationToken{Value: payload.Token, ExpiresAt: payload.ExpiresAt.UTC()}, nil
}

// apiErrorMessage extracts the "message" field GitHub puts in error
// bodies, falling back to the raw body.
func apiErrorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(body))
}
