package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const tokenTTL = time.Hour

// newExchangeServer returns a server that mints tokens for any
// installation and counts the exchanges it performs.
func newExchangeServer(t *testing.T, now func() time.Time, exchanges *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Error("missing Bearer assertion on exchange request")
		}
		n := exchanges.Add(1)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"token":      fmt.Sprintf("ghs_tok%d", n),
			"expires_at": now().Add(tokenTTL).UTC().Format(time.RFC3339),
		})
	}))
}

func newTestCache(t *testing.T, baseURL string, now *time.Time) *TokenCache {
	t.Helper()
	_, pemBytes := generateTestKey(t)
	cache := NewTokenCache(AppIdentity{AppID: 1, PrivateKeyPEM: pemBytes}, baseURL, "test", nil)
	cache.now = func() time.Time { return *now }
	return cache
}

func TestTokenCacheReuse(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var exchanges atomic.Int64
	srv := newExchangeServer(t, func() time.Time { return now }, &exchanges)
	defer srv.Close()

	cache := newTestCache(t, srv.URL, &now)

	first, err := cache.Token(context.Background(), 7)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	// Well inside the validity window: no new exchange.
	now = now.Add(30 * time.Minute)
	second, err := cache.Token(context.Background(), 7)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if second != first {
		t.Errorf("token changed inside validity window: %q -> %q", first, second)
	}
	if got := exchanges.Load(); got != 1 {
		t.Errorf("exchanges = %d, want 1", got)
	}
}

func TestTokenCacheRefreshInsideBuffer(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var exchanges atomic.Int64
	srv := newExchangeServer(t, func() time.Time { return now }, &exchanges)
	defer srv.Close()

	cache := newTestCache(t, srv.URL, &now)

	first, err := cache.Token(context.Background(), 7)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	// 55m into a 60m token: inside the 5 minute refresh buffer.
	now = now.Add(55 * time.Minute)
	second, err := cache.Token(context.Background(), 7)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if second == first {
		t.Error("token not refreshed inside the expiry buffer")
	}
	if got := exchanges.Load(); got != 2 {
		t.Errorf("exchanges = %d, want 2", got)
	}
}

func TestTokenCachePerInstallation(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var exchanges atomic.Int64
	srv := newExchangeServer(t, func() time.Time { return now }, &exchanges)
	defer srv.Close()

	cache := newTestCache(t, srv.URL, &now)

	a, err := cache.Token(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	b, err := cache.Token(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("different installations shared one token")
	}
	if got := exchanges.Load(); got != 2 {
		t.Errorf("exchanges = %d, want 2", got)
	}
}

func TestTokenCacheInvalidate(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var exchanges atomic.Int64
	srv := newExchangeServer(t, func() time.Time { return now }, &exchanges)
	defer srv.Close()

	cache := newTestCache(t, srv.URL, &now)

	first, err := cache.Token(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	cache.Invalidate(7)
	second, err := cache.Token(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Error("Invalidate did not force a fresh exchange")
	}
}

func TestTokenCacheSingleFlight(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var exchanges atomic.Int64
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"token":      "ghs_shared",
			"expires_at": now.Add(tokenTTL).UTC().Format(time.RFC3339),
		})
	}))
	defer slow.Close()

	cache := newTestCache(t, slow.URL, &now)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Token(context.Background(), 7); err != nil {
				t.Errorf("Token() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := exchanges.Load(); got != 1 {
		t.Errorf("exchanges = %d, want 1 shared across concurrent callers", got)
	}
}

func TestTokenCacheExchangeError(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"message": "A JSON web token could not be decoded"})
	}))
	defer srv.Close()

	cache := newTestCache(t, srv.URL, &now)

	_, err := cache.Token(context.Background(), 7)
	var exchErr *TokenExchangeError
	if !errors.As(err, &exchErr) {
		t.Fatalf("error = %v, want TokenExchangeError", err)
	}
	if exchErr.InstallationID != 7 {
		t.Errorf("InstallationID = %d, want 7", exchErr.InstallationID)
	}
	if exchErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", exchErr.StatusCode)
	}
	if !strings.Contains(exchErr.Message, "could not be decoded") {
		t.Errorf("Message = %q", exchErr.Message)
	}
}
