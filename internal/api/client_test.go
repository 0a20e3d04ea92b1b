package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBaseURL(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"", "https://api.github.com"},
		{"github.com", "https://api.github.com"},
		{"github.example.com", "https://github.example.com/api/v3"},
		{"github.example.com/", "https://github.example.com/api/v3"},
	}
	for _, tt := range tests {
		if got := BaseURL(tt.host); got != tt.want {
			t.Errorf("BaseURL(%q) = %q, want %q", tt.host, got, tt.want)
		}
	}
}

func TestDoSetsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok123" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/vnd.github+json" {
			t.Errorf("Accept = %q", got)
		}
		if got := r.Header.Get("X-GitHub-Api-Version"); got != apiVersion {
			t.Errorf("X-GitHub-Api-Version = %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != "test-agent" {
			t.Errorf("User-Agent = %q", got)
		}
		fmt.Fprint(w, "{}")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticTokenSource("tok123"), nil, "test-agent")
	resp, err := c.Do(context.Background(), http.MethodGet, "/user", nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()
}

func TestDoMapsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message": "Bad credentials"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticTokenSource("tok"), nil, "test")
	_, err := c.Do(context.Background(), http.MethodGet, "/user", nil)

	var authErr *AuthExpiredError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want AuthExpiredError", err)
	}
	if !authErr.Retryable {
		t.Error("401 should be retryable after a token refresh")
	}
}

func TestDoForbiddenCredentialRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message": "Bad credentials"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticTokenSource("tok"), nil, "test")
	_, err := c.Do(context.Background(), http.MethodGet, "/user", nil)

	var authErr *AuthExpiredError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want AuthExpiredError for credential 403", err)
	}
}

func TestDoForbiddenQuotaStaysHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message": "API rate limit exceeded for installation"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticTokenSource("tok"), nil, "test")
	_, err := c.Do(context.Background(), http.MethodGet, "/user", nil)

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v, want plain HTTPError for a quota 403", err)
	}
	var authErr *AuthExpiredError
	if errors.As(err, &authErr) {
		t.Error("quota 403 must not trigger a token refresh")
	}
}

func TestDoNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found", "documentation_url": "https://docs.github.com"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticTokenSource("tok"), nil, "test")
	_, err := c.Do(context.Background(), http.MethodGet, "/repos/o/missing", nil)

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v, want HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", httpErr.StatusCode)
	}
}

func TestDoTransportError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", StaticTokenSource("tok"), nil, "test")
	_, err := c.Do(context.Background(), http.MethodGet, "/user", nil)

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("error = %v, want TransportError", err)
	}
}

func TestDoAbsoluteURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "{}")
	}))
	defer srv.Close()

	// Absolute URLs (e.g. assets_url values) bypass the base URL.
	c := NewClient("https://api.github.com", StaticTokenSource("tok"), nil, "test")
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/absolute", nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()
}

func TestDownloadAcceptHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/octet-stream" {
			t.Errorf("Accept = %q, want octet-stream", got)
		}
		fmt.Fprint(w, "binary")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticTokenSource("tok"), nil, "test")
	resp, err := c.Download(context.Background(), srv.URL+"/asset")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	resp.Body.Close()
}

func TestCredentialRejected(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"Bad credentials", true},
		{"This installation access token has expired", true},
		{"Resource not accessible by integration", false},
		{"API rate limit exceeded", false},
	}
	for _, tt := range tests {
		if got := credentialRejected(tt.msg); got != tt.want {
			t.Errorf("credentialRejected(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}
