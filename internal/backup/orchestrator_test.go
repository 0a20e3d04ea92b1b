package backup

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spiffcs/ghvault/internal/auth"
)

func testAppIdentity(t *testing.T) auth.AppIdentity {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return auth.AppIdentity{AppID: 1, PrivateKeyPEM: pemBytes}
}

// newStaticRunner builds a runner over a static token pointed at srv.
func newStaticRunner(srv *httptest.Server, opts Options) *Runner {
	r := NewRunner(auth.StaticToken{Value: "ghp_test"}, opts)
	r.baseURL = srv.URL
	return r
}

func TestPlanStaticToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/repos" {
			t.Errorf("path = %s, want /user/repos for a static token", r.URL.Path)
		}
		fmt.Fprint(w, `[
			{"name": "alpha", "full_name": "me/alpha", "owner": {"login": "me"}},
			{"name": "beta", "full_name": "me/beta", "owner": {"login": "me"}}
		]`)
	}))
	defer srv.Close()

	runner := newStaticRunner(srv, Options{})
	plan, err := runner.Plan(context.Background())
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(plan) != 1 {
		t.Fatalf("plan entries = %d, want 1", len(plan))
	}
	if plan[0].Account != "authenticated user" {
		t.Errorf("account = %q", plan[0].Account)
	}
	if len(plan[0].Repositories) != 2 {
		t.Errorf("repositories = %v", plan[0].Repositories)
	}
}

func TestPlanAppliesFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"name": "alpha", "full_name": "me/alpha", "owner": {"login": "me"}},
			{"name": "beta", "full_name": "me/beta", "owner": {"login": "me"}}
		]`)
	}))
	defer srv.Close()

	runner := newStaticRunner(srv, Options{Filters: Filters{Repository: "beta"}})
	plan, err := runner.Plan(context.Background())
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(plan[0].Repositories) != 1 || plan[0].Repositories[0] != "me/beta" {
		t.Errorf("repositories = %v, want only me/beta", plan[0].Repositories)
	}
}

func TestRunCountsRepositories(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"name": "alpha", "full_name": "me/alpha", "owner": {"login": "me"}},
			{"name": "beta", "full_name": "me/beta", "owner": {"login": "me"}}
		]`)
	}))
	defer srv.Close()

	// No artifacts selected: each repository is a no-op success.
	runner := newStaticRunner(srv, Options{OutputDir: t.TempDir()})
	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Accounts != 1 {
		t.Errorf("Accounts = %d, want 1", summary.Accounts)
	}
	if summary.Repositories != 2 {
		t.Errorf("Repositories = %d, want 2", summary.Repositories)
	}
	if len(summary.Failures) != 0 {
		t.Errorf("Failures = %v", summary.Failures)
	}
}

func TestRunNoProgressIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"message": "boom"}`)
	}))
	defer srv.Close()

	runner := newStaticRunner(srv, Options{OutputDir: t.TempDir()})
	summary, err := runner.Run(context.Background())
	if err == nil {
		t.Fatal("Run() error = nil, want failure when nothing succeeded")
	}
	if summary == nil || len(summary.Failures) != 1 {
		t.Fatalf("summary = %+v, want one recorded failure", summary)
	}
}

func TestDiscoverInstallations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/app/installations" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Error("discovery request missing app assertion")
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": 11, "account": map[string]string{"login": "acme", "type": "Organization"}, "repository_selection": "all"},
			{"id": 12, "account": map[string]string{"login": "octocat", "type": "User"}, "repository_selection": "selected"},
		})
	}))
	defer srv.Close()

	runner := NewRunner(testAppIdentity(t), Options{})
	runner.baseURL = srv.URL

	installations, err := runner.DiscoverInstallations(context.Background())
	if err != nil {
		t.Fatalf("DiscoverInstallations() error = %v", err)
	}
	if len(installations) != 2 {
		t.Fatalf("installations = %d, want 2", len(installations))
	}
	if installations[0].ID != 11 || installations[0].Account.Login != "acme" {
		t.Errorf("first installation = %+v", installations[0])
	}
}

func TestDiscoverInstallationsRequiresApp(t *testing.T) {
	runner := NewRunner(auth.StaticToken{Value: "ghp_test"}, Options{})
	if _, err := runner.DiscoverInstallations(context.Background()); err == nil {
		t.Fatal("DiscoverInstallations() accepted a static token")
	}
}

func TestTargetsUserFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": 11, "account": map[string]string{"login": "acme"}},
			{"id": 12, "account": map[string]string{"login": "octocat"}},
		})
	}))
	defer srv.Close()

	runner := NewRunner(testAppIdentity(t), Options{Users: []string{"OCTOCAT"}})
	runner.baseURL = srv.URL

	targets, err := runner.targets(context.Background())
	if err != nil {
		t.Fatalf("targets() error = %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("targets = %d, want 1 after user filter", len(targets))
	}
	if targets[0].installationID != 12 {
		t.Errorf("installationID = %d, want 12", targets[0].installationID)
	}
}

func TestTargetsDirectInstallation(t *testing.T) {
	identity := testAppIdentity(t)
	identity.InstallationID = 77

	runner := NewRunner(identity, Options{})
	targets, err := runner.targets(context.Background())
	if err != nil {
		t.Fatalf("targets() error = %v", err)
	}
	if len(targets) != 1 || targets[0].installationID != 77 {
		t.Errorf("targets = %+v, want the configured installation only", targets)
	}
}

func TestTargetLabel(t *testing.T) {
	tests := []struct {
		target target
		want   string
	}{
		{target{account: Account{Login: "acme"}}, "acme"},
		{target{installationID: 42}, "installation 42"},
		{target{}, "authenticated user"},
	}
	for _, tt := range tests {
		if got := tt.target.label(); got != tt.want {
			t.Errorf("label() = %q, want %q", got, tt.want)
		}
	}
}

func TestContainsFold(t *testing.T) {
	values := []string{"Acme", "octocat"}
	if !containsFold(values, "ACME") {
		t.Error("containsFold case-insensitive match failed")
	}
	if containsFold(values, "other") {
		t.Error("containsFold matched a missing value")
	}
}
