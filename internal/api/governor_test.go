package api

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func responseWithQuota(remaining, limit string) *http.Response {
	h := http.Header{}
	if remaining != "" {
		h.Set("X-RateLimit-Remaining", remaining)
	}
	if limit != "" {
		h.Set("X-RateLimit-Limit", limit)
	}
	return &http.Response{Header: h}
}

// recordSleeps replaces the governor's sleep with a recorder.
func recordSleeps(g *Governor) *[]time.Duration {
	var slept []time.Duration
	g.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return &slept
}

func TestGovernorPausesNextCall(t *testing.T) {
	g := NewGovernor(10, 2*time.Second)
	slept := recordSleeps(g)

	// First call goes straight through.
	if err := g.BeforeRequest(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(*slept) != 0 {
		t.Fatalf("slept before any response: %v", *slept)
	}

	g.AfterResponse(responseWithQuota("5", "5000"))

	if err := g.BeforeRequest(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(*slept) != 1 || (*slept)[0] != 2*time.Second {
		t.Errorf("slept = %v, want one 2s pause", *slept)
	}

	// The pause is consumed, not repeated.
	if err := g.BeforeRequest(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(*slept) != 1 {
		t.Errorf("slept = %v, want pause armed only once per low response", *slept)
	}
}

func TestGovernorDisabledWithoutLimit(t *testing.T) {
	g := NewGovernor(0, time.Second)
	slept := recordSleeps(g)

	g.AfterResponse(responseWithQuota("0", "5000"))
	if err := g.BeforeRequest(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(*slept) != 0 {
		t.Errorf("governor slept with throttling disabled: %v", *slept)
	}
}

func TestGovernorQuotaAboveLimit(t *testing.T) {
	g := NewGovernor(10, time.Second)
	slept := recordSleeps(g)

	g.AfterResponse(responseWithQuota("11", "5000"))
	if err := g.BeforeRequest(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(*slept) != 0 {
		t.Errorf("governor slept with quota above the limit: %v", *slept)
	}
}

func TestGovernorMissingHeaders(t *testing.T) {
	g := NewGovernor(10, time.Second)
	slept := recordSleeps(g)

	g.AfterResponse(responseWithQuota("", ""))
	if err := g.BeforeRequest(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(*slept) != 0 {
		t.Errorf("governor slept without quota headers: %v", *slept)
	}
	if got := g.State(); got.Remaining != 0 || got.Limit != 0 {
		t.Errorf("State() = %+v, want zero state preserved", got)
	}
}

func TestGovernorState(t *testing.T) {
	g := NewGovernor(0, 0)
	resp := responseWithQuota("42", "5000")
	resp.Header.Set("X-RateLimit-Reset", "1700000000")
	g.AfterResponse(resp)

	state := g.State()
	if state.Remaining != 42 {
		t.Errorf("Remaining = %d, want 42", state.Remaining)
	}
	if state.Limit != 5000 {
		t.Errorf("Limit = %d, want 5000", state.Limit)
	}
	if state.ResetAt.Unix() != 1700000000 {
		t.Errorf("ResetAt = %v", state.ResetAt)
	}
}

func TestGovernorSleepCancellable(t *testing.T) {
	g := NewGovernor(1, time.Hour)
	g.AfterResponse(responseWithQuota("0", "5000"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := g.BeforeRequest(ctx); err != context.Canceled {
		t.Errorf("BeforeRequest() error = %v, want context.Canceled", err)
	}
}
