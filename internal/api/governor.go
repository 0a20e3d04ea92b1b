package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/spiffcs/ghvault/internal/log"
)

// DefaultThrottlePause is how long the governor waits once the quota
// drops to the throttle limit.
const DefaultThrottlePause = 30 * time.Second

// RateLimitState mirrors the quota headers of the most recent response.
// Advisory only; it is overwritten after every call.
type RateLimitState struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// Governor applies advisory backpressure from GitHub's quota headers.
// It never fails a request: when the remaining quota reaches the
// configured threshold it delays the next outbound call, never the one
// already in flight. With no throttle limit configured it does nothing.
type Governor struct {
	throttleLimit int
	throttlePause time.Duration
	sleep         func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	state   RateLimitState
	pending bool
}

// NewGovernor creates a governor. throttleLimit <= 0 disables pacing;
// throttlePause <= 0 falls back to the 30s default.
func NewGovernor(throttleLimit int, throttlePause time.Duration) *Governor {
	if throttlePause <= 0 {
		throttlePause = DefaultThrottlePause
	}
	return &Governor{
		throttleLimit: throttleLimit,
		throttlePause: throttlePause,
		sleep:         sleepContext,
	}
}

// BeforeRequest pauses when the previous response left the quota at or
// under the throttle limit. The pause is interruptible by context
// cancellation so a multi-hour run can stop promptly.
func (g *Governor) BeforeRequest(ctx context.Context) error {
	g.mu.Lock()
	pending := g.pending
	remaining := g.state.Remaining
	g.pending = false
	g.mu.Unlock()

	if !pending {
		return nil
	}
	log.Info("API quota low, pausing before next request",
		"remaining", remaining, "pause", g.throttlePause)
	return g.sleep(ctx, g.throttlePause)
}

// AfterResponse records the quota headers and arms a pause for the next
// call when the remaining quota is at or under the throttle limit.
func (g *Governor) AfterResponse(resp *http.Response) {
	state, ok := parseRateLimitHeaders(resp)
	if !ok {
		return
	}
	g.mu.Lock()
	g.state = state
	if g.throttleLimit > 0 && state.Remaining <= g.throttleLimit {
		g.pending = true
	}
	g.mu.Unlock()
}

// State returns the most recently observed quota state.
func (g *Governor) State() RateLimitState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func parseRateLimitHeaders(resp *http.Response) (RateLimitState, bool) {
	remainingStr := resp.Header.Get("X-RateLimit-Remaining")
	if remainingStr == "" {
		return RateLimitState{}, false
	}
	remaining, err := strconv.Atoi(remainingStr)
	if err != nil {
		return RateLimitState{}, false
	}

	state := RateLimitState{Remaining: remaining, Limit: -1}
	if limitStr := resp.Header.Get("X-RateLimit-Limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			state.Limit = limit
		}
	}
	if resetStr := resp.Header.Get("X-RateLimit-Reset"); resetStr != "" {
		if reset, err := strconv.ParseInt(resetStr, 10, 64); err == nil {
			state.ResetAt = time.Unix(reset, 0)
		}
	}
	return state, true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
