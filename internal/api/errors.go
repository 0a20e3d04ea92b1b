package api

import "fmt"

// TransportError wraps a network-level failure (DNS, connect, TLS,
// truncated body). The request layer does not retry these; callers
// decide whether the walk should continue.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthExpiredError reports a 401, or a 403 whose body indicates the
// bearer credential is no longer valid. Retryable tells the walker it
// may retry the same page once after a forced token refresh.
type AuthExpiredError struct {
	URL        string
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("credential rejected by %s: HTTP %d: %s", e.URL, e.StatusCode, e.Message)
}

// HTTPError is any other non-2xx API response, including quota
// rejections the governor failed to prevent.
type HTTPError struct {
	URL        string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("API request %s returned HTTP %d: %s", e.URL, e.StatusCode, e.Message)
}
