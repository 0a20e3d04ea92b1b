package auth

import "fmt"

// ConfigurationError reports that no usable credential could be
// assembled from flags, environment, or config. It is fatal and raised
// before any network call is made.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "credential configuration: " + e.Reason
}

// KeyReadError reports that a private key file could not be read.
type KeyReadError struct {
	Path string
	Err  error
}

func (e *KeyReadError) Error() string {
	return fmt.Sprintf("read private key %s: %v", e.Path, e.Err)
}

func (e *KeyReadError) Unwrap() error { return e.Err }

// SigningError reports that the private key could not be parsed as PEM
// (PKCS#1 or PKCS#8) or that signing the assertion failed.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("sign app assertion: %v", e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// TokenExchangeError reports that GitHub rejected an installation token
// request. Fatal for that installation's backup, not for the run.
type TokenExchangeError struct {
	InstallationID int64
	StatusCode     int
	Message        string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange for installation %d failed: HTTP %d: %s",
		e.InstallationID, e.StatusCode, e.Message)
}
