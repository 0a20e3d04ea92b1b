// Package auth resolves GitHub credentials and mints short-lived
// installation access tokens for GitHub App identities.
package auth

import (
	"os"
	"strconv"
	"strings"
)

const fileURIPrefix = "file://"

// Credential is the identity the agent runs as: either a static
// personal token or a GitHub App identity. Resolved once at startup and
// immutable afterwards.
type Credential interface {
	credential()
}

// StaticToken is a classic or fine-grained personal access token.
type StaticToken struct {
	Value string
}

func (StaticToken) credential() {}

// AppIdentity is a GitHub App ID plus its RSA private key in PEM form.
// InstallationID is optional; when zero, installations are discovered
// through the API.
type AppIdentity struct {
	AppID          int64
	PrivateKeyPEM  []byte
	InstallationID int64
}

func (AppIdentity) credential() {}

// ResolveOptions carries the raw credential inputs from flags and
// config. Empty fields fall back to the environment.
type ResolveOptions struct {
	Token          string
	AppID          string
	PrivateKey     string // literal PEM, file:// URI, or path
	InstallationID int64
}

// ResolveCredential builds a Credential from flags and environment. An
// App identity takes precedence over a static token when both are
// present, matching the original agent's behavior.
func ResolveCredential(opts ResolveOptions) (Credential, error) {
	token := opts.Token
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	appID := opts.AppID
	if appID == "" {
		appID = os.Getenv("GITHUB_APP_ID")
	}
	key := opts.PrivateKey
	if key == "" {
		key = os.Getenv("GITHUB_APP_PRIVATE_KEY")
	}
	installationID := opts.InstallationID
	if installationID == 0 {
		if v := os.Getenv("GITHUB_APP_INSTALLATION_ID"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, &ConfigurationError{Reason: "GITHUB_APP_INSTALLATION_ID is not a number: " + v}
			}
			installationID = id
		}
	}

	if appID != "" || key != "" {
		if appID == "" {
			return nil, &ConfigurationError{Reason: "--private-key given without --app-id"}
		}
		if key == "" {
			return nil, &ConfigurationError{Reason: "--app-id given without --private-key"}
		}
		id, err := strconv.ParseInt(appID, 10, 64)
		if err != nil {
			return nil, &ConfigurationError{Reason: "app ID is not a number: " + appID}
		}
		pem, err := loadPrivateKey(key)
		if err != nil {
			return nil, err
		}
		return AppIdentity{AppID: id, PrivateKeyPEM: pem, InstallationID: installationID}, nil
	}

	if token != "" {
		return StaticToken{Value: token}, nil
	}

	return nil, &ConfigurationError{
		Reason: "no credential: set --token (or GITHUB_TOKEN), or --app-id and --private-key",
	}
}

// loadPrivateKey returns PEM bytes from a literal value, a file:// URI,
// or an existing file path. The whole file is read; PEM keys span many
// lines.
func loadPrivateKey(value string) ([]byte, error) {
	if strings.HasPrefix(value, fileURIPrefix) {
		return readKeyFile(strings.TrimPrefix(value, fileURIPrefix))
	}
	if strings.HasPrefix(value, "-----BEGIN") {
		return []byte(value), nil
	}
	// A bare path is accepted as a convenience; anything else is
	// treated as literal PEM and rejected later by the signer.
	if info, err := os.Stat(value); err == nil && !info.IsDir() {
		return readKeyFile(value)
	}
	return []byte(value), nil
}

func readKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &KeyReadError{Path: path, Err: err}
	}
	return data, nil
}
