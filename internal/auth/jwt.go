package auth

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// GitHub caps app assertion lifetime at 10 minutes; stay inside it.
	assertionTTL = 9 * time.Minute
	// iat is backdated to tolerate clock drift against GitHub's servers.
	clockSkew = 60 * time.Second
)

// SignAssertion builds the short-lived RS256 assertion that is
// exchanged for an installation access token. It is deterministic for a
// fixed now and holds no state; each refresh cycle signs a fresh one.
func SignAssertion(appID int64, privateKeyPEM []byte, now time.Time) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return "", &SigningError{Err: err}
	}

	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-clockSkew)),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionTTL)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", &SigningError{Err: err}
	}
	return signed, nil
}
