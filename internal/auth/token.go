package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken    = errors.New("authorization header is missing")
	ErrMalformedHeader = errors.New("authorization header format must be 'Bearer {token}'")
)

// BearerToken returns the raw token of a request. Browsers cannot set headers
// on an EventSource, so GET requests may pass it as ?access_token= instead.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if r.Method == http.MethodGet {
			if raw := r.URL.Query().Get("access_token"); raw != "" {
				return raw, nil
			}
		}
		return "", ErrMissingToken
	}

	scheme, raw, ok := strings.Cut(strings.TrimSpace(header), " ")
	raw = strings.TrimSpace(raw)
	if !ok || !strings.EqualFold(scheme, "Bearer") || raw == "" || strings.ContainsAny(raw, " \t") {
		return "", ErrMalformedHeader
	}
	return raw, nil
}

// UnverifiedSubject reads the sub claim without checking the signature.
// Only the insecure development mode relies on it.
func UnverifiedSubject(raw string) (string, error) {
	if raw == "" {
		return "", ErrMissingToken
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("subject claim not found in token")
	}
	return sub, nil
}
