package auth_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/config"
	"ms-marketplace/internal/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, sub string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub})
	raw, err := token.SignedString([]byte("irrelevant"))
	require.NoError(t, err)
	return raw
}

func TestUnverifiedSubject(t *testing.T) {
	sub, err := auth.UnverifiedSubject(signedToken(t, "organizer-42"))
	require.NoError(t, err)
	assert.Equal(t, "organizer-42", sub)

	_, err = auth.UnverifiedSubject("")
	assert.ErrorIs(t, err, auth.ErrMissingToken)

	_, err = auth.UnverifiedSubject("not.a.jwt")
	assert.Error(t, err)

	_, err = auth.UnverifiedSubject(signedToken(t, ""))
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := auth.BearerToken(req)
	assert.ErrorIs(t, err, auth.ErrMissingToken)

	for _, header := range []string{"Basic abc", "Bearer", "Bearer a b"} {
		req.Header.Set("Authorization", header)
		_, err = auth.BearerToken(req)
		assert.ErrorIs(t, err, auth.ErrMalformedHeader, header)
	}

	req.Header.Set("Authorization", "bearer abc")
	token, err := auth.BearerToken(req)
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
}

func TestBearerToken_QueryParamOnlyForGet(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/stream?access_token=xyz", nil)
	token, err := auth.BearerToken(req)
	require.NoError(t, err)
	assert.Equal(t, "xyz", token)

	req.Header.Set("Authorization", "Bearer abc")
	token, err = auth.BearerToken(req)
	require.NoError(t, err)
	assert.Equal(t, "abc", token, "the header wins")

	post := httptest.NewRequest(http.MethodPost, "/cancel?access_token=xyz", nil)
	_, err = auth.BearerToken(post)
	assert.ErrorIs(t, err, auth.ErrMissingToken)
}

func TestMiddleware_InsecureMode(t *testing.T) {
	log := logger.NewLoggerWithWriter(io.Discard)
	mw, err := auth.Middleware(context.Background(), config.AuthConfig{Insecure: true}, log)
	require.NoError(t, err)

	var seen string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/organizer/x", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "scanner-1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "scanner-1", seen)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/organizer/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
