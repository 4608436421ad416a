package auth

import (
	"context"
	"fmt"
	"net/http"

	"ms-marketplace/internal/config"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/utils"

	"github.com/coreos/go-oidc/v3/oidc"
)

type contextKey string

const userIDKey contextKey = "user_id"

// verifyFunc turns a raw bearer token into the caller's subject.
type verifyFunc func(ctx context.Context, rawToken string) (string, error)

// Middleware authenticates organizer and scanner requests. With cfg.Insecure
// the token's sub claim is trusted as-is.
func Middleware(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.Insecure {
		log.LogSecurity("AUTH_INSECURE", "Bearer tokens are NOT verified; do not run this way in production")
		return middleware(func(_ context.Context, raw string) (string, error) {
			return UnverifiedSubject(raw)
		}, log), nil
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	// SkipClientIDCheck → tokens from any client of the realm are accepted
	verifier := provider.Verifier(&oidc.Config{
		SkipClientIDCheck: true,
	})

	return middleware(func(ctx context.Context, raw string) (string, error) {
		idToken, err := verifier.Verify(ctx, raw)
		if err != nil {
			return "", err
		}
		var claims struct {
			Sub string `json:"sub"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return "", fmt.Errorf("failed to parse claims: %w", err)
		}
		return claims.Sub, nil
	}, log), nil
}

func middleware(verify verifyFunc, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := BearerToken(r)
			if err != nil {
				utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Authorization required", err.Error()))
				return
			}

			sub, err := verify(r.Context(), rawToken)
			if err != nil || sub == "" {
				log.LogSecurity("INVALID_TOKEN", fmt.Sprintf("%s %s rejected", r.Method, r.URL.Path))
				utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Invalid token", "token could not be verified"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), sub)))
		})
	}
}

// WithUserID stores the authenticated subject in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// Helper to extract user ID in handlers
func UserID(ctx context.Context) string {
	if uid, ok := ctx.Value(userIDKey).(string); ok {
		return uid
	}
	return ""
}
