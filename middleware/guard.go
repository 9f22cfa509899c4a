package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/casework/authcore"
)

// Validator verifies an access token. *authcore.Engine implements it.
type Validator interface {
	Validate(ctx context.Context, accessToken string) (*authcore.Claims, error)
}

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by Guard.
func ClaimsFromContext(ctx context.Context) (*authcore.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*authcore.Claims)
	return claims, ok && claims != nil
}

// WithClaims stores claims in ctx the way Guard does. Handlers under test use it.
func WithClaims(ctx context.Context, claims *authcore.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// Guard rejects requests without a valid bearer access token. Every rejection is a
// plain 401 except a revocation store outage, which is a 503.
func Guard(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="authcore"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.Validate(r.Context(), token)
			if err != nil {
				if errors.Is(err, authcore.ErrRevocationUnavailable) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="authcore", error="invalid_token"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// BearerToken extracts the token from an Authorization header value. The scheme is
// matched case-insensitively.
func BearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
