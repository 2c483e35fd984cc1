package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/accounts/pkg/jwtx"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
)

// SessionChecker reports whether the session behind an access token is
// still live. Logging out must invalidate outstanding access tokens.
type SessionChecker interface {
	SessionActive(ctx context.Context, sessionToken string) bool
}

// AuthnMiddleware verifies the bearer token and injects its claims into the
// request context. When sessions is non-nil the token's sid must also be live.
func AuthnMiddleware(v jwtx.Verifier, sessions SessionChecker) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				writeBearerError(w, "missing bearer token")
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))

			claims, err := v.Verify(raw)
			if err != nil {
				log.Warn("jwt verify failed", "err", err)
				writeBearerError(w, "token verification failed")
				return
			}

			if sessions != nil && !sessions.SessionActive(ctx, claims.SID) {
				writeBearerError(w, "session is no longer active")
				return
			}

			ctx = contextWithAuth(ctx, claims)
			ctx = slogx.WithContext(ctx, log.With("account_id", claims.Subject))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RFC 6750-compliant error response for bearer auth.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	WriteError(w, APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        "invalid_token",
		Description: desc,
	})
}
