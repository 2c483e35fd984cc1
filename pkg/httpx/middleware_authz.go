package httpx

import (
	"net/http"
	"slices"
)

// RequireRole lets the request through only when the caller's role claim is
// one of roles. It must run after AuthnMiddleware.
func RequireRole(roles ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !slices.Contains(roles, Role(r.Context())) {
				WriteError(w, APIError{
					StatusCode:  http.StatusForbidden,
					Code:        "forbidden",
					Description: "insufficient role",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
