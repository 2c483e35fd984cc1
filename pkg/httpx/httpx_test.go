package httpx_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/accounts/pkg/httpx"
	"github.com/aussiebroadwan/accounts/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const issuer = "https://accounts.test"

type stubSessions map[string]bool

func (s stubSessions) SessionActive(_ context.Context, token string) bool { return s[token] }

func signedToken(t *testing.T, km *jwtx.KeyManager, sid, role string) string {
	t.Helper()
	tok, err := km.GetSigner().Sign(jwtx.NewAccessClaims(jwtx.AccessClaimsParams{
		Subject: "acct-1",
		Session: sid,
		Role:    role,
		Issuer:  issuer,
		TTL:     time.Minute,
		Now:     time.Now(),
	}))
	require.NoError(t, err)
	return tok
}

func TestAuthnMiddleware(t *testing.T) {
	km, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{Issuer: issuer})
	require.NoError(t, err)

	sessions := stubSessions{"live": true}
	h := httpx.Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "acct-1", httpx.AccountID(r.Context()))
			require.Equal(t, "live", httpx.SessionToken(r.Context()))
			require.Equal(t, "client", httpx.Role(r.Context()))
			c, ok := httpx.Claims(r.Context())
			require.True(t, ok)
			require.Equal(t, issuer, c.Issuer)
			w.WriteHeader(http.StatusNoContent)
		}),
		httpx.AuthnMiddleware(km.Verifier, sessions),
	)

	do := func(authz string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusNoContent, do("Bearer "+signedToken(t, km, "live", "client")).Code)

	rec := do("")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")

	require.Equal(t, http.StatusUnauthorized, do("Bearer junk").Code)
	require.Equal(t, http.StatusUnauthorized, do("Bearer "+signedToken(t, km, "gone", "client")).Code)
}

func TestRequireRole(t *testing.T) {
	km, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{Issuer: issuer})
	require.NoError(t, err)

	h := httpx.Chain(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
		httpx.AuthnMiddleware(km.Verifier, nil),
		httpx.RequireRole("admin"),
	)

	for role, want := range map[string]int{"admin": http.StatusOK, "client": http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signedToken(t, km, "s", role))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, want, rec.Code, role)
	}
}

func TestWriteErrorRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	httpx.WriteError(rec, httpx.APIError{
		StatusCode:  http.StatusLocked,
		Code:        "account_locked",
		Description: "try later",
		RetryAfter:  90*time.Second + time.Millisecond,
	})
	require.Equal(t, http.StatusLocked, rec.Code)
	require.Equal(t, "91", rec.Header().Get("Retry-After"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.JSONEq(t, `{"error":"account_locked","error_description":"try later"}`, rec.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Email string `json:"email"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.c"}`))
	require.NoError(t, httpx.DecodeJSON(req, &dst))
	require.Equal(t, "a@b.c", dst.Email)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.c","x":1}`))
	require.Error(t, httpx.DecodeJSON(req, &dst))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	require.Equal(t, "10.0.0.1", httpx.ClientIP(req, false))
	require.Equal(t, "203.0.113.7", httpx.ClientIP(req, true))

	req.Header.Set("X-Forwarded-For", "garbage")
	require.Equal(t, "10.0.0.1", httpx.ClientIP(req, true))
}

func TestRecover(t *testing.T) {
	h := httpx.Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
