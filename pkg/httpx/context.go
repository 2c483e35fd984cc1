package httpx

import (
	"context"

	"github.com/aussiebroadwan/accounts/pkg/jwtx"
)

type ctxKey string

const (
	CtxKeyAccountID ctxKey = "account_id"
	CtxKeyRole      ctxKey = "role"
	CtxKeySessionID ctxKey = "sid"
	CtxKeyClaims    ctxKey = "claims"
)

func contextWithAuth(ctx context.Context, c jwtx.Claims) context.Context {
	ctx = context.WithValue(ctx, CtxKeyAccountID, c.Subject)
	ctx = context.WithValue(ctx, CtxKeyRole, c.Role)
	ctx = context.WithValue(ctx, CtxKeySessionID, c.SID)
	ctx = context.WithValue(ctx, CtxKeyClaims, c)
	return ctx
}

// AccountID returns the authenticated account ID, or "" when unauthenticated.
func AccountID(ctx context.Context) string {
	v, _ := ctx.Value(CtxKeyAccountID).(string)
	return v
}

// Role returns the role claim of the authenticated caller.
func Role(ctx context.Context) string {
	v, _ := ctx.Value(CtxKeyRole).(string)
	return v
}

// SessionToken returns the session token the access token was issued for.
func SessionToken(ctx context.Context) string {
	v, _ := ctx.Value(CtxKeySessionID).(string)
	return v
}

// Claims returns the full verified claims.
func Claims(ctx context.Context) (jwtx.Claims, bool) {
	c, ok := ctx.Value(CtxKeyClaims).(jwtx.Claims)
	return c, ok
}
