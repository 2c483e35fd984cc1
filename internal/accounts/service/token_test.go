package service

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/audit"
	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func login(t *testing.T, env *testEnv, email string) LoginResult {
	t.Helper()
	res, err := env.Auth.Authenticate(context.Background(), loginReq(email, testPassword))
	require.NoError(t, err)
	return res
}

func TestRefreshRotates(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "a@x.com")
	res := login(t, env, "a@x.com")

	env.Clock.Advance(time.Minute)
	pair, err := env.Auth.RefreshTokens(ctx, res.Tokens.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, res.Tokens.RefreshToken, pair.RefreshToken)
	require.NotEqual(t, res.Tokens.AccessToken, pair.AccessToken)

	v := env.Keys.Verifier.(*jwtx.EdDSAVerifier)
	v.Now = env.Clock.Now
	claims, err := v.Verify(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, res.Session.Token, claims.SID)

	// The rotated token is itself usable.
	_, err = env.Auth.RefreshTokens(ctx, pair.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshReuseEndsSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "a@x.com")
	res := login(t, env, "a@x.com")

	pair, err := env.Auth.RefreshTokens(ctx, res.Tokens.RefreshToken)
	require.NoError(t, err)

	_, err = env.Auth.RefreshTokens(ctx, res.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	sess, err := env.Sessions.ValidateSession(ctx, res.Session.Token)
	require.NoError(t, err)
	require.Nil(t, sess)

	_, err = env.Auth.RefreshTokens(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	rejected := env.Audit.OfType(audit.RefreshTokenRejected)
	require.NotEmpty(t, rejected)
	require.Equal(t, "reuse", rejected[0].Metadata["reason"])

	row, err := env.Store.Sessions().GetSessionByToken(ctx, res.Session.Token)
	require.NoError(t, err)
	require.Equal(t, domain.TerminatedRefreshReuse, row.TerminatedReason)

	terminated := env.Audit.OfType(audit.SessionTerminated)
	require.Len(t, terminated, 1)
	require.Equal(t, res.Session.ID, terminated[0].SessionID)
	require.Equal(t, domain.TerminatedRefreshReuse, terminated[0].Metadata["reason"])
}

func TestRefreshSlidesSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "a@x.com")
	res := login(t, env, "a@x.com")

	// A client refreshing every four hours outlives the 24h session TTL.
	refresh := res.Tokens.RefreshToken
	for range 12 {
		env.Clock.Advance(4 * time.Hour)
		pair, err := env.Auth.RefreshTokens(ctx, refresh)
		require.NoError(t, err)
		refresh = pair.RefreshToken
	}

	row, err := env.Store.Sessions().GetSessionByToken(ctx, res.Session.Token)
	require.NoError(t, err)
	require.True(t, row.Live(env.Clock.Now()))
	require.True(t, row.ExpiresAt.After(env.Clock.Now().Add(12*time.Hour)))

	// Idle past the TTL and it ends.
	env.Clock.Advance(25 * time.Hour)
	_, err = env.Auth.RefreshTokens(ctx, refresh)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefreshRejects(t *testing.T) {
	t.Parallel()

	t.Run("unknown token", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		_, err := env.Auth.RefreshTokens(context.Background(), "not-a-token")
		require.ErrorIs(t, err, ErrInvalidRefreshToken)
	})

	t.Run("expired token", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		env.register(t, "a@x.com")
		req := loginReq("a@x.com", testPassword)
		req.RememberMe = true
		res, err := env.Auth.Authenticate(context.Background(), req)
		require.NoError(t, err)

		env.Clock.Advance(7*24*time.Hour + time.Second)
		_, err = env.Auth.RefreshTokens(context.Background(), res.Tokens.RefreshToken)
		require.ErrorIs(t, err, ErrInvalidRefreshToken)
	})

	t.Run("revoked token", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		env.register(t, "a@x.com")
		res := login(t, env, "a@x.com")

		require.NoError(t, env.Tokens.RevokeRefreshToken(context.Background(), res.Tokens.RefreshToken))
		require.NoError(t, env.Tokens.RevokeRefreshToken(context.Background(), res.Tokens.RefreshToken))

		_, err := env.Auth.RefreshTokens(context.Background(), res.Tokens.RefreshToken)
		require.ErrorIs(t, err, ErrInvalidRefreshToken)
	})

	t.Run("session expired", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		env.register(t, "a@x.com")
		res := login(t, env, "a@x.com")

		env.Clock.Advance(25 * time.Hour)
		_, err := env.Auth.RefreshTokens(context.Background(), res.Tokens.RefreshToken)
		require.ErrorIs(t, err, ErrInvalidRefreshToken)
	})

	t.Run("account deactivated", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		acct := env.register(t, "a@x.com")
		res := login(t, env, "a@x.com")

		require.NoError(t, env.Accounts.DeactivateAccount(context.Background(), "admin", acct.ID))
		_, err := env.Auth.RefreshTokens(context.Background(), res.Tokens.RefreshToken)
		require.ErrorIs(t, err, ErrInvalidRefreshToken)
	})
}

func TestIssueTokensStoresFingerprintOnly(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "a@x.com")
	res := login(t, env, "a@x.com")

	_, err := env.Store.RefreshTokens().GetRefreshTokenByHash(ctx, res.Tokens.RefreshToken)
	require.Error(t, err, "plaintext is never a lookup key")
}
