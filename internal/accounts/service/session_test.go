package service

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/audit"
	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/stretchr/testify/require"
)

const mobileUA = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"

func TestCreateSessionSameDeviceExtends(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")

	first, err := env.Sessions.CreateSession(ctx, acct.ID, testUA, testIP, false, domain.SessionMeta{})
	require.NoError(t, err)
	require.True(t, first.ExpiresAt.Equal(env.Clock.Now().Add(24*time.Hour)))

	env.Clock.Advance(time.Hour)
	second, err := env.Sessions.CreateSession(ctx, acct.ID, testUA, testIP, false, domain.SessionMeta{})
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.Token, second.Token)
	require.True(t, second.ExpiresAt.After(first.ExpiresAt))

	live, err := env.Sessions.ListActiveSessions(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)

	created := env.Audit.OfType(audit.SessionCreated)
	require.Len(t, created, 2)
	require.Equal(t, "true", created[1].Metadata["extended"])
}

func TestCreateSessionConcurrentSameDevice(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")

	const n = 6
	ids := make(chan string, n)
	for range n {
		go func() {
			s, err := env.Sessions.CreateSession(ctx, acct.ID, testUA, testIP, false, domain.SessionMeta{})
			if err != nil {
				ids <- "err:" + err.Error()
				return
			}
			ids <- s.ID
		}()
	}

	first := <-ids
	for range n - 1 {
		require.Equal(t, first, <-ids)
	}

	count, err := env.Store.Sessions().CountLiveSessions(ctx, acct.ID, env.Clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRememberMeOutlivesShortSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")

	short, err := env.Sessions.CreateSession(ctx, acct.ID, testUA, testIP, false, domain.SessionMeta{})
	require.NoError(t, err)
	long, err := env.Sessions.CreateSession(ctx, acct.ID, mobileUA, testIP, true, domain.SessionMeta{})
	require.NoError(t, err)

	require.True(t, long.ExpiresAt.After(short.ExpiresAt))
	require.True(t, long.ExpiresAt.Equal(env.Clock.Now().Add(30*24*time.Hour)))
}

func TestRenewalNeverShortensExpiry(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")

	long, err := env.Sessions.CreateSession(ctx, acct.ID, testUA, testIP, true, domain.SessionMeta{})
	require.NoError(t, err)

	again, err := env.Sessions.CreateSession(ctx, acct.ID, testUA, testIP, false, domain.SessionMeta{})
	require.NoError(t, err)
	require.Equal(t, long.ID, again.ID)
	require.True(t, again.ExpiresAt.Equal(long.ExpiresAt))
}

func TestSessionLimit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(c *Config) { c.MaxSessions = 2 })
	ctx := context.Background()
	acct := env.register(t, "a@x.com")

	_, err := env.Sessions.CreateSession(ctx, acct.ID, testUA, "198.51.100.1", false, domain.SessionMeta{})
	require.NoError(t, err)
	second, err := env.Sessions.CreateSession(ctx, acct.ID, testUA, "198.51.100.2", false, domain.SessionMeta{})
	require.NoError(t, err)

	_, err = env.Sessions.CreateSession(ctx, acct.ID, testUA, "198.51.100.3", false, domain.SessionMeta{})
	require.ErrorIs(t, err, ErrSessionLimitExceeded)

	// A known device still gets through at the cap.
	_, err = env.Sessions.CreateSession(ctx, acct.ID, testUA, "198.51.100.2", false, domain.SessionMeta{})
	require.NoError(t, err)

	require.NoError(t, env.Sessions.TerminateSession(ctx, second.Token, domain.TerminatedByUser))
	_, err = env.Sessions.CreateSession(ctx, acct.ID, testUA, "198.51.100.3", false, domain.SessionMeta{})
	require.NoError(t, err)
}

func TestExpiredSessionsDoNotCountTowardLimit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(c *Config) { c.MaxSessions = 1 })
	ctx := context.Background()
	acct := env.register(t, "a@x.com")

	_, err := env.Sessions.CreateSession(ctx, acct.ID, testUA, testIP, false, domain.SessionMeta{})
	require.NoError(t, err)

	env.Clock.Advance(25 * time.Hour)
	s, err := env.Sessions.CreateSession(ctx, acct.ID, testUA, testIP, false, domain.SessionMeta{})
	require.NoError(t, err)
	require.True(t, s.ExpiresAt.Equal(env.Clock.Now().Add(24*time.Hour)))
}

func TestExtendSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")

	s, err := env.Sessions.CreateSession(ctx, acct.ID, testUA, testIP, false, domain.SessionMeta{})
	require.NoError(t, err)

	t.Run("plenty of time left only bumps activity", func(t *testing.T) {
		env.Clock.Advance(time.Hour)
		out, err := env.Sessions.ExtendSession(ctx, s.ID, false)
		require.NoError(t, err)
		require.True(t, out.ExpiresAt.Equal(s.ExpiresAt))
		require.True(t, out.LastActivityAt.Equal(env.Clock.Now()))
	})

	t.Run("below the threshold gets a fresh ttl", func(t *testing.T) {
		env.Clock.Advance(12 * time.Hour)
		out, err := env.Sessions.ExtendSession(ctx, s.ID, false)
		require.NoError(t, err)
		require.True(t, out.ExpiresAt.Equal(env.Clock.Now().Add(24*time.Hour)))
	})

	t.Run("expired session is not found", func(t *testing.T) {
		env.Clock.Advance(25 * time.Hour)
		_, err := env.Sessions.ExtendSession(ctx, s.ID, false)
		require.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("unknown session is not found", func(t *testing.T) {
		_, err := env.Sessions.ExtendSession(ctx, "nope", false)
		require.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestValidateSessionSlidesExpiry(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")

	s, err := env.Sessions.CreateSession(ctx, acct.ID, testUA, testIP, false, domain.SessionMeta{})
	require.NoError(t, err)

	for range 12 {
		env.Clock.Advance(4 * time.Hour)
		got, err := env.Sessions.ValidateSession(ctx, s.Token)
		require.NoError(t, err)
		require.NotNil(t, got, "active session ended at %s", env.Clock.Now())
	}

	row, err := env.Store.Sessions().GetSessionByToken(ctx, s.Token)
	require.NoError(t, err)
	require.True(t, row.ExpiresAt.Equal(env.Clock.Now().Add(24*time.Hour)))
	require.False(t, row.RememberMe)
}

func TestTerminateSessionIsIdempotent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")

	s, err := env.Sessions.CreateSession(ctx, acct.ID, testUA, testIP, false, domain.SessionMeta{})
	require.NoError(t, err)

	require.NoError(t, env.Sessions.TerminateSession(ctx, s.Token, domain.TerminatedLogout))
	require.NoError(t, env.Sessions.TerminateSession(ctx, s.Token, domain.TerminatedLogout))
	require.NoError(t, env.Sessions.TerminateSession(ctx, "unknown", domain.TerminatedLogout))

	row, err := env.Store.Sessions().GetSessionByToken(ctx, s.Token)
	require.NoError(t, err)
	require.False(t, row.Active)
	require.Equal(t, domain.TerminatedLogout, row.TerminatedReason)

	n, err := env.Sessions.TerminateAllUserSessions(ctx, acct.ID, domain.TerminatedAll)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestValidateSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")

	s, err := env.Sessions.CreateSession(ctx, acct.ID, testUA, testIP, false, domain.SessionMeta{})
	require.NoError(t, err)

	env.Clock.Advance(time.Minute)
	got, err := env.Sessions.ValidateSession(ctx, s.Token)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.True(t, got.LastActivityAt.Equal(env.Clock.Now()))
	require.True(t, env.Sessions.SessionActive(ctx, s.Token))

	missing, err := env.Sessions.ValidateSession(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, missing)

	env.Clock.Advance(25 * time.Hour)
	expired, err := env.Sessions.ValidateSession(ctx, s.Token)
	require.NoError(t, err)
	require.Nil(t, expired)

	row, err := env.Store.Sessions().GetSessionByToken(ctx, s.Token)
	require.NoError(t, err)
	require.False(t, row.Active, "expired session is flipped inline")
	require.Equal(t, domain.TerminatedExpired, row.TerminatedReason)
}

func TestTerminateOtherSessions(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")

	keep, err := env.Auth.Authenticate(ctx, loginReq("a@x.com", testPassword))
	require.NoError(t, err)
	req := loginReq("a@x.com", testPassword)
	req.UserAgent = mobileUA
	other, err := env.Auth.Authenticate(ctx, req)
	require.NoError(t, err)

	n, err := env.Auth.TerminateOtherSessions(ctx, acct.ID, keep.Session.Token)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	live, err := env.Auth.ListActiveSessions(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.Equal(t, keep.Session.ID, live[0].ID)

	_, err = env.Auth.RefreshTokens(ctx, other.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestReapExpired(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")

	_, err := env.Sessions.CreateSession(ctx, acct.ID, testUA, testIP, false, domain.SessionMeta{})
	require.NoError(t, err)
	_, err = env.Sessions.CreateSession(ctx, acct.ID, mobileUA, testIP, true, domain.SessionMeta{})
	require.NoError(t, err)

	env.Clock.Advance(48 * time.Hour)
	n, err := env.Sessions.ReapExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	live, err := env.Sessions.ListActiveSessions(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.True(t, live[0].RememberMe)
}

func TestDeviceNameFromUserAgent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	acct := env.register(t, "a@x.com")

	s, err := env.Sessions.CreateSession(context.Background(), acct.ID, mobileUA, testIP, false, domain.SessionMeta{})
	require.NoError(t, err)
	require.Equal(t, "Chrome - Android - Mobile", s.DeviceName)
}
