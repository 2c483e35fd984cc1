package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/audit"
	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func newHousekeeping(env *testEnv) *HousekeepingService {
	hk := NewHousekeepingService(env.Store, env.Sessions, env.Risk, slogx.Discard(), 0, 0)
	hk.Now = env.Clock.Now
	return hk
}

func TestHousekeepingDefaults(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	hk := newHousekeeping(env)
	require.Equal(t, time.Hour, hk.Interval)
	require.Equal(t, 5*time.Minute, hk.SweepInterval)
}

func TestHousekeepingCleanup(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")
	res := login(t, env, "a@x.com")

	env.Clock.Advance(8 * 24 * time.Hour)
	newHousekeeping(env).Cleanup(ctx)

	row, err := env.Store.Sessions().GetSessionByToken(ctx, res.Session.Token)
	require.NoError(t, err)
	require.False(t, row.Active)
	require.Equal(t, domain.TerminatedExpired, row.TerminatedReason)

	_, err = env.Tokens.RefreshAccessToken(ctx, res.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	count, err := env.Store.Sessions().CountLiveSessions(ctx, acct.ID, env.Clock.Now())
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestHousekeepingPrunesLoginHistory(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")
	login(t, env, "a@x.com")

	env.Clock.Advance(89 * 24 * time.Hour)
	login(t, env, "a@x.com")

	env.Clock.Advance(2 * 24 * time.Hour)
	newHousekeeping(env).Cleanup(ctx)

	history, err := env.Store.Sessions().RecentLogins(ctx, acct.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.True(t, history[0].At.Equal(env.Clock.Now().Add(-2*24*time.Hour)))
}

func TestHousekeepingSweep(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	for i := range 6 {
		require.NoError(t, env.Risk.RecordFailure(ctx, "198.51.100.9", "", fmt.Sprintf("u%d@x.com", i)))
	}
	newHousekeeping(env).Sweep(ctx)
	require.Len(t, env.Audit.OfType(audit.PasswordSprayDetected), 1)
}

func TestHousekeepingStartStop(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	hk := newHousekeeping(env)
	hk.Start()
	hk.Stop()
}
