package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/audit"
	"github.com/aussiebroadwan/accounts/pkg/jwtx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateSuccess(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")

	res, err := env.Auth.Authenticate(ctx, loginReq("A@X.com ", testPassword))
	require.NoError(t, err)
	require.Equal(t, acct.ID, res.Account.ID)
	require.True(t, res.Session.Active)
	require.NotEmpty(t, res.Tokens.AccessToken)
	require.NotEmpty(t, res.Tokens.RefreshToken)
	require.Equal(t, env.Config.AccessTokenTTL, res.Tokens.ExpiresIn)

	v := env.Keys.Verifier.(*jwtx.EdDSAVerifier)
	v.Now = env.Clock.Now
	claims, err := v.Verify(res.Tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, acct.ID, claims.Subject)
	require.Equal(t, res.Session.Token, claims.SID)
	require.Equal(t, "a@x.com", claims.Email)
	require.Equal(t, "client", claims.Role)

	require.NotNil(t, res.Risk)
	require.Len(t, env.Audit.OfType(audit.LoginSucceeded), 1)
}

func TestAuthenticateUnknownEmailLooksLikeBadPassword(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "a@x.com")

	_, errUnknown := env.Auth.Authenticate(ctx, loginReq("nobody@x.com", testPassword))
	_, errWrong := env.Auth.Authenticate(ctx, loginReq("a@x.com", "wrong password"))

	require.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	require.ErrorIs(t, errWrong, ErrInvalidCredentials)
	require.Equal(t, errUnknown.Error(), errWrong.Error())
}

func TestLockoutAfterThreshold(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")

	for i := range 5 {
		_, err := env.Auth.Authenticate(ctx, loginReq("a@x.com", "wrong password"))
		require.ErrorIs(t, err, ErrInvalidCredentials, "attempt %d", i+1)
	}

	locked := env.account(t, acct.ID)
	require.Equal(t, uint(5), locked.FailedLoginAttempts)
	require.NotNil(t, locked.LockedUntil)
	require.True(t, env.Clock.Now().Add(15*time.Minute).Equal(*locked.LockedUntil))
	require.Len(t, env.Audit.OfType(audit.AccountLocked), 1)

	// The right password does not help while locked.
	_, err := env.Auth.Authenticate(ctx, loginReq("a@x.com", testPassword))
	require.ErrorIs(t, err, ErrAccountLocked)

	var lockErr *AccountLockedError
	require.True(t, errors.As(err, &lockErr))
	require.Equal(t, 15*time.Minute, lockErr.RetryAfter(env.Clock.Now()))

	env.Clock.Advance(14 * time.Minute)
	_, err = env.Auth.Authenticate(ctx, loginReq("a@x.com", testPassword))
	require.ErrorIs(t, err, ErrAccountLocked)

	env.Clock.Advance(2 * time.Minute)
	_, err = env.Auth.Authenticate(ctx, loginReq("a@x.com", testPassword))
	require.NoError(t, err)

	unlocked := env.account(t, acct.ID)
	require.Zero(t, unlocked.FailedLoginAttempts)
	require.Nil(t, unlocked.LockedUntil)
	require.NotEmpty(t, env.Audit.OfType(audit.AccountUnlocked))
}

func TestSuccessResetsPartialFailures(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")

	for range 3 {
		_, err := env.Auth.Authenticate(ctx, loginReq("a@x.com", "wrong password"))
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	require.Equal(t, uint(3), env.account(t, acct.ID).FailedLoginAttempts)

	_, err := env.Auth.Authenticate(ctx, loginReq("a@x.com", testPassword))
	require.NoError(t, err)

	after := env.account(t, acct.ID)
	require.Zero(t, after.FailedLoginAttempts)
	require.Nil(t, after.LockedUntil)
}

func TestExpiredLockRestartsCount(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")

	for range 5 {
		_, _ = env.Auth.Authenticate(ctx, loginReq("a@x.com", "wrong password"))
	}
	env.Clock.Advance(16 * time.Minute)

	_, err := env.Auth.Authenticate(ctx, loginReq("a@x.com", "wrong password"))
	require.ErrorIs(t, err, ErrInvalidCredentials)

	after := env.account(t, acct.ID)
	require.Equal(t, uint(1), after.FailedLoginAttempts)
	require.False(t, after.IsLocked(env.Clock.Now()))
}

func TestConcurrentFailuresAllCount(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(c *Config) { c.LockoutThreshold = 100 })
	ctx := context.Background()
	acct := env.register(t, "a@x.com")

	const n = 8
	errs := make(chan error, n)
	for range n {
		go func() {
			_, err := env.Auth.Authenticate(ctx, loginReq("a@x.com", "wrong password"))
			errs <- err
		}()
	}
	for range n {
		require.ErrorIs(t, <-errs, ErrInvalidCredentials)
	}
	require.Equal(t, uint(n), env.account(t, acct.ID).FailedLoginAttempts)
}

func TestDeactivatedAccountCannotLogin(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")

	require.NoError(t, env.Accounts.DeactivateAccount(ctx, "admin", acct.ID))

	_, err := env.Auth.Authenticate(ctx, loginReq("a@x.com", testPassword))
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRequireVerifiedEmail(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(c *Config) { c.RequireVerifiedEmail = true })
	ctx := context.Background()
	env.register(t, "a@x.com")

	_, err := env.Auth.Authenticate(ctx, loginReq("a@x.com", testPassword))
	require.ErrorIs(t, err, ErrEmailNotVerified)

	token := env.Notifier.last(t, "verification").token
	require.NoError(t, env.Accounts.VerifyEmail(ctx, token))

	_, err = env.Auth.Authenticate(ctx, loginReq("a@x.com", testPassword))
	require.NoError(t, err)
}

// enableSecondFactor enrolls and confirms TOTP for the account and returns
// the secret with the initial backup codes.
func enableSecondFactor(t *testing.T, env *testEnv, accountID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	setup, err := env.MFA.Enroll(ctx, accountID)
	require.NoError(t, err)

	codes, err := env.MFA.Confirm(ctx, accountID, totpCode(t, setup.Secret, env.Clock.Now()))
	require.NoError(t, err)
	return setup.Secret, codes
}

func totpCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestSecondFactorLogin(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")
	secret, _ := enableSecondFactor(t, env, acct.ID)

	_, err := env.Auth.Authenticate(ctx, loginReq("a@x.com", testPassword))
	require.ErrorIs(t, err, ErrSecondFactorRequired)

	var sfErr *SecondFactorRequiredError
	require.True(t, errors.As(err, &sfErr))
	require.Equal(t, acct.ID, sfErr.AccountID)

	sessions, err := env.Auth.ListActiveSessions(ctx, acct.ID)
	require.NoError(t, err)
	require.Empty(t, sessions)

	res, err := env.Auth.VerifySecondFactor(ctx, loginReq("a@x.com", testPassword), totpCode(t, secret, env.Clock.Now()))
	require.NoError(t, err)
	require.True(t, res.Session.Active)
	require.NotEmpty(t, res.Tokens.AccessToken)

	sessions, err = env.Auth.ListActiveSessions(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func TestSecondFactorRechecksPassword(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")
	secret, _ := enableSecondFactor(t, env, acct.ID)

	_, err := env.Auth.VerifySecondFactor(ctx, loginReq("a@x.com", "wrong password"), totpCode(t, secret, env.Clock.Now()))
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSecondFactorSkew(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	acct := env.register(t, "a@x.com")
	secret, _ := enableSecondFactor(t, env, acct.ID)
	now := env.Clock.Now()

	require.True(t, env.MFA.VerifyToken(totpCode(t, secret, now.Add(-30*time.Second)), secret))
	require.True(t, env.MFA.VerifyToken(totpCode(t, secret, now.Add(30*time.Second)), secret))
	require.False(t, env.MFA.VerifyToken(totpCode(t, secret, now.Add(-5*time.Minute)), secret))
}

func TestBackupCodeIsSingleUse(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")
	_, codes := enableSecondFactor(t, env, acct.ID)
	require.Len(t, codes, 10)

	_, err := env.Auth.VerifySecondFactor(ctx, loginReq("a@x.com", testPassword), codes[0])
	require.NoError(t, err)
	require.Len(t, env.Audit.OfType(audit.BackupCodeUsed), 1)

	_, err = env.Auth.VerifySecondFactor(ctx, loginReq("a@x.com", testPassword), codes[0])
	require.ErrorIs(t, err, ErrInvalidSecondFactorCode)

	left, err := env.MFA.RemainingBackupCodes(ctx, acct.ID)
	require.NoError(t, err)
	require.Equal(t, 9, left)
}

func TestSecondFactorFailuresLock(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")
	enableSecondFactor(t, env, acct.ID)

	for range 5 {
		_, err := env.Auth.VerifySecondFactor(ctx, loginReq("a@x.com", testPassword), "000000")
		require.ErrorIs(t, err, ErrInvalidSecondFactorCode)
	}
	require.Len(t, env.Audit.OfType(audit.SecondFactorFailed), 5)

	_, err := env.Auth.VerifySecondFactor(ctx, loginReq("a@x.com", testPassword), "000000")
	require.ErrorIs(t, err, ErrAccountLocked)
}

func TestLogout(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")

	res, err := env.Auth.Authenticate(ctx, loginReq("a@x.com", testPassword))
	require.NoError(t, err)

	require.NoError(t, env.Auth.Logout(ctx, acct.ID, res.Session.Token, res.Tokens.RefreshToken))

	sess, err := env.Sessions.ValidateSession(ctx, res.Session.Token)
	require.NoError(t, err)
	require.Nil(t, sess)

	_, err = env.Auth.RefreshTokens(ctx, res.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	// Logging out twice is fine.
	require.NoError(t, env.Auth.Logout(ctx, acct.ID, res.Session.Token, res.Tokens.RefreshToken))
}

func TestLogoutEverywhere(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.register(t, "a@x.com")

	first, err := env.Auth.Authenticate(ctx, loginReq("a@x.com", testPassword))
	require.NoError(t, err)
	req := loginReq("a@x.com", testPassword)
	req.UserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1"
	second, err := env.Auth.Authenticate(ctx, req)
	require.NoError(t, err)
	require.NotEqual(t, first.Session.ID, second.Session.ID)

	require.NoError(t, env.Auth.Logout(ctx, acct.ID, "", ""))

	sessions, err := env.Auth.ListActiveSessions(ctx, acct.ID)
	require.NoError(t, err)
	require.Empty(t, sessions)

	_, err = env.Auth.RefreshTokens(ctx, second.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestTerminateSessionOwnership(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "a@x.com")
	b := env.register(t, "b@x.com")

	res, err := env.Auth.Authenticate(ctx, loginReq("a@x.com", testPassword))
	require.NoError(t, err)

	require.ErrorIs(t, env.Auth.TerminateSession(ctx, b.ID, res.Session.Token), ErrSessionNotFound)
	require.ErrorIs(t, env.Auth.TerminateSessionByID(ctx, b.ID, res.Session.ID), ErrSessionNotFound)

	require.NoError(t, env.Auth.TerminateSessionByID(ctx, a.ID, res.Session.ID))
	require.NoError(t, env.Auth.TerminateSession(ctx, a.ID, res.Session.Token))
}

func TestFailedLoginsFeedBruteForceDetection(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(c *Config) { c.LockoutThreshold = 100 })
	ctx := context.Background()
	env.register(t, "a@x.com")

	for range env.Config.Risk.BruteForceThreshold {
		_, _ = env.Auth.Authenticate(ctx, loginReq("a@x.com", "wrong password"))
	}
	require.Len(t, env.Audit.OfType(audit.BruteForceDetected), 1)
}
