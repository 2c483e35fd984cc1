package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/audit"
	"github.com/aussiebroadwan/accounts/internal/accounts/device"
	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/metrics"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
	"github.com/aussiebroadwan/accounts/pkg/cryptox"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
)

// PasswordHasher is the subset of cryptox.Hasher the auth flows use.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) error
	VerifyDummy(password string)
	NeedsRehash(encoded string) bool
}

var _ PasswordHasher = (*cryptox.Hasher)(nil)

// LoginRequest is one login attempt as seen by the orchestrator.
type LoginRequest struct {
	Email      string
	Password   string
	IP         string
	UserAgent  string
	RememberMe bool
	Meta       domain.SessionMeta
}

// LoginResult is a completed login. Risk is nil when scoring was skipped
// or failed.
type LoginResult struct {
	Account domain.Account
	Session domain.Session
	Tokens  domain.TokenPair
	Risk    *domain.RiskAssessment
}

// AuthService orchestrates credential checks, the second factor, session
// creation and token issuance.
type AuthService struct {
	Store        store.Store
	Hasher       PasswordHasher
	SecondFactor *SecondFactorService
	Sessions     *SessionService
	Tokens       *TokenService
	Risk         *RiskService // optional
	Config       Config
	Audit        audit.Sink
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

// Authenticate checks email and password and logs the device in. When the
// account has a second factor it returns *SecondFactorRequiredError and no
// session is created.
func (s *AuthService) Authenticate(ctx context.Context, req LoginRequest) (LoginResult, error) {
	acct, err := s.checkCredentials(ctx, req)
	if err != nil {
		return LoginResult{}, err
	}
	if acct.HasSecondFactor() {
		s.Metrics.Login(metrics.OutcomeSecondFactor)
		return LoginResult{}, &SecondFactorRequiredError{AccountID: acct.ID}
	}
	return s.completeLogin(ctx, acct, req, "password")
}

// VerifySecondFactor re-checks the password and then accepts either a TOTP
// code or one unused backup code.
func (s *AuthService) VerifySecondFactor(ctx context.Context, req LoginRequest, code string) (LoginResult, error) {
	acct, err := s.checkCredentials(ctx, req)
	if err != nil {
		return LoginResult{}, err
	}
	if !acct.HasSecondFactor() {
		return LoginResult{}, ErrMFANotEnabled
	}
	now := resolveNow(s.Now)

	method := "totp"
	ok := s.SecondFactor.VerifyToken(code, *acct.SecondFactorSecret)
	if !ok {
		ok, err = s.SecondFactor.VerifyBackupCode(ctx, acct.ID, code)
		if err != nil {
			return LoginResult{}, err
		}
		method = "backup_code"
	}

	if !ok {
		out, err := s.Store.Accounts().RecordFailedSecondFactor(ctx, acct.ID, s.lockoutPolicy(now))
		if err != nil {
			return LoginResult{}, fmt.Errorf("failed to record second factor failure: %w", err)
		}
		if out.JustLocked {
			s.locked(ctx, acct.ID, req, now)
		}
		s.emit(ctx, s.event(audit.SecondFactorFailed, acct.ID, req, now))
		s.Metrics.Login(metrics.OutcomeBadCode)
		return LoginResult{}, ErrInvalidSecondFactorCode
	}

	if method == "backup_code" {
		s.emit(ctx, s.event(audit.BackupCodeUsed, acct.ID, req, now))
	}
	if acct.FailedSecondFactorAttempts > 0 {
		if err := s.Store.Accounts().ResetFailedSecondFactor(ctx, acct.ID, now); err != nil {
			return LoginResult{}, fmt.Errorf("failed to reset second factor counter: %w", err)
		}
		acct.FailedSecondFactorAttempts = 0
	}
	return s.completeLogin(ctx, acct, req, method)
}

// checkCredentials runs the lockout state machine for one password check.
func (s *AuthService) checkCredentials(ctx context.Context, req LoginRequest) (domain.Account, error) {
	now := resolveNow(s.Now)
	email := domain.NormalizeEmail(req.Email)

	acct, err := s.Store.Accounts().GetAccountByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.Account{}, s.rejectUnknown(ctx, email, req, now)
	case err != nil:
		return domain.Account{}, fmt.Errorf("failed to load account: %w", err)
	case acct.IsDeactivated():
		return domain.Account{}, s.rejectUnknown(ctx, email, req, now)
	}

	if acct.IsLocked(now) {
		s.Metrics.Login(metrics.OutcomeLocked)
		e := s.event(audit.LoginFailed, acct.ID, req, now)
		e.Metadata = map[string]string{"reason": "locked"}
		s.emit(ctx, e)
		return domain.Account{}, &AccountLockedError{Until: *acct.LockedUntil}
	}

	if err := s.Hasher.Verify(req.Password, acct.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			slogx.FromContext(ctx).Error("password verification failed", "err", err, "account_id", acct.ID)
		}

		out, err := s.Store.Accounts().RecordFailedLogin(ctx, acct.ID, s.lockoutPolicy(now))
		if err != nil {
			return domain.Account{}, fmt.Errorf("failed to record login failure: %w", err)
		}
		if out.JustLocked {
			s.locked(ctx, acct.ID, req, now)
		}
		s.recordRisk(ctx, req, acct.ID, email)

		e := s.event(audit.LoginFailed, acct.ID, req, now)
		e.Metadata = map[string]string{"reason": "invalid_password", "attempts": strconv.FormatUint(uint64(out.Attempts), 10)}
		s.emit(ctx, e)
		s.Metrics.Login(metrics.OutcomeInvalid)
		return domain.Account{}, ErrInvalidCredentials
	}

	if acct.FailedLoginAttempts > 0 || acct.LockedUntil != nil {
		if err := s.Store.Accounts().ResetFailedLogins(ctx, acct.ID, now); err != nil {
			return domain.Account{}, fmt.Errorf("failed to reset login counter: %w", err)
		}
		// A lock that ran out restarts the second-factor count as well.
		if acct.LockedUntil != nil && acct.FailedSecondFactorAttempts > 0 {
			if err := s.Store.Accounts().ResetFailedSecondFactor(ctx, acct.ID, now); err != nil {
				return domain.Account{}, fmt.Errorf("failed to reset second factor counter: %w", err)
			}
			acct.FailedSecondFactorAttempts = 0
		}
		acct.FailedLoginAttempts = 0
		acct.LockedUntil = nil
		s.emit(ctx, s.event(audit.AccountUnlocked, acct.ID, req, now))
	}

	if s.Hasher.NeedsRehash(acct.PasswordHash) {
		s.rehash(ctx, &acct, req.Password)
	}

	if s.Config.RequireVerifiedEmail && !acct.IsEmailVerified() {
		s.Metrics.Login(metrics.OutcomeUnverified)
		return domain.Account{}, ErrEmailNotVerified
	}
	return acct, nil
}

// rejectUnknown fails a login for an email with no usable account. The
// dummy comparison keeps the timing in line with a real password check.
func (s *AuthService) rejectUnknown(ctx context.Context, email string, req LoginRequest, now time.Time) error {
	s.Hasher.VerifyDummy(req.Password)
	s.recordRisk(ctx, req, "", email)

	e := s.event(audit.LoginFailed, "", req, now)
	e.Metadata = map[string]string{"reason": "unknown_account"}
	s.emit(ctx, e)
	s.Metrics.Login(metrics.OutcomeInvalid)
	return ErrInvalidCredentials
}

func (s *AuthService) rehash(ctx context.Context, acct *domain.Account, password string) {
	hash, err := s.Hasher.Hash(password)
	if err == nil {
		err = s.Store.Accounts().UpdatePasswordHash(ctx, acct.ID, hash, resolveNow(s.Now))
	}
	if err != nil {
		slogx.FromContext(ctx).Warn("failed to upgrade password hash", "err", err, "account_id", acct.ID)
		return
	}
	acct.PasswordHash = hash
}

func (s *AuthService) completeLogin(
	ctx context.Context,
	acct domain.Account,
	req LoginRequest,
	method string,
) (LoginResult, error) {
	now := resolveNow(s.Now)
	log := slogx.FromContext(ctx)

	// Scored before the session exists so this login is not its own history.
	var risk *domain.RiskAssessment
	if s.Risk != nil {
		a, err := s.Risk.Assess(ctx, domain.LoginContext{
			AccountID:         acct.ID,
			IP:                req.IP,
			UserAgent:         req.UserAgent,
			DeviceFingerprint: device.Fingerprint(req.IP, req.UserAgent, device.Meta(req.Meta)),
			DeviceKey:         device.Key(req.UserAgent, device.Meta(req.Meta)),
			Timestamp:         now,
		})
		if err != nil {
			log.Warn("risk assessment failed", "err", err, "account_id", acct.ID)
		} else {
			risk = &a
		}
	}

	sess, err := s.Sessions.CreateSession(ctx, acct.ID, req.UserAgent, req.IP, req.RememberMe, req.Meta)
	if err != nil {
		if errors.Is(err, ErrSessionLimitExceeded) {
			s.Metrics.Login(metrics.OutcomeSessionLimit)
		}
		return LoginResult{}, err
	}

	tokens, err := s.Tokens.IssueTokens(ctx, acct.ID, acct.Email, acct.Role, sess.Token)
	if err != nil {
		return LoginResult{}, err
	}

	e := s.event(audit.LoginSucceeded, acct.ID, req, now)
	e.SessionID = sess.ID
	e.Metadata = map[string]string{"method": method}
	if risk != nil {
		e.Metadata["risk_score"] = strconv.Itoa(risk.Score)
	}
	s.emit(ctx, e)
	s.Metrics.Login(metrics.OutcomeSuccess)

	log.Info("login succeeded", "account_id", acct.ID, "session_id", sess.ID, "method", method)
	return LoginResult{Account: acct, Session: sess, Tokens: tokens, Risk: risk}, nil
}

// RefreshTokens rotates a refresh token into a new pair.
func (s *AuthService) RefreshTokens(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	return s.Tokens.RefreshAccessToken(ctx, refreshToken)
}

// Logout ends the given session and revokes the given refresh token. With
// neither set every session of the account is ended.
func (s *AuthService) Logout(ctx context.Context, accountID, sessionToken, refreshToken string) error {
	if sessionToken == "" && refreshToken == "" {
		if _, err := s.Sessions.TerminateAllUserSessions(ctx, accountID, domain.TerminatedAll); err != nil {
			return err
		}
		if err := s.Store.RefreshTokens().RevokeAccountRefreshTokens(ctx, accountID, resolveNow(s.Now)); err != nil {
			return fmt.Errorf("failed to revoke refresh tokens: %w", err)
		}
		return nil
	}

	if err := s.Tokens.RevokeRefreshToken(ctx, refreshToken); err != nil {
		return err
	}
	if sessionToken == "" {
		return nil
	}
	return s.endSession(ctx, accountID, sessionToken, domain.TerminatedLogout)
}

// ListActiveSessions returns the account's live sessions.
func (s *AuthService) ListActiveSessions(ctx context.Context, accountID string) ([]domain.Session, error) {
	return s.Sessions.ListActiveSessions(ctx, accountID)
}

// TerminateSession ends one of the account's own sessions by token.
func (s *AuthService) TerminateSession(ctx context.Context, accountID, sessionToken string) error {
	return s.endSession(ctx, accountID, sessionToken, domain.TerminatedByUser)
}

// TerminateSessionByID is TerminateSession for callers that only know the
// session id, such as the device list.
func (s *AuthService) TerminateSessionByID(ctx context.Context, accountID, sessionID string) error {
	sess, err := s.Store.Sessions().GetSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to load session: %w", err)
	}
	if sess.AccountID != accountID {
		return ErrSessionNotFound
	}
	return s.endSession(ctx, accountID, sess.Token, domain.TerminatedByUser)
}

// TerminateOtherSessions ends every session except keepToken.
func (s *AuthService) TerminateOtherSessions(ctx context.Context, accountID, keepToken string) (int64, error) {
	live, err := s.Sessions.ListActiveSessions(ctx, accountID)
	if err != nil {
		return 0, err
	}
	n, err := s.Sessions.TerminateOtherSessions(ctx, accountID, keepToken)
	if err != nil {
		return 0, err
	}
	now := resolveNow(s.Now)
	for _, sess := range live {
		if sess.Token == keepToken {
			continue
		}
		if err := s.Store.RefreshTokens().RevokeSessionRefreshTokens(ctx, sess.Token, now); err != nil {
			return n, fmt.Errorf("failed to revoke refresh tokens: %w", err)
		}
	}
	return n, nil
}

// endSession terminates a session owned by accountID together with its
// refresh tokens. Unknown tokens and other accounts' sessions both report
// ErrSessionNotFound; an already ended session is not an error.
func (s *AuthService) endSession(ctx context.Context, accountID, token, reason string) error {
	sess, err := s.Store.Sessions().GetSessionByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to load session: %w", err)
	}
	if sess.AccountID != accountID {
		return ErrSessionNotFound
	}
	if !sess.Active {
		return nil
	}

	if err := s.Sessions.TerminateSession(ctx, token, reason); err != nil {
		return err
	}
	if err := s.Store.RefreshTokens().RevokeSessionRefreshTokens(ctx, token, resolveNow(s.Now)); err != nil {
		return fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}

	e := audit.New(audit.SessionTerminated, resolveNow(s.Now))
	e.AccountID = accountID
	e.Actor = accountID
	e.SessionID = sess.ID
	e.Metadata = map[string]string{"reason": reason}
	s.emit(ctx, e)
	return nil
}

func (s *AuthService) lockoutPolicy(now time.Time) store.LockoutPolicy {
	return store.LockoutPolicy{
		Threshold: s.Config.LockoutThreshold,
		Duration:  s.Config.LockoutDuration,
		Now:       now,
	}
}

func (s *AuthService) locked(ctx context.Context, accountID string, req LoginRequest, now time.Time) {
	s.Metrics.AccountLocked()
	e := s.event(audit.AccountLocked, accountID, req, now)
	e.Metadata = map[string]string{"until": now.Add(s.Config.LockoutDuration).UTC().Format(time.RFC3339)}
	s.emit(ctx, e)
}

func (s *AuthService) recordRisk(ctx context.Context, req LoginRequest, accountID, email string) {
	if s.Risk == nil {
		return
	}
	if err := s.Risk.RecordFailure(ctx, req.IP, accountID, email); err != nil {
		slogx.FromContext(ctx).Warn("failed to record attempt for risk scoring", "err", err)
	}
}

func (s *AuthService) event(t audit.Type, accountID string, req LoginRequest, at time.Time) audit.Event {
	e := audit.New(t, at)
	e.AccountID = accountID
	e.Actor = accountID
	e.IP = req.IP
	e.UserAgent = req.UserAgent
	return e
}

func (s *AuthService) emit(ctx context.Context, e audit.Event) {
	if s.Audit != nil {
		s.Audit.Emit(ctx, e)
	}
}
