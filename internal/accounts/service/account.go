package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aussiebroadwan/accounts/internal/accounts/audit"
	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/metrics"
	"github.com/aussiebroadwan/accounts/internal/accounts/notify"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
	"github.com/aussiebroadwan/accounts/pkg/cryptox"
	"github.com/aussiebroadwan/accounts/pkg/idx"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
)

// RegisterRequest is a self-service signup.
type RegisterRequest struct {
	Email    string
	Username string // defaults to the local part of Email
	Password string
	Role     domain.Role // defaults to client
}

// AccountService covers the account lifecycle around login: signup, email
// verification, password reset and admin actions.
type AccountService struct {
	Store    store.Store
	Hasher   PasswordHasher
	Notifier notify.Notifier
	Config   Config
	Audit    audit.Sink
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Register creates an account and sends the verification email. Admins
// are never created through signup.
func (s *AccountService) Register(ctx context.Context, req RegisterRequest) (domain.Account, error) {
	now := resolveNow(s.Now)

	email := domain.NormalizeEmail(req.Email)
	if !validEmail(email) {
		return domain.Account{}, ErrInvalidEmail
	}
	if err := s.validatePassword(req.Password); err != nil {
		return domain.Account{}, err
	}

	role := req.Role
	if role == "" {
		role = domain.RoleClient
	}
	if !role.Valid() || role == domain.RoleAdmin {
		return domain.Account{}, ErrInvalidRole
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		username, _, _ = strings.Cut(email, "@")
	}

	hash, err := s.Hasher.Hash(req.Password)
	if err != nil {
		return domain.Account{}, err
	}

	acct := domain.Account{
		ID:           idx.NewAt(now).String(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Store.Accounts().CreateAccount(ctx, acct); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.Account{}, ErrEmailTaken
		}
		return domain.Account{}, fmt.Errorf("failed to create account: %w", err)
	}

	s.emit(ctx, audit.AccountRegistered, acct.ID, acct.ID, now)
	if err := s.SendEmailVerification(ctx, acct.ID); err != nil {
		slogx.FromContext(ctx).Warn("failed to send verification email", "err", err, "account_id", acct.ID)
	}
	return acct, nil
}

// SendEmailVerification mails a fresh single-use verification token.
// Already verified accounts are left alone.
func (s *AccountService) SendEmailVerification(ctx context.Context, accountID string) error {
	acct, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
	if err != nil {
		return mapAccountErr(err)
	}
	if acct.IsEmailVerified() {
		return nil
	}

	token, err := s.issueToken(ctx, acct.ID, domain.PurposeEmailVerification, s.Config.EmailVerificationTTL)
	if err != nil {
		return err
	}
	s.notify(ctx, "verification", func() error {
		return s.Notifier.SendVerification(ctx, acct.Email, token)
	})
	return nil
}

// VerifyEmail consumes a verification token.
func (s *AccountService) VerifyEmail(ctx context.Context, token string) error {
	now := resolveNow(s.Now)

	vt, err := s.consumeToken(ctx, s.Store, token, domain.PurposeEmailVerification, now)
	if err != nil {
		return err
	}
	if err := s.Store.Accounts().MarkEmailVerified(ctx, vt.AccountID, now); err != nil {
		return mapAccountErr(err)
	}
	s.emit(ctx, audit.EmailVerified, vt.AccountID, vt.AccountID, now)
	return nil
}

// RequestPasswordReset mails a reset token. It reports success for unknown
// or deactivated emails so callers cannot probe which addresses exist.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	acct, err := s.Store.Accounts().GetAccountByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load account: %w", err)
	}
	if acct.IsDeactivated() {
		return nil
	}

	token, err := s.issueToken(ctx, acct.ID, domain.PurposePasswordReset, s.Config.PasswordResetTTL)
	if err != nil {
		return err
	}
	s.notify(ctx, "password reset", func() error {
		return s.Notifier.SendPasswordReset(ctx, acct.Email, token)
	})
	return nil
}

// ResetPassword sets a new password from a reset token, clears any lockout
// and signs every device out.
func (s *AccountService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := s.validatePassword(newPassword); err != nil {
		return err
	}
	hash, err := s.Hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	now := resolveNow(s.Now)

	var (
		accountID  string
		terminated int64
	)
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		vt, err := s.consumeToken(ctx, tx, token, domain.PurposePasswordReset, now)
		if err != nil {
			return err
		}
		accountID = vt.AccountID

		if err := tx.Accounts().UpdatePasswordHash(ctx, accountID, hash, now); err != nil {
			return mapAccountErr(err)
		}
		if err := tx.Accounts().ResetFailedLogins(ctx, accountID, now); err != nil {
			return mapAccountErr(err)
		}
		terminated, err = tx.Sessions().TerminateAccountSessions(ctx, accountID, "", domain.TerminatedPasswordReset, now)
		if err != nil {
			return fmt.Errorf("failed to terminate sessions: %w", err)
		}
		if err := tx.RefreshTokens().RevokeAccountRefreshTokens(ctx, accountID, now); err != nil {
			return fmt.Errorf("failed to revoke refresh tokens: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.Metrics.SessionsTerminated(domain.TerminatedPasswordReset, terminated)
	s.emit(ctx, audit.PasswordReset, accountID, accountID, now)
	return nil
}

// ChangePassword replaces the password after checking the current one.
// Every session except keepSessionToken is signed out.
func (s *AccountService) ChangePassword(
	ctx context.Context,
	accountID, current, next, keepSessionToken string,
) error {
	acct, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
	if err != nil {
		return mapAccountErr(err)
	}
	if err := s.Hasher.Verify(current, acct.PasswordHash); err != nil {
		return ErrInvalidCredentials
	}
	if err := s.validatePassword(next); err != nil {
		return err
	}
	hash, err := s.Hasher.Hash(next)
	if err != nil {
		return err
	}
	now := resolveNow(s.Now)

	var terminated int64
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		live, err := tx.Sessions().ListLiveSessions(ctx, accountID, now)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		if err := tx.Accounts().UpdatePasswordHash(ctx, accountID, hash, now); err != nil {
			return mapAccountErr(err)
		}
		terminated, err = tx.Sessions().TerminateAccountSessions(ctx, accountID, keepSessionToken, domain.TerminatedPasswordReset, now)
		if err != nil {
			return fmt.Errorf("failed to terminate sessions: %w", err)
		}
		for _, sess := range live {
			if sess.Token == keepSessionToken {
				continue
			}
			if err := tx.RefreshTokens().RevokeSessionRefreshTokens(ctx, sess.Token, now); err != nil {
				return fmt.Errorf("failed to revoke refresh tokens: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.Metrics.SessionsTerminated(domain.TerminatedPasswordReset, terminated)
	s.emit(ctx, audit.PasswordChanged, accountID, accountID, now)
	return nil
}

// UnlockAccount clears both failure counters and the lock. actorID is the
// admin performing it.
func (s *AccountService) UnlockAccount(ctx context.Context, actorID, accountID string) error {
	now := resolveNow(s.Now)
	if err := s.Store.Accounts().Unlock(ctx, accountID, now); err != nil {
		return mapAccountErr(err)
	}
	s.emit(ctx, audit.AccountUnlocked, actorID, accountID, now)
	return nil
}

// DeactivateAccount soft-deletes the account and ends all its sessions.
func (s *AccountService) DeactivateAccount(ctx context.Context, actorID, accountID string) error {
	now := resolveNow(s.Now)

	var terminated int64
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Accounts().Deactivate(ctx, accountID, now); err != nil {
			return mapAccountErr(err)
		}
		var err error
		terminated, err = tx.Sessions().TerminateAccountSessions(ctx, accountID, "", domain.TerminatedDeactivated, now)
		if err != nil {
			return fmt.Errorf("failed to terminate sessions: %w", err)
		}
		if err := tx.RefreshTokens().RevokeAccountRefreshTokens(ctx, accountID, now); err != nil {
			return fmt.Errorf("failed to revoke refresh tokens: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.Metrics.SessionsTerminated(domain.TerminatedDeactivated, terminated)
	s.emit(ctx, audit.AccountDeactivated, actorID, accountID, now)
	return nil
}

func (s *AccountService) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	acct, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
	if err != nil {
		return domain.Account{}, mapAccountErr(err)
	}
	return acct, nil
}

func (s *AccountService) validatePassword(pw string) error {
	n := utf8.RuneCountInString(pw)
	if n < s.Config.MinPasswordLength || (s.Config.MaxPasswordLength > 0 && n > s.Config.MaxPasswordLength) {
		return ErrWeakPassword
	}
	return nil
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func (s *AccountService) issueToken(
	ctx context.Context,
	accountID string,
	purpose domain.VerificationPurpose,
	ttl time.Duration,
) (string, error) {
	now := resolveNow(s.Now)
	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}
	err = s.Store.VerificationTokens().CreateVerificationToken(ctx, domain.VerificationToken{
		ID:        idx.NewAt(now).String(),
		AccountID: accountID,
		Purpose:   purpose,
		TokenHash: cryptox.FingerprintToken(token),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("failed to store %s token: %w", purpose, err)
	}
	return token, nil
}

func (s *AccountService) consumeToken(
	ctx context.Context,
	st store.Store,
	token string,
	purpose domain.VerificationPurpose,
	now time.Time,
) (domain.VerificationToken, error) {
	if token == "" {
		return domain.VerificationToken{}, ErrInvalidToken
	}
	vt, err := st.VerificationTokens().ConsumeVerificationToken(ctx, cryptox.FingerprintToken(token), purpose, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.VerificationToken{}, ErrInvalidToken
		}
		return domain.VerificationToken{}, fmt.Errorf("failed to consume token: %w", err)
	}
	return vt, nil
}

func (s *AccountService) notify(ctx context.Context, kind string, send func() error) {
	if s.Notifier == nil {
		return
	}
	if err := send(); err != nil {
		slogx.FromContext(ctx).Warn("notification failed", "kind", kind, "err", err)
	}
}

func (s *AccountService) emit(ctx context.Context, t audit.Type, actorID, accountID string, at time.Time) {
	if s.Audit == nil {
		return
	}
	e := audit.New(t, at)
	e.Actor = actorID
	e.AccountID = accountID
	s.Audit.Emit(ctx, e)
}
