package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/audit"
	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/metrics"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
	"github.com/aussiebroadwan/accounts/pkg/cryptox"
	"github.com/aussiebroadwan/accounts/pkg/idx"
	"github.com/aussiebroadwan/accounts/pkg/jwtx"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
)

const tokenTypeBearer = "Bearer"

// errRefreshReuse marks a revoked refresh token being presented again.
var errRefreshReuse = errors.New("refresh token reuse")

// SignerSource hands out the signer for the next access token.
type SignerSource interface {
	GetSigner() jwtx.Signer
}

// TokenService mints access tokens and manages opaque refresh tokens.
// Refresh tokens rotate on every use.
type TokenService struct {
	Signers SignerSource
	Store   store.Store
	Config  Config
	Audit   audit.Sink
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// IssueTokens signs an access token bound to sessionToken and stores a
// fresh refresh token for it.
func (s *TokenService) IssueTokens(
	ctx context.Context,
	accountID, email string,
	role domain.Role,
	sessionToken string,
) (domain.TokenPair, error) {
	return s.issue(ctx, s.Store.RefreshTokens(), accountID, email, role, sessionToken, resolveNow(s.Now))
}

func (s *TokenService) issue(
	ctx context.Context,
	repo store.RefreshTokens,
	accountID, email string,
	role domain.Role,
	sessionToken string,
	now time.Time,
) (domain.TokenPair, error) {
	signer := s.Signers.GetSigner()
	if signer == nil {
		return domain.TokenPair{}, errors.New("no signing key available")
	}

	claims := jwtx.NewAccessClaims(jwtx.AccessClaimsParams{
		Subject:  accountID,
		Session:  sessionToken,
		Email:    email,
		Role:     string(role),
		Issuer:   s.Config.Issuer,
		Audience: s.Config.Audience,
		TTL:      s.Config.AccessTokenTTL,
		Now:      now,
	})
	access, err := signer.Sign(claims)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	refresh, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.TokenPair{}, err
	}
	err = repo.CreateRefreshToken(ctx, domain.RefreshToken{
		ID:           idx.NewAt(now).String(),
		AccountID:    accountID,
		SessionToken: sessionToken,
		TokenHash:    cryptox.FingerprintToken(refresh),
		ExpiresAt:    now.Add(s.Config.RefreshTokenTTL),
		CreatedAt:    now,
	})
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    s.Config.AccessTokenTTL,
	}, nil
}

// RefreshAccessToken exchanges a refresh token for a new pair. The old
// token is revoked and the session slid forward in the same transaction.
// Presenting an already revoked
// token ends the session it belongs to.
func (s *TokenService) RefreshAccessToken(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	now := resolveNow(s.Now)
	hash := cryptox.FingerprintToken(refreshToken)

	var (
		pair domain.TokenPair
		rt   domain.RefreshToken
	)
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		rt, err = tx.RefreshTokens().GetRefreshTokenByHash(ctx, hash)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidRefreshToken
			}
			return fmt.Errorf("failed to load refresh token: %w", err)
		}
		if rt.Revoked {
			return errRefreshReuse
		}
		if !now.Before(rt.ExpiresAt) {
			return ErrInvalidRefreshToken
		}

		sess, err := tx.Sessions().GetSessionByToken(ctx, rt.SessionToken)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidRefreshToken
			}
			return fmt.Errorf("failed to load session: %w", err)
		}
		if !sess.Live(now) {
			return ErrInvalidRefreshToken
		}

		acct, err := tx.Accounts().GetAccountByID(ctx, rt.AccountID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidRefreshToken
			}
			return fmt.Errorf("failed to load account: %w", err)
		}
		if acct.IsDeactivated() {
			return ErrInvalidRefreshToken
		}

		if err := tx.RefreshTokens().RevokeRefreshToken(ctx, hash, now); err != nil {
			return fmt.Errorf("failed to revoke refresh token: %w", err)
		}
		if err := tx.Sessions().RenewSession(ctx, sess.ID, s.Config.slide(&sess, now, sess.RememberMe)); err != nil {
			return fmt.Errorf("failed to extend session: %w", err)
		}

		pair, err = s.issue(ctx, tx.RefreshTokens(), acct.ID, acct.Email, acct.Role, sess.Token, now)
		return err
	})

	switch {
	case err == nil:
		s.Metrics.Refresh(true)
		return pair, nil
	case errors.Is(err, errRefreshReuse):
		s.revokeFamily(ctx, rt, now)
		s.reject(ctx, rt, "reuse", now)
		return domain.TokenPair{}, ErrInvalidRefreshToken
	case errors.Is(err, ErrInvalidRefreshToken):
		s.reject(ctx, rt, "invalid", now)
		return domain.TokenPair{}, err
	default:
		return domain.TokenPair{}, err
	}
}

// RevokeRefreshToken revokes a token. Unknown and already revoked tokens
// are not an error.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.Store.RefreshTokens().RevokeRefreshToken(ctx, cryptox.FingerprintToken(refreshToken), resolveNow(s.Now)); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// revokeFamily ends the session behind a replayed token and every refresh
// token minted for it.
func (s *TokenService) revokeFamily(ctx context.Context, rt domain.RefreshToken, now time.Time) {
	log := slogx.FromContext(ctx)
	log.Warn("revoked refresh token presented again", "account_id", rt.AccountID)

	sess, err := s.Store.Sessions().GetSessionByToken(ctx, rt.SessionToken)
	switch {
	case err == nil && sess.Active:
		if err := s.Store.Sessions().TerminateSession(ctx, rt.SessionToken, domain.TerminatedRefreshReuse, now); err != nil {
			log.Error("failed to terminate session after refresh reuse", "err", err)
			break
		}
		s.Metrics.SessionsTerminated(domain.TerminatedRefreshReuse, 1)
		if s.Audit != nil {
			e := audit.New(audit.SessionTerminated, now)
			e.AccountID = rt.AccountID
			e.SessionID = sess.ID
			e.Metadata = map[string]string{"reason": domain.TerminatedRefreshReuse}
			s.Audit.Emit(ctx, e)
		}
	case err != nil && !errors.Is(err, store.ErrNotFound):
		log.Error("failed to load session after refresh reuse", "err", err)
	}

	if err := s.Store.RefreshTokens().RevokeSessionRefreshTokens(ctx, rt.SessionToken, now); err != nil {
		log.Error("failed to revoke session refresh tokens", "err", err)
	}
}

func (s *TokenService) reject(ctx context.Context, rt domain.RefreshToken, reason string, now time.Time) {
	s.Metrics.Refresh(false)
	if s.Audit == nil || rt.AccountID == "" {
		return
	}
	e := audit.New(audit.RefreshTokenRejected, now)
	e.AccountID = rt.AccountID
	e.Metadata = map[string]string{"reason": reason}
	s.Audit.Emit(ctx, e)
}
