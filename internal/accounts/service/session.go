package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/audit"
	"github.com/aussiebroadwan/accounts/internal/accounts/device"
	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/metrics"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
	"github.com/aussiebroadwan/accounts/pkg/cryptox"
	"github.com/aussiebroadwan/accounts/pkg/idx"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
)

// SessionService manages device-bound sessions: one live session per
// account and device fingerprint, sliding expiry and a per-account cap.
type SessionService struct {
	Store   store.Store
	Config  Config
	Audit   audit.Sink
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// CreateSession starts a session for the device described by userAgent, ip
// and meta. A live session already bound to the same fingerprint is
// renewed instead, so one device never holds two rows. Either way the
// login is appended to the account's history.
func (s *SessionService) CreateSession(
	ctx context.Context,
	accountID, userAgent, ip string,
	rememberMe bool,
	meta domain.SessionMeta,
) (domain.Session, error) {
	now := resolveNow(s.Now)
	fp := device.Fingerprint(ip, userAgent, device.Meta(meta))
	key := device.Key(userAgent, device.Meta(meta))
	ttl := s.Config.sessionTTL(rememberMe)

	var (
		out      domain.Session
		extended bool
	)
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		record := func(sess domain.Session) error {
			err := tx.Sessions().RecordLogin(ctx, domain.LoginRecord{
				AccountID:         accountID,
				SessionID:         sess.ID,
				IP:                ip,
				DeviceFingerprint: fp,
				DeviceKey:         key,
				UserAgent:         userAgent,
				At:                now,
			})
			if err != nil {
				return fmt.Errorf("failed to record login: %w", err)
			}
			return nil
		}

		// Flip stale rows first so the partial unique index only sees
		// sessions that are really live.
		if _, err := tx.Sessions().ExpireSessions(ctx, accountID, now); err != nil {
			return fmt.Errorf("failed to expire sessions: %w", err)
		}

		existing, err := tx.Sessions().FindLiveSession(ctx, accountID, fp, now)
		switch {
		case err == nil:
			expires := laterOf(existing.ExpiresAt, now.Add(ttl))
			remember := existing.RememberMe || rememberMe
			renewal := store.SessionRenewal{
				LastActivityAt: now,
				ExpiresAt:      &expires,
				RememberMe:     &remember,
				IP:             &ip,
				UserAgent:      &userAgent,
			}
			if err := tx.Sessions().RenewSession(ctx, existing.ID, renewal); err != nil {
				return fmt.Errorf("failed to renew session: %w", err)
			}
			existing.LastActivityAt = now
			existing.ExpiresAt = expires
			existing.RememberMe = remember
			existing.IP = ip
			existing.UserAgent = userAgent
			out, extended = existing, true
			return record(existing)
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("failed to look up device session: %w", err)
		}

		live, err := tx.Sessions().CountLiveSessions(ctx, accountID, now)
		if err != nil {
			return fmt.Errorf("failed to count sessions: %w", err)
		}
		if s.Config.MaxSessions > 0 && live >= s.Config.MaxSessions {
			return ErrSessionLimitExceeded
		}

		token, err := cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			return err
		}
		sess := domain.Session{
			ID:                idx.NewAt(now).String(),
			Token:             token,
			AccountID:         accountID,
			DeviceFingerprint: fp,
			DeviceName:        device.CreateDeviceName(device.ParseUserAgent(userAgent)),
			UserAgent:         userAgent,
			IP:                ip,
			RememberMe:        rememberMe,
			Active:            true,
			CreatedAt:         now,
			LastActivityAt:    now,
			ExpiresAt:         now.Add(ttl),
		}
		if err := tx.Sessions().CreateSession(ctx, sess); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		out = sess
		return record(sess)
	})
	if err != nil {
		return domain.Session{}, err
	}

	s.Metrics.SessionCreated(extended)
	e := s.event(audit.SessionCreated, out, now)
	e.IP = ip
	e.UserAgent = userAgent
	if extended {
		e.Metadata = map[string]string{"extended": "true"}
	}
	s.emit(ctx, e)
	return out, nil
}

// ExtendSession slides a live session forward. The expiry only moves once
// the remaining TTL drops under the extension threshold, otherwise just
// the activity time is bumped.
func (s *SessionService) ExtendSession(ctx context.Context, sessionID string, rememberMe bool) (domain.Session, error) {
	now := resolveNow(s.Now)

	sess, err := s.Store.Sessions().GetSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Session{}, ErrSessionNotFound
		}
		return domain.Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	if !sess.Live(now) {
		s.expireInline(ctx, sess, now)
		return domain.Session{}, ErrSessionNotFound
	}

	renewal := s.Config.slide(&sess, now, rememberMe)
	if err := s.Store.Sessions().RenewSession(ctx, sess.ID, renewal); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Session{}, ErrSessionNotFound
		}
		return domain.Session{}, fmt.Errorf("failed to extend session: %w", err)
	}
	return sess, nil
}

// ValidateSession returns the live session for token and slides it the
// same way ExtendSession does. Missing, inactive and expired sessions
// yield nil.
func (s *SessionService) ValidateSession(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, nil
	}
	now := resolveNow(s.Now)

	sess, err := s.Store.Sessions().GetSessionByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !sess.Live(now) {
		s.expireInline(ctx, sess, now)
		return nil, nil
	}

	renewal := s.Config.slide(&sess, now, sess.RememberMe)
	if err := s.Store.Sessions().RenewSession(ctx, sess.ID, renewal); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}
	return &sess, nil
}

// SessionActive adapts ValidateSession for the bearer middleware.
func (s *SessionService) SessionActive(ctx context.Context, token string) bool {
	sess, err := s.ValidateSession(ctx, token)
	if err != nil {
		slogx.FromContext(ctx).Error("session validation failed", "err", err)
		return false
	}
	return sess != nil
}

// TerminateSession deactivates the session. Already inactive or unknown
// sessions are a no-op.
func (s *SessionService) TerminateSession(ctx context.Context, token, reason string) error {
	now := resolveNow(s.Now)
	if err := s.Store.Sessions().TerminateSession(ctx, token, reason, now); err != nil {
		return fmt.Errorf("failed to terminate session: %w", err)
	}
	s.Metrics.SessionsTerminated(reason, 1)
	return nil
}

// TerminateAllUserSessions deactivates every session of the account.
func (s *SessionService) TerminateAllUserSessions(ctx context.Context, accountID, reason string) (int64, error) {
	return s.terminateAccount(ctx, accountID, "", reason)
}

// TerminateOtherSessions deactivates every session except keepToken.
func (s *SessionService) TerminateOtherSessions(ctx context.Context, accountID, keepToken string) (int64, error) {
	return s.terminateAccount(ctx, accountID, keepToken, domain.TerminatedByUser)
}

func (s *SessionService) terminateAccount(ctx context.Context, accountID, keep, reason string) (int64, error) {
	now := resolveNow(s.Now)
	n, err := s.Store.Sessions().TerminateAccountSessions(ctx, accountID, keep, reason, now)
	if err != nil {
		return 0, fmt.Errorf("failed to terminate sessions: %w", err)
	}
	s.Metrics.SessionsTerminated(reason, n)
	if n > 0 {
		e := audit.New(audit.SessionTerminated, now)
		e.AccountID = accountID
		e.Metadata = map[string]string{"reason": reason, "count": fmt.Sprint(n)}
		s.emit(ctx, e)
	}
	return n, nil
}

// ListActiveSessions returns the live sessions, most recently used first.
func (s *SessionService) ListActiveSessions(ctx context.Context, accountID string) ([]domain.Session, error) {
	out, err := s.Store.Sessions().ListLiveSessions(ctx, accountID, resolveNow(s.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return out, nil
}

// ReapExpired flips every expired-but-active session. Validation already
// expires sessions lazily; this keeps the table and live counts tidy.
func (s *SessionService) ReapExpired(ctx context.Context) (int64, error) {
	n, err := s.Store.Sessions().ExpireSessions(ctx, "", resolveNow(s.Now))
	if err != nil {
		return 0, fmt.Errorf("failed to reap sessions: %w", err)
	}
	s.Metrics.SessionsTerminated(domain.TerminatedExpired, n)
	return n, nil
}

// PruneLoginHistory drops login history older than the retention window.
func (s *SessionService) PruneLoginHistory(ctx context.Context) (int64, error) {
	if s.Config.LoginHistoryRetention <= 0 {
		return 0, nil
	}
	cutoff := resolveNow(s.Now).Add(-s.Config.LoginHistoryRetention)
	n, err := s.Store.Sessions().DeleteLoginsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune login history: %w", err)
	}
	return n, nil
}

func (s *SessionService) expireInline(ctx context.Context, sess domain.Session, now time.Time) {
	if !sess.Active {
		return
	}
	if err := s.Store.Sessions().TerminateSession(ctx, sess.Token, domain.TerminatedExpired, now); err != nil {
		slogx.FromContext(ctx).Warn("failed to expire session", "err", err, "session_id", sess.ID)
	}
}

func (s *SessionService) event(t audit.Type, sess domain.Session, at time.Time) audit.Event {
	e := audit.New(t, at)
	e.AccountID = sess.AccountID
	e.Actor = sess.AccountID
	e.SessionID = sess.ID
	return e
}

func (s *SessionService) emit(ctx context.Context, e audit.Event) {
	if s.Audit != nil {
		s.Audit.Emit(ctx, e)
	}
}

// slide bumps the activity time of sess and, once less than ExtensionRatio
// of the TTL remains, pushes its expiry to a fresh TTL. sess is updated to
// match the returned renewal.
func (c Config) slide(sess *domain.Session, now time.Time, rememberMe bool) store.SessionRenewal {
	renewal := store.SessionRenewal{LastActivityAt: now}
	ttl := c.sessionTTL(rememberMe)
	if sess.ExpiresAt.Sub(now) < time.Duration(float64(ttl)*c.ExtensionRatio) {
		expires := laterOf(sess.ExpiresAt, now.Add(ttl))
		renewal.ExpiresAt = &expires
		renewal.RememberMe = &rememberMe
		sess.ExpiresAt = expires
		sess.RememberMe = rememberMe
	}
	sess.LastActivityAt = now
	return renewal
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
