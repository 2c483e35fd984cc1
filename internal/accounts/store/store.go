package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Drivers implement it and expose
// sub-repositories so a Tx-scoped store can hand out the same repos without
// letting callers open a transaction inside a transaction.
type Store interface {
	Accounts() Accounts
	Sessions() Sessions
	RefreshTokens() RefreshTokens
	BackupCodes() BackupCodes
	VerificationTokens() VerificationTokens

	ApplyMigrations() error

	// Tx starts a write transaction and returns a Tx-scoped Store. The
	// caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn in a transaction. A non-nil error from fn rolls the
	// transaction back, nil commits it.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// LockoutPolicy tells a failure counter when to lock the account.
type LockoutPolicy struct {
	Threshold uint
	Duration  time.Duration
	Now       time.Time
}

// FailureOutcome is the counter state right after a failed attempt was
// recorded. LockedUntil is set once the threshold has been reached.
type FailureOutcome struct {
	Attempts    uint
	LockedUntil *time.Time
	JustLocked  bool
}

// SessionRenewal is a partial update applied to a live session. Nil fields
// are left unchanged.
type SessionRenewal struct {
	LastActivityAt time.Time
	ExpiresAt      *time.Time
	RememberMe     *bool
	IP             *string
	UserAgent      *string
}

type Accounts interface {
	// CreateAccount inserts a new account. Duplicate email or username
	// returns ErrAlreadyExists.
	CreateAccount(ctx context.Context, a domain.Account) error

	GetAccountByID(ctx context.Context, id string) (domain.Account, error)

	// GetAccountByEmail looks up by normalised email.
	GetAccountByEmail(ctx context.Context, email string) (domain.Account, error)

	// RecordFailedLogin atomically increments failed_login_attempts and
	// sets locked_until when the new count reaches the policy threshold.
	RecordFailedLogin(ctx context.Context, id string, p LockoutPolicy) (FailureOutcome, error)

	// RecordFailedSecondFactor is RecordFailedLogin for the TOTP counter.
	RecordFailedSecondFactor(ctx context.Context, id string, p LockoutPolicy) (FailureOutcome, error)

	// ResetFailedLogins zeroes the password counter and clears any lock.
	ResetFailedLogins(ctx context.Context, id string, at time.Time) error

	ResetFailedSecondFactor(ctx context.Context, id string, at time.Time) error

	// Unlock zeroes both counters and clears the lock.
	Unlock(ctx context.Context, id string, at time.Time) error

	UpdatePasswordHash(ctx context.Context, id string, hash string, at time.Time) error

	SetSecondFactorSecret(ctx context.Context, id string, secret string, at time.Time) error
	EnableSecondFactor(ctx context.Context, id string, at time.Time) error

	// DisableSecondFactor clears both the secret and the enabled timestamp.
	DisableSecondFactor(ctx context.Context, id string, at time.Time) error

	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
	Deactivate(ctx context.Context, id string, at time.Time) error
}

type Sessions interface {
	CreateSession(ctx context.Context, s domain.Session) error

	GetSessionByToken(ctx context.Context, token string) (domain.Session, error)
	GetSessionByID(ctx context.Context, id string) (domain.Session, error)

	// FindLiveSession returns the active, unexpired session of an account
	// bound to the given device fingerprint.
	FindLiveSession(ctx context.Context, accountID, fingerprint string, now time.Time) (domain.Session, error)

	CountLiveSessions(ctx context.Context, accountID string, now time.Time) (int, error)
	ListLiveSessions(ctx context.Context, accountID string, now time.Time) ([]domain.Session, error)

	// RenewSession applies r to a session that is still active.
	// Returns ErrNotFound when no active session matched.
	RenewSession(ctx context.Context, id string, r SessionRenewal) error

	// TerminateSession flips an active session inactive. Terminating an
	// already inactive or unknown session is not an error.
	TerminateSession(ctx context.Context, token, reason string, at time.Time) error

	// TerminateAccountSessions flips every active session of the account,
	// except keepToken when it is non-empty, and reports how many changed.
	TerminateAccountSessions(ctx context.Context, accountID, keepToken, reason string, at time.Time) (int64, error)

	// ExpireSessions flips expired-but-active sessions inactive. An empty
	// accountID sweeps the whole table.
	ExpireSessions(ctx context.Context, accountID string, now time.Time) (int64, error)

	// RecordLogin appends one successful login to the account's history.
	RecordLogin(ctx context.Context, rec domain.LoginRecord) error

	// RecentLogins returns the account's login history, newest first. Every
	// login appears, including ones that renewed an existing session.
	RecentLogins(ctx context.Context, accountID string, limit int) ([]domain.LoginRecord, error)

	// DeleteLoginsBefore prunes history recorded before cutoff.
	DeleteLoginsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type RefreshTokens interface {
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByHash returns the token by its fingerprint.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// RevokeRefreshToken flips revoked=1. Revoking twice is not an error.
	RevokeRefreshToken(ctx context.Context, hash string, at time.Time) error

	RevokeSessionRefreshTokens(ctx context.Context, sessionToken string, at time.Time) error
	RevokeAccountRefreshTokens(ctx context.Context, accountID string, at time.Time) error

	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

type BackupCodes interface {
	CreateBackupCode(ctx context.Context, accountID string, codeHash string, at time.Time) error

	// ConsumeBackupCode deletes a matching code in a single statement and
	// reports whether one existed.
	ConsumeBackupCode(ctx context.Context, accountID string, codeHash string) (bool, error)

	DeleteAllBackupCodes(ctx context.Context, accountID string) error
	CountBackupCodes(ctx context.Context, accountID string) (int, error)
}

type VerificationTokens interface {
	CreateVerificationToken(ctx context.Context, t domain.VerificationToken) error

	// ConsumeVerificationToken marks an unused, unexpired token as used and
	// returns it. Anything else returns ErrNotFound.
	ConsumeVerificationToken(
		ctx context.Context,
		hash string,
		purpose domain.VerificationPurpose,
		now time.Time,
	) (domain.VerificationToken, error)

	DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error)
}
