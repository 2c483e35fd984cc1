package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
)

const accountColumns = `id, email, username, password_hash, role,
	failed_login_attempts, failed_second_factor_attempts, locked_until,
	second_factor_secret, second_factor_enabled_at, email_verified_at,
	deactivated_at, created_at, updated_at`

type accountsRepo struct {
	q querier
}

func (r *accountsRepo) CreateAccount(ctx context.Context, a domain.Account) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO accounts (id, email, username, password_hash, role,
			email_verified_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		domain.NormalizeEmail(a.Email),
		a.Username,
		a.PasswordHash,
		string(a.Role),
		mapOptionalMillis(a.EmailVerifiedAt),
		toMillis(a.CreatedAt),
		toMillis(a.UpdatedAt),
	)
	return mapConstraint(err)
}

func (r *accountsRepo) GetAccountByID(ctx context.Context, id string) (domain.Account, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

func (r *accountsRepo) GetAccountByEmail(ctx context.Context, email string) (domain.Account, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = ?`,
		domain.NormalizeEmail(email),
	)
	return scanAccount(row)
}

func (r *accountsRepo) RecordFailedLogin(
	ctx context.Context,
	id string,
	p store.LockoutPolicy,
) (store.FailureOutcome, error) {
	return r.recordFailure(ctx, "failed_login_attempts", id, p)
}

func (r *accountsRepo) RecordFailedSecondFactor(
	ctx context.Context,
	id string,
	p store.LockoutPolicy,
) (store.FailureOutcome, error) {
	return r.recordFailure(ctx, "failed_second_factor_attempts", id, p)
}

// recordFailure increments the named counter in one statement. A lock that
// has already run out restarts the count at 1 so the account is not
// re-locked by the first miss after it expires.
func (r *accountsRepo) recordFailure(
	ctx context.Context,
	column string,
	id string,
	p store.LockoutPolicy,
) (store.FailureOutcome, error) {
	now := toMillis(p.Now)
	lockUntil := toMillis(p.Now.Add(p.Duration))

	query := fmt.Sprintf(`
		UPDATE accounts SET
			%[1]s = CASE
				WHEN locked_until IS NOT NULL AND locked_until <= ?1 THEN 1
				ELSE %[1]s + 1
			END,
			locked_until = CASE
				WHEN locked_until IS NOT NULL AND locked_until > ?1 THEN locked_until
				WHEN (CASE WHEN locked_until IS NOT NULL AND locked_until <= ?1 THEN 1 ELSE %[1]s + 1 END) >= ?2 THEN ?3
				WHEN locked_until IS NOT NULL AND locked_until <= ?1 THEN NULL
				ELSE locked_until
			END,
			updated_at = ?1
		WHERE id = ?4
		RETURNING %[1]s, locked_until`, column)

	var (
		attempts int64
		locked   sql.NullInt64
	)
	err := r.q.QueryRowContext(ctx, query, now, int64(p.Threshold), lockUntil, id).Scan(&attempts, &locked)
	if err != nil {
		return store.FailureOutcome{}, mapNotFound(err)
	}

	out := store.FailureOutcome{
		Attempts:    uint(attempts), // #nosec G115 - counter is never negative
		LockedUntil: mapNullMillis(locked),
	}
	out.JustLocked = locked.Valid && locked.Int64 == lockUntil
	return out, nil
}

func (r *accountsRepo) ResetFailedLogins(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE accounts SET failed_login_attempts = 0, locked_until = NULL, updated_at = ?
		WHERE id = ?`, toMillis(at), id)
}

func (r *accountsRepo) ResetFailedSecondFactor(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE accounts SET failed_second_factor_attempts = 0, updated_at = ?
		WHERE id = ?`, toMillis(at), id)
}

func (r *accountsRepo) Unlock(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE accounts SET
			failed_login_attempts = 0,
			failed_second_factor_attempts = 0,
			locked_until = NULL,
			updated_at = ?
		WHERE id = ?`, toMillis(at), id)
}

func (r *accountsRepo) UpdatePasswordHash(ctx context.Context, id string, hash string, at time.Time) error {
	return r.exec(ctx, `UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, toMillis(at), id)
}

func (r *accountsRepo) SetSecondFactorSecret(ctx context.Context, id string, secret string, at time.Time) error {
	return r.exec(ctx, `UPDATE accounts SET second_factor_secret = ?, updated_at = ? WHERE id = ?`,
		secret, toMillis(at), id)
}

func (r *accountsRepo) EnableSecondFactor(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `UPDATE accounts SET second_factor_enabled_at = ?, updated_at = ? WHERE id = ?`,
		toMillis(at), toMillis(at), id)
}

func (r *accountsRepo) DisableSecondFactor(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE accounts SET second_factor_secret = NULL, second_factor_enabled_at = NULL, updated_at = ?
		WHERE id = ?`, toMillis(at), id)
}

func (r *accountsRepo) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE accounts SET email_verified_at = COALESCE(email_verified_at, ?), updated_at = ?
		WHERE id = ?`, toMillis(at), toMillis(at), id)
}

func (r *accountsRepo) Deactivate(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE accounts SET deactivated_at = COALESCE(deactivated_at, ?), updated_at = ?
		WHERE id = ?`, toMillis(at), toMillis(at), id)
}

// exec runs a single-row update and maps a zero row count to ErrNotFound.
func (r *accountsRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (domain.Account, error) {
	var (
		a                     domain.Account
		role                  string
		failed, failedSecond  int64
		locked, enabled       sql.NullInt64
		verified, deactivated sql.NullInt64
		secret                sql.NullString
		createdAt, updatedAt  int64
	)
	err := row.Scan(
		&a.ID, &a.Email, &a.Username, &a.PasswordHash, &role,
		&failed, &failedSecond, &locked,
		&secret, &enabled, &verified,
		&deactivated, &createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Account{}, mapNotFound(err)
	}

	a.Role = domain.Role(role)
	a.FailedLoginAttempts = uint(failed)              // #nosec G115
	a.FailedSecondFactorAttempts = uint(failedSecond) // #nosec G115
	a.LockedUntil = mapNullMillis(locked)
	a.SecondFactorSecret = mapNullStringPtr(secret)
	a.SecondFactorEnabled = mapNullMillis(enabled)
	a.EmailVerifiedAt = mapNullMillis(verified)
	a.DeactivatedAt = mapNullMillis(deactivated)
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	return a, nil
}
