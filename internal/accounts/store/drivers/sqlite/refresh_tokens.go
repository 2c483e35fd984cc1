package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
)

type refreshTokensRepo struct {
	q querier
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, account_id, session_token, token_hash, expires_at,
			revoked, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		t.ID,
		t.AccountID,
		t.SessionToken,
		t.TokenHash,
		toMillis(t.ExpiresAt),
		toMillis(created),
		toMillis(created),
	)
	return mapConstraint(err)
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	var (
		t                     domain.RefreshToken
		revoked               int
		expires, created, upd int64
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, account_id, session_token, token_hash, expires_at, revoked, created_at, updated_at
		FROM refresh_tokens WHERE token_hash = ?`, hash,
	).Scan(&t.ID, &t.AccountID, &t.SessionToken, &t.TokenHash, &expires, &revoked, &created, &upd)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}

	t.Revoked = revoked == 1
	t.ExpiresAt = fromMillis(expires)
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(upd)
	return t, nil
}

func (r *refreshTokensRepo) RevokeRefreshToken(ctx context.Context, hash string, at time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = 1, updated_at = ? WHERE token_hash = ? AND revoked = 0`,
		toMillis(at), hash,
	)
	return err
}

func (r *refreshTokensRepo) RevokeSessionRefreshTokens(ctx context.Context, sessionToken string, at time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = 1, updated_at = ? WHERE session_token = ? AND revoked = 0`,
		toMillis(at), sessionToken,
	)
	return err
}

func (r *refreshTokensRepo) RevokeAccountRefreshTokens(ctx context.Context, accountID string, at time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = 1, updated_at = ? WHERE account_id = ? AND revoked = 0`,
		toMillis(at), accountID,
	)
	return err
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
