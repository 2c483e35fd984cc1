package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
)

type verificationTokensRepo struct {
	q querier
}

func (r *verificationTokensRepo) CreateVerificationToken(ctx context.Context, t domain.VerificationToken) error {
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO verification_tokens (id, account_id, purpose, token_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, string(t.Purpose), t.TokenHash, toMillis(t.ExpiresAt), toMillis(created),
	)
	return mapConstraint(err)
}

func (r *verificationTokensRepo) ConsumeVerificationToken(
	ctx context.Context,
	hash string,
	purpose domain.VerificationPurpose,
	now time.Time,
) (domain.VerificationToken, error) {
	var (
		t                domain.VerificationToken
		p                string
		expires, created int64
		used             sql.NullInt64
	)
	err := r.q.QueryRowContext(ctx, `
		UPDATE verification_tokens SET used_at = ?1
		WHERE token_hash = ?2 AND purpose = ?3 AND used_at IS NULL AND expires_at > ?1
		RETURNING id, account_id, purpose, token_hash, expires_at, used_at, created_at`,
		toMillis(now), hash, string(purpose),
	).Scan(&t.ID, &t.AccountID, &p, &t.TokenHash, &expires, &used, &created)
	if err != nil {
		return domain.VerificationToken{}, mapNotFound(err)
	}

	t.Purpose = domain.VerificationPurpose(p)
	t.ExpiresAt = fromMillis(expires)
	t.UsedAt = mapNullMillis(used)
	t.CreatedAt = fromMillis(created)
	return t, nil
}

func (r *verificationTokensRepo) DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM verification_tokens WHERE expires_at <= ? OR used_at IS NOT NULL`,
		toMillis(now),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
