package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type backupCodesRepo struct {
	q querier
}

func (r *backupCodesRepo) CreateBackupCode(ctx context.Context, accountID string, codeHash string, at time.Time) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO backup_codes (account_id, code_hash, created_at) VALUES (?, ?, ?)`,
		accountID, codeHash, toMillis(at),
	)
	return mapConstraint(err)
}

// ConsumeBackupCode uses DELETE ... RETURNING so two concurrent logins with
// the same code cannot both succeed.
func (r *backupCodesRepo) ConsumeBackupCode(ctx context.Context, accountID string, codeHash string) (bool, error) {
	var deleted string
	err := r.q.QueryRowContext(ctx,
		`DELETE FROM backup_codes WHERE account_id = ? AND code_hash = ? RETURNING code_hash`,
		accountID, codeHash,
	).Scan(&deleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *backupCodesRepo) DeleteAllBackupCodes(ctx context.Context, accountID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM backup_codes WHERE account_id = ?`, accountID)
	return err
}

func (r *backupCodesRepo) CountBackupCodes(ctx context.Context, accountID string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM backup_codes WHERE account_id = ?`, accountID,
	).Scan(&n)
	return n, err
}
