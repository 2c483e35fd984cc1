package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
)

const sessionColumns = `id, token, account_id, device_fingerprint, device_name,
	user_agent, ip, remember_me, active, created_at, last_activity_at,
	expires_at, terminated_at, terminated_reason`

type sessionsRepo struct {
	q querier
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO sessions (id, token, account_id, device_fingerprint, device_name,
			user_agent, ip, remember_me, active, created_at, last_activity_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		s.ID,
		s.Token,
		s.AccountID,
		s.DeviceFingerprint,
		s.DeviceName,
		s.UserAgent,
		s.IP,
		boolToInt(s.RememberMe),
		toMillis(s.CreatedAt),
		toMillis(s.LastActivityAt),
		toMillis(s.ExpiresAt),
	)
	return mapConstraint(err)
}

func (r *sessionsRepo) GetSessionByToken(ctx context.Context, token string) (domain.Session, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token = ?`, token)
	return scanSession(row)
}

func (r *sessionsRepo) GetSessionByID(ctx context.Context, id string) (domain.Session, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (r *sessionsRepo) FindLiveSession(
	ctx context.Context,
	accountID, fingerprint string,
	now time.Time,
) (domain.Session, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE account_id = ? AND device_fingerprint = ? AND active = 1 AND expires_at > ?`,
		accountID, fingerprint, toMillis(now),
	)
	return scanSession(row)
}

func (r *sessionsRepo) CountLiveSessions(ctx context.Context, accountID string, now time.Time) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions WHERE account_id = ? AND active = 1 AND expires_at > ?`,
		accountID, toMillis(now),
	).Scan(&n)
	return n, err
}

func (r *sessionsRepo) ListLiveSessions(
	ctx context.Context,
	accountID string,
	now time.Time,
) ([]domain.Session, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE account_id = ? AND active = 1 AND expires_at > ?
		ORDER BY last_activity_at DESC`,
		accountID, toMillis(now),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *sessionsRepo) RenewSession(ctx context.Context, id string, u store.SessionRenewal) error {
	sets := []string{"last_activity_at = ?"}
	args := []any{toMillis(u.LastActivityAt)}

	if u.ExpiresAt != nil {
		sets = append(sets, "expires_at = ?")
		args = append(args, toMillis(*u.ExpiresAt))
	}
	if u.RememberMe != nil {
		sets = append(sets, "remember_me = ?")
		args = append(args, boolToInt(*u.RememberMe))
	}
	if u.IP != nil {
		sets = append(sets, "ip = ?")
		args = append(args, *u.IP)
	}
	if u.UserAgent != nil {
		sets = append(sets, "user_agent = ?")
		args = append(args, *u.UserAgent)
	}
	args = append(args, id)

	res, err := r.q.ExecContext(ctx,
		`UPDATE sessions SET `+strings.Join(sets, ", ")+` WHERE id = ? AND active = 1`,
		args...,
	)
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

func (r *sessionsRepo) TerminateSession(ctx context.Context, token, reason string, at time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE sessions SET active = 0, terminated_at = ?, terminated_reason = ?
		WHERE token = ? AND active = 1`,
		toMillis(at), reason, token,
	)
	return err
}

func (r *sessionsRepo) TerminateAccountSessions(
	ctx context.Context,
	accountID, keepToken, reason string,
	at time.Time,
) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE sessions SET active = 0, terminated_at = ?, terminated_reason = ?
		WHERE account_id = ? AND active = 1 AND token <> ?`,
		toMillis(at), reason, accountID, keepToken,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *sessionsRepo) ExpireSessions(ctx context.Context, accountID string, now time.Time) (int64, error) {
	query := `
		UPDATE sessions SET active = 0, terminated_at = expires_at, terminated_reason = ?
		WHERE active = 1 AND expires_at <= ?`
	args := []any{domain.TerminatedExpired, toMillis(now)}
	if accountID != "" {
		query += ` AND account_id = ?`
		args = append(args, accountID)
	}

	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *sessionsRepo) RecordLogin(ctx context.Context, rec domain.LoginRecord) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO login_history (account_id, session_id, ip, device_fingerprint,
			device_key, user_agent, logged_in_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.AccountID,
		rec.SessionID,
		rec.IP,
		rec.DeviceFingerprint,
		rec.DeviceKey,
		rec.UserAgent,
		toMillis(rec.At),
	)
	return mapConstraint(err)
}

func (r *sessionsRepo) RecentLogins(ctx context.Context, accountID string, limit int) ([]domain.LoginRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT account_id, session_id, ip, device_fingerprint, device_key,
			user_agent, logged_in_at
		FROM login_history
		WHERE account_id = ?
		ORDER BY logged_in_at DESC, id DESC
		LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LoginRecord
	for rows.Next() {
		var (
			rec domain.LoginRecord
			at  int64
		)
		err := rows.Scan(&rec.AccountID, &rec.SessionID, &rec.IP,
			&rec.DeviceFingerprint, &rec.DeviceKey, &rec.UserAgent, &at)
		if err != nil {
			return nil, err
		}
		rec.At = fromMillis(at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *sessionsRepo) DeleteLoginsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM login_history WHERE logged_in_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanSession(row rowScanner) (domain.Session, error) {
	var (
		s                         domain.Session
		rememberMe, active        int
		created, lastActivity, ex int64
		terminated                sql.NullInt64
	)
	err := row.Scan(
		&s.ID, &s.Token, &s.AccountID, &s.DeviceFingerprint, &s.DeviceName,
		&s.UserAgent, &s.IP, &rememberMe, &active, &created, &lastActivity,
		&ex, &terminated, &s.TerminatedReason,
	)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}

	s.RememberMe = rememberMe == 1
	s.Active = active == 1
	s.CreatedAt = fromMillis(created)
	s.LastActivityAt = fromMillis(lastActivity)
	s.ExpiresAt = fromMillis(ex)
	s.TerminatedAt = mapNullMillis(terminated)
	return s, nil
}
