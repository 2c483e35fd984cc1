package accountsdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// refreshSkew refreshes the access token this long before it expires.
const refreshSkew = 30 * time.Second

// Session is a logged-in device. Its methods refresh the access token
// automatically; refresh tokens rotate, so the Session always holds the
// latest one.
type Session struct {
	client *Client

	mu           sync.RWMutex
	id           string
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	risk         *RiskResponse
}

func newSession(c *Client, resp *LoginResponse) *Session {
	s := &Session{client: c, id: resp.SessionID, risk: resp.Risk}
	s.setTokens(&resp.TokenResponse)
	return s
}

// ResumeSession rebuilds a Session from stored tokens.
func (c *Client) ResumeSession(sessionID, accessToken, refreshToken string, expiresIn int) *Session {
	s := &Session{client: c, id: sessionID}
	s.setTokens(&TokenResponse{AccessToken: accessToken, RefreshToken: refreshToken, ExpiresIn: expiresIn})
	return s
}

func (s *Session) setTokens(t *TokenResponse) {
	s.accessToken = t.AccessToken
	s.refreshToken = t.RefreshToken
	s.expiresAt = time.Now().Add(time.Duration(t.ExpiresIn)*time.Second - refreshSkew)
}

// ID is the server-side session id, as listed by ListSessions.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// Risk is the assessment returned at login, nil when the login was not
// flagged.
func (s *Session) Risk() *RiskResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.risk
}

// validToken returns the access token, refreshing it first when expired.
func (s *Session) validToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	if time.Now().Before(s.expiresAt) {
		token := s.accessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have refreshed while we waited.
	if time.Now().Before(s.expiresAt) {
		return s.accessToken, nil
	}
	if err := s.refreshLocked(ctx); err != nil {
		return "", err
	}
	return s.accessToken, nil
}

// Refresh rotates the tokens now.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *Session) refreshLocked(ctx context.Context) error {
	if s.refreshToken == "" {
		return errors.New("access token expired and no refresh token available")
	}
	t, err := s.client.Refresh(ctx, s.refreshToken)
	if err != nil {
		return fmt.Errorf("failed to refresh token: %w", err)
	}
	s.setTokens(t)
	return nil
}

// Account returns the caller's own account.
func (s *Session) Account(ctx context.Context) (*AccountResponse, error) {
	var out AccountResponse
	if err := s.doAuth(ctx, http.MethodGet, "/v1/auth/me", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout ends this session and spends its refresh token.
func (s *Session) Logout(ctx context.Context) error {
	return s.doAuth(ctx, http.MethodPost, "/v1/auth/logout",
		LogoutRequest{RefreshToken: s.RefreshToken()}, nil, http.StatusNoContent)
}

// LogoutAll ends every session of the account.
func (s *Session) LogoutAll(ctx context.Context) error {
	return s.doAuth(ctx, http.MethodPost, "/v1/auth/logout", LogoutRequest{All: true}, nil, http.StatusNoContent)
}

// ChangePassword keeps this session and signs every other device out.
func (s *Session) ChangePassword(ctx context.Context, current, next string) error {
	req := ChangePasswordRequest{CurrentPassword: current, NewPassword: next}
	return s.doAuth(ctx, http.MethodPost, "/v1/auth/password", req, nil, http.StatusNoContent)
}

func (s *Session) ListSessions(ctx context.Context) ([]SessionResponse, error) {
	var out SessionListResponse
	if err := s.doAuth(ctx, http.MethodGet, "/v1/sessions", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// TerminateSession signs out one of the account's devices by session id.
func (s *Session) TerminateSession(ctx context.Context, id string) error {
	return s.doAuth(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(id), nil, nil, http.StatusNoContent)
}

// TerminateOtherSessions signs out every device but this one.
func (s *Session) TerminateOtherSessions(ctx context.Context) (int64, error) {
	var out TerminatedResponse
	if err := s.doAuth(ctx, http.MethodDelete, "/v1/sessions", nil, &out, http.StatusOK); err != nil {
		return 0, err
	}
	return out.Terminated, nil
}

// ============================================================================
// Second factor
// ============================================================================

func (s *Session) EnrollTOTP(ctx context.Context) (*TOTPEnrollResponse, error) {
	var out TOTPEnrollResponse
	if err := s.doAuth(ctx, http.MethodPost, "/v1/mfa/totp/enroll", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfirmTOTP enables the second factor and returns the backup codes.
func (s *Session) ConfirmTOTP(ctx context.Context, code string) ([]string, error) {
	return s.backupCodes(ctx, "/v1/mfa/totp/verify", code)
}

func (s *Session) RegenerateBackupCodes(ctx context.Context, code string) ([]string, error) {
	return s.backupCodes(ctx, "/v1/mfa/backup-codes", code)
}

func (s *Session) DisableTOTP(ctx context.Context, code string) error {
	return s.doAuth(ctx, http.MethodDelete, "/v1/mfa/totp", TOTPCodeRequest{Code: code}, nil, http.StatusNoContent)
}

func (s *Session) backupCodes(ctx context.Context, path, code string) ([]string, error) {
	var out BackupCodesResponse
	if err := s.doAuth(ctx, http.MethodPost, path, TOTPCodeRequest{Code: code}, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Codes, nil
}

// ============================================================================
// Admin
// ============================================================================

// UnlockAccount clears a lockout. Requires the admin role.
func (s *Session) UnlockAccount(ctx context.Context, accountID string) error {
	path := "/v1/admin/accounts/" + url.PathEscape(accountID) + "/unlock"
	return s.doAuth(ctx, http.MethodPost, path, nil, nil, http.StatusNoContent)
}

// DeactivateAccount soft-deletes an account and ends its sessions.
// Requires the admin role.
func (s *Session) DeactivateAccount(ctx context.Context, accountID string) error {
	path := "/v1/admin/accounts/" + url.PathEscape(accountID)
	return s.doAuth(ctx, http.MethodDelete, path, nil, nil, http.StatusNoContent)
}
