package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidCredentials      = errors.New("invalid_credentials")
	ErrAccountLocked           = errors.New("account_locked")
	ErrSecondFactorRequired    = errors.New("second_factor_required")
	ErrInvalidSecondFactorCode = errors.New("invalid_second_factor_code")
	ErrSessionNotFound         = errors.New("session_not_found")
	ErrSessionLimitExceeded    = errors.New("session_limit_exceeded")
	ErrInvalidRefreshToken     = errors.New("invalid_refresh_token")

	ErrEmailNotVerified  = errors.New("email_not_verified")
	ErrEmailTaken        = errors.New("email_taken")
	ErrInvalidToken      = errors.New("invalid_token")
	ErrWeakPassword      = errors.New("weak_password")
	ErrInvalidEmail      = errors.New("invalid_email")
	ErrInvalidRole       = errors.New("invalid_role")
	ErrAccountNotFound   = errors.New("account_not_found")
	ErrMFANotEnabled     = errors.New("mfa_not_enabled")
	ErrMFANotEnrolled    = errors.New("mfa_not_enrolled")
	ErrMFAAlreadyEnabled = errors.New("mfa_already_enabled")
)

// AccountLockedError carries when the lock lifts. It matches ErrAccountLocked
// with errors.Is.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *AccountLockedError) Unwrap() error { return ErrAccountLocked }

// RetryAfter is the time left on the lock at now, never negative.
func (e *AccountLockedError) RetryAfter(now time.Time) time.Duration {
	return max(e.Until.Sub(now), 0)
}

// SecondFactorRequiredError is returned by Authenticate when the password
// was right but a TOTP or backup code must follow.
type SecondFactorRequiredError struct {
	AccountID string
}

func (e *SecondFactorRequiredError) Error() string { return ErrSecondFactorRequired.Error() }

func (e *SecondFactorRequiredError) Unwrap() error { return ErrSecondFactorRequired }
