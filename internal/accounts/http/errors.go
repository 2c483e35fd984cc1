package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/aussiebroadwan/accounts/pkg/accountsdk"
	"github.com/aussiebroadwan/accounts/pkg/httpx"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
)

// serviceErrors maps service sentinels to their wire form. Credential
// failures share one description so responses never reveal which part
// was wrong.
var serviceErrors = []struct {
	err error
	api httpx.APIError
}{
	{service.ErrInvalidCredentials, apiError(http.StatusUnauthorized, accountsdk.ErrorCodeInvalidCredentials, "invalid email or password")},
	{service.ErrSecondFactorRequired, apiError(http.StatusUnauthorized, accountsdk.ErrorCodeSecondFactorRequired, "a TOTP or backup code is required")},
	{service.ErrInvalidSecondFactorCode, apiError(http.StatusUnauthorized, accountsdk.ErrorCodeInvalidSecondFactorCode, "invalid second factor code")},
	{service.ErrEmailNotVerified, apiError(http.StatusForbidden, accountsdk.ErrorCodeEmailNotVerified, "verify your email address before signing in")},
	{service.ErrSessionLimitExceeded, apiError(http.StatusConflict, accountsdk.ErrorCodeSessionLimitExceeded, "too many signed-in devices, sign out of another device to continue")},
	{service.ErrSessionNotFound, apiError(http.StatusNotFound, accountsdk.ErrorCodeSessionNotFound, "session not found")},
	{service.ErrInvalidRefreshToken, apiError(http.StatusUnauthorized, accountsdk.ErrorCodeInvalidRefreshToken, "refresh token is invalid, expired or revoked")},
	{service.ErrInvalidToken, apiError(http.StatusBadRequest, accountsdk.ErrorCodeInvalidToken, "token is invalid or expired")},
	{service.ErrEmailTaken, apiError(http.StatusConflict, accountsdk.ErrorCodeEmailTaken, "email is already registered")},
	{service.ErrInvalidEmail, apiError(http.StatusBadRequest, accountsdk.ErrorCodeInvalidEmail, "email address is not valid")},
	{service.ErrWeakPassword, apiError(http.StatusBadRequest, accountsdk.ErrorCodeWeakPassword, "password does not meet the length requirements")},
	{service.ErrInvalidRole, apiError(http.StatusBadRequest, accountsdk.ErrorCodeInvalidRequest, "role cannot be requested")},
	{service.ErrAccountNotFound, apiError(http.StatusNotFound, accountsdk.ErrorCodeAccountNotFound, "account not found")},
	{service.ErrMFANotEnabled, apiError(http.StatusBadRequest, accountsdk.ErrorCodeMFANotEnabled, "second factor is not enabled")},
	{service.ErrMFANotEnrolled, apiError(http.StatusBadRequest, accountsdk.ErrorCodeMFANotEnrolled, "start enrollment first")},
	{service.ErrMFAAlreadyEnabled, apiError(http.StatusBadRequest, accountsdk.ErrorCodeMFAAlreadyEnabled, "second factor is already enabled")},
}

func apiError(status int, code, desc string) httpx.APIError {
	return httpx.APIError{StatusCode: status, Code: code, Description: desc}
}

// writeServiceError writes err as an APIError. Unknown errors are logged
// and reported as a bare 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, now time.Time) {
	var locked *service.AccountLockedError
	if errors.As(err, &locked) {
		httpx.WriteError(w, httpx.APIError{
			StatusCode:  http.StatusLocked,
			Code:        accountsdk.ErrorCodeAccountLocked,
			Description: "account is temporarily locked after repeated failures",
			RetryAfter:  locked.RetryAfter(now),
		})
		return
	}

	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			httpx.WriteError(w, m.api)
			return
		}
	}

	slogx.FromContext(r.Context()).Error("request failed", "err", err)
	httpx.WriteError(w, httpx.ErrInternal)
}

func resolveNow(now func() time.Time) time.Time {
	if now == nil {
		return time.Now()
	}
	return now()
}
