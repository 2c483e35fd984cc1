package accountsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Error codes carried in ErrorResponse.Error.
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidCredentials      = "invalid_credentials"
	ErrorCodeAccountLocked           = "account_locked"
	ErrorCodeSecondFactorRequired    = "second_factor_required"
	ErrorCodeInvalidSecondFactorCode = "invalid_second_factor_code"
	ErrorCodeEmailNotVerified        = "email_not_verified"
	ErrorCodeSessionLimitExceeded    = "session_limit_exceeded"
	ErrorCodeSessionNotFound         = "session_not_found"
	ErrorCodeInvalidRefreshToken     = "invalid_refresh_token"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeEmailTaken              = "email_taken"
	ErrorCodeInvalidEmail            = "invalid_email"
	ErrorCodeWeakPassword            = "weak_password"
	ErrorCodeAccountNotFound         = "account_not_found"
	ErrorCodeMFANotEnabled           = "mfa_not_enabled"
	ErrorCodeMFANotEnrolled          = "mfa_not_enrolled"
	ErrorCodeMFAAlreadyEnabled       = "mfa_already_enabled"
	ErrorCodeForbidden               = "forbidden"
	ErrorCodeServerError             = "server_error"
)

// Error is a non-2xx response from the accounts service.
type Error struct {
	StatusCode  int
	Code        string
	Description string

	// RetryAfter is parsed from the Retry-After header, zero when absent.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("accounts: %d %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("accounts: %d %s: %s", e.StatusCode, e.Code, e.Description)
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func parseErrorResponse(resp *http.Response, body []byte) error {
	out := &Error{StatusCode: resp.StatusCode}

	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		out.Code = er.Error
		out.Description = er.ErrorDescription
	} else {
		out.Code = ErrorCodeServerError
		out.Description = http.StatusText(resp.StatusCode)
	}

	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			out.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return out
}
