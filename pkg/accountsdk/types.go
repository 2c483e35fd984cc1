package accountsdk

import "time"

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ============================================================================
// Account Types
// ============================================================================

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
	Password string `json:"password"`
}

// AccountResponse is the public view of an account.
type AccountResponse struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	Username            string     `json:"username"`
	Role                string     `json:"role"`
	EmailVerified       bool       `json:"email_verified"`
	SecondFactorEnabled bool       `json:"second_factor_enabled"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

type VerifyEmailRequest struct {
	Token string `json:"token"`
}

type PasswordResetRequest struct {
	Email string `json:"email"`
}

type PasswordResetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ============================================================================
// Login Types
// ============================================================================

// LoginRequest carries the credentials plus the optional client hints used
// to fingerprint the device.
type LoginRequest struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	RememberMe       bool   `json:"remember_me,omitempty"`
	ScreenResolution string `json:"screen_resolution,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	Language         string `json:"language,omitempty"`
}

// SecondFactorLoginRequest repeats the credentials together with a TOTP or
// backup code.
type SecondFactorLoginRequest struct {
	LoginRequest

	Code string `json:"code"`
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int `json:"expires_in"`
}

// LoginResponse is a TokenResponse plus the session and risk outcome.
type LoginResponse struct {
	TokenResponse

	SessionID string        `json:"session_id"`
	Risk      *RiskResponse `json:"risk,omitempty"`
}

// RiskResponse reports why a login was flagged.
type RiskResponse struct {
	Score      int      `json:"score"`
	Confidence float64  `json:"confidence"`
	Factors    []string `json:"factors"`
	Escalated  bool     `json:"escalated"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest ends the calling session. With All set every session of
// the account is ended.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
	All          bool   `json:"all,omitempty"`
}

// ============================================================================
// Session Types
// ============================================================================

type SessionResponse struct {
	ID             string    `json:"id"`
	DeviceName     string    `json:"device_name"`
	IP             string    `json:"ip"`
	RememberMe     bool      `json:"remember_me"`
	Current        bool      `json:"current"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

type TerminatedResponse struct {
	Terminated int64 `json:"terminated"`
}

// ============================================================================
// Second Factor Types
// ============================================================================

// TOTPEnrollResponse holds everything an authenticator app needs. QRCode is
// a base64 PNG.
type TOTPEnrollResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCode          string `json:"qr_code"`
	Issuer          string `json:"issuer"`
	Account         string `json:"account"`
}

type TOTPCodeRequest struct {
	Code string `json:"code"`
}

// BackupCodesResponse is shown once; the codes are stored hashed.
type BackupCodesResponse struct {
	Codes []string `json:"codes"`
}

// ============================================================================
// Health Types
// ============================================================================

type HealthChecks struct {
	Database string `json:"database"`
	Signer   string `json:"signer"`
}

type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}
