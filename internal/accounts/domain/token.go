package domain

import "time"

// TokenPair is what a successful login or refresh hands back: a short-lived
// access token (JWT) and the opaque refresh token.
type TokenPair struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type,omitempty"`
	ExpiresIn    time.Duration `json:"expires_in"`
}

// RefreshToken models the stored refresh token record in the DB.
type RefreshToken struct {
	ID           string
	AccountID    string
	SessionToken string
	TokenHash    string // base64url SHA-256 of the opaque value
	ExpiresAt    time.Time
	Revoked      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// VerificationPurpose distinguishes single-use tokens mailed to the user.
type VerificationPurpose string

const (
	PurposeEmailVerification VerificationPurpose = "email_verification"
	PurposePasswordReset     VerificationPurpose = "password_reset"
)

type VerificationToken struct {
	ID        string
	AccountID string
	Purpose   VerificationPurpose
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// SecondFactorSetup is returned when a user starts TOTP enrollment.
type SecondFactorSetup struct {
	Secret          string
	ProvisioningURI string // otpauth:// URL
	Issuer          string
	Account         string
	QRCodePNG       []byte
}
