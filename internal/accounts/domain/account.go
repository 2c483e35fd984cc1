package domain

import (
	"strings"
	"time"
)

// Role is the platform role attached to an account.
type Role string

const (
	RoleClient    Role = "client"
	RoleDeveloper Role = "developer"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleDeveloper, RoleAdmin:
		return true
	}
	return false
}

type Account struct {
	ID           string
	Email        string // always lower-case
	Username     string
	PasswordHash string // bcrypt or argon2id PHC string
	Role         Role

	FailedLoginAttempts        uint
	FailedSecondFactorAttempts uint
	LockedUntil                *time.Time

	SecondFactorSecret  *string    // base32 TOTP secret (nullable)
	SecondFactorEnabled *time.Time // nil means the second factor is off

	EmailVerifiedAt *time.Time
	DeactivatedAt   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsLocked reports whether the lock is still in effect at now.
func (a Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// HasSecondFactor reports whether TOTP must be presented to log in.
func (a Account) HasSecondFactor() bool {
	return a.SecondFactorEnabled != nil && a.SecondFactorSecret != nil && *a.SecondFactorSecret != ""
}

func (a Account) IsDeactivated() bool { return a.DeactivatedAt != nil }

func (a Account) IsEmailVerified() bool { return a.EmailVerifiedAt != nil }

// NormalizeEmail lower-cases and trims an email address for lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
