package domain

import "time"

// Session is a device-bound login. The Token is the opaque value handed to
// the client and embedded in access tokens as the sid claim.
type Session struct {
	ID                string
	Token             string
	AccountID         string
	DeviceFingerprint string
	DeviceName        string
	UserAgent         string
	IP                string
	RememberMe        bool
	Active            bool
	CreatedAt         time.Time
	LastActivityAt    time.Time
	ExpiresAt         time.Time
	TerminatedAt      *time.Time
	TerminatedReason  string
}

// Live reports whether the session is active and unexpired at now.
func (s Session) Live(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}

// Reasons recorded when a session is terminated.
const (
	TerminatedLogout        = "logout"
	TerminatedExpired       = "expired"
	TerminatedAll           = "terminate_all"
	TerminatedByUser        = "terminated"
	TerminatedPasswordReset = "password_reset"
	TerminatedDeactivated   = "deactivated"
	TerminatedRefreshReuse  = "refresh_reuse"
)

// SessionMeta carries the optional client hints used for fingerprinting.
type SessionMeta struct {
	ScreenResolution string
	Timezone         string
	Language         string
}
