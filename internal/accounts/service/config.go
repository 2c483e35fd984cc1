package service

import (
	"time"

	"github.com/aussiebroadwan/accounts/pkg/jwtx"
)

// Config holds every tunable of the auth core. Build it with DefaultConfig
// and override fields; services never read globals.
type Config struct {
	// Lockout applies to both the password and second-factor counters.
	LockoutThreshold uint
	LockoutDuration  time.Duration

	// RequireVerifiedEmail rejects logins from unverified accounts after
	// the password has been checked.
	RequireVerifiedEmail bool

	MinPasswordLength int
	MaxPasswordLength int

	SessionTTL    time.Duration
	RememberMeTTL time.Duration
	MaxSessions   int

	// A session is pushed to a fresh TTL only once less than
	// ExtensionRatio of its TTL remains.
	ExtensionRatio float64

	// LoginHistoryRetention bounds how long successful logins are kept
	// for risk scoring. Zero keeps them forever.
	LoginHistoryRetention time.Duration

	Issuer          string
	Audience        []string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	TOTPIssuer string

	EmailVerificationTTL time.Duration
	PasswordResetTTL     time.Duration

	Risk RiskConfig
}

// RiskConfig tunes the risk engine and attack detectors.
type RiskConfig struct {
	EscalationThreshold int
	HistoryDepth        int

	// AttemptWindow is the rolling window for failed-attempt statistics.
	AttemptWindow       time.Duration
	BruteForceThreshold int

	// VelocityAccounts is the distinct-account count from one IP that
	// adds the velocity factor.
	VelocityAccounts int

	SprayMinAccounts           int
	SprayMaxAttemptsPerAccount float64
	GlobalSprayMinAccounts     int
	GlobalSprayMaxSources      int

	UnusualHourGap        int
	ImpossibleTravelKmh   float64
	ImpossibleTravelMinKm float64
}

func DefaultConfig() Config {
	return Config{
		LockoutThreshold:      5,
		LockoutDuration:       15 * time.Minute,
		MinPasswordLength:     8,
		MaxPasswordLength:     256,
		SessionTTL:            24 * time.Hour,
		RememberMeTTL:         30 * 24 * time.Hour,
		MaxSessions:           5,
		ExtensionRatio:        0.5,
		LoginHistoryRetention: 90 * 24 * time.Hour,
		Issuer:                "accounts",
		Audience:              []string{"accounts"},
		AccessTokenTTL:        jwtx.DefaultAccessTokenTTL,
		RefreshTokenTTL:       jwtx.DefaultRefreshTokenTTL,
		TOTPIssuer:            "Accounts",
		EmailVerificationTTL:  24 * time.Hour,
		PasswordResetTTL:      time.Hour,
		Risk: RiskConfig{
			EscalationThreshold:        20,
			HistoryDepth:               50,
			AttemptWindow:              15 * time.Minute,
			BruteForceThreshold:        10,
			VelocityAccounts:           5,
			SprayMinAccounts:           5,
			SprayMaxAttemptsPerAccount: 2,
			GlobalSprayMinAccounts:     20,
			GlobalSprayMaxSources:      3,
			UnusualHourGap:             2,
			ImpossibleTravelKmh:        900,
			ImpossibleTravelMinKm:      100,
		},
	}
}

func (c Config) sessionTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return c.RememberMeTTL
	}
	return c.SessionTTL
}

// resolveNow returns now() when set, time.Now otherwise.
func resolveNow(now func() time.Time) time.Time {
	if now == nil {
		return time.Now()
	}
	return now()
}
