package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/service"
)

type Config struct {
	Issuer     string   // issuer claim for tokens (default: accounts)
	Audience   []string // comma separated (default: the issuer)
	TOTPIssuer string   // label shown in authenticator apps (default: Accounts)

	DatabaseFile string // path to SQLite database file (default: ./accounts.db)
	PepperFile   string // path to file containing pepper for password hashing (default: ./pepper)
	KeyFile      string // optional: persisted Ed25519 signing key; ephemeral keys when empty
	NumKeys      int    // ephemeral signing keys to generate (default: 1, max: 10)
	BcryptCost   int    // bcrypt work factor (default: 12)

	RedisAddr    string // optional: failed-attempt tracking in Redis; in memory when empty
	NATSURL      string // optional: audit events and notifications over NATS; logged when empty
	GeoTableFile string // optional: JSON CIDR table enabling the impossible-travel factor
	TrustProxy   bool   // honour X-Forwarded-For when resolving client IPs

	// Notifications per recipient address.
	NotifyInterval time.Duration
	NotifyBurst    int
	AuditBuffer    int

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
	SweepInterval        time.Duration // Password-spray sweep interval (default: 5m)

	Service service.Config
}

func LoadConfig() Config {
	defaults := service.DefaultConfig()

	cfg := Config{
		Issuer:       getEnvOrDefault("ACCOUNTS_ISSUER", defaults.Issuer),
		TOTPIssuer:   getEnvOrDefault("ACCOUNTS_TOTP_ISSUER", defaults.TOTPIssuer),
		DatabaseFile: getEnvOrDefault("ACCOUNTS_DATABASE_FILE", "accounts.db"),
		PepperFile:   getEnvOrDefault("ACCOUNTS_PEPPER_FILE", "pepper"),
		KeyFile:      os.Getenv("ACCOUNTS_KEY_FILE"),
		NumKeys:      getEnvIntOrDefault("ACCOUNTS_NUM_KEYS", 1),
		BcryptCost:   getEnvIntOrDefault("ACCOUNTS_BCRYPT_COST", 12),

		RedisAddr:    os.Getenv("REDIS_ADDR"),
		NATSURL:      os.Getenv("NATS_URL"),
		GeoTableFile: os.Getenv("ACCOUNTS_GEO_TABLE_FILE"),
		TrustProxy:   getEnvBoolOrDefault("TRUST_PROXY", false),

		NotifyInterval: getEnvDurationOrDefault("ACCOUNTS_NOTIFY_INTERVAL", time.Minute),
		NotifyBurst:    getEnvIntOrDefault("ACCOUNTS_NOTIFY_BURST", 3),
		AuditBuffer:    getEnvIntOrDefault("ACCOUNTS_AUDIT_BUFFER", 1024),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
		SweepInterval:        getEnvDurationOrDefault("SWEEP_INTERVAL", 5*time.Minute),
	}

	cfg.Audience = []string{cfg.Issuer}
	if aud := os.Getenv("ACCOUNTS_AUDIENCE"); aud != "" {
		cfg.Audience = splitList(aud)
	}

	sc := defaults
	sc.Issuer = cfg.Issuer
	sc.Audience = cfg.Audience
	sc.TOTPIssuer = cfg.TOTPIssuer

	sc.LockoutThreshold = uint(getEnvIntOrDefault("LOCKOUT_THRESHOLD", int(sc.LockoutThreshold)))
	sc.LockoutDuration = getEnvDurationOrDefault("LOCKOUT_DURATION", sc.LockoutDuration)
	sc.RequireVerifiedEmail = getEnvBoolOrDefault("REQUIRE_VERIFIED_EMAIL", sc.RequireVerifiedEmail)
	sc.MinPasswordLength = getEnvIntOrDefault("MIN_PASSWORD_LENGTH", sc.MinPasswordLength)

	sc.SessionTTL = getEnvDurationOrDefault("SESSION_TTL", sc.SessionTTL)
	sc.RememberMeTTL = getEnvDurationOrDefault("REMEMBER_ME_TTL", sc.RememberMeTTL)
	sc.MaxSessions = getEnvIntOrDefault("MAX_SESSIONS", sc.MaxSessions)
	sc.ExtensionRatio = getEnvFloatOrDefault("SESSION_EXTENSION_RATIO", sc.ExtensionRatio)
	sc.LoginHistoryRetention = getEnvDurationOrDefault("LOGIN_HISTORY_RETENTION", sc.LoginHistoryRetention)
	sc.AccessTokenTTL = getEnvDurationOrDefault("ACCESS_TOKEN_TTL", sc.AccessTokenTTL)
	sc.RefreshTokenTTL = getEnvDurationOrDefault("REFRESH_TOKEN_TTL", sc.RefreshTokenTTL)

	sc.Risk.EscalationThreshold = getEnvIntOrDefault("RISK_ESCALATION_THRESHOLD", sc.Risk.EscalationThreshold)
	sc.Risk.AttemptWindow = getEnvDurationOrDefault("RISK_ATTEMPT_WINDOW", sc.Risk.AttemptWindow)
	sc.Risk.BruteForceThreshold = getEnvIntOrDefault("RISK_BRUTE_FORCE_THRESHOLD", sc.Risk.BruteForceThreshold)
	sc.Risk.SprayMinAccounts = getEnvIntOrDefault("RISK_SPRAY_MIN_ACCOUNTS", sc.Risk.SprayMinAccounts)
	sc.Risk.ImpossibleTravelKmh = getEnvFloatOrDefault("RISK_IMPOSSIBLE_TRAVEL_KMH", sc.Risk.ImpossibleTravelKmh)

	if sc.ExtensionRatio <= 0 || sc.ExtensionRatio > 1 {
		sc.ExtensionRatio = defaults.ExtensionRatio
	}
	if sc.LockoutThreshold == 0 {
		sc.LockoutThreshold = defaults.LockoutThreshold
	}

	cfg.Service = sc
	return cfg
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
