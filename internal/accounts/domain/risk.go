package domain

import "time"

// LoginContext describes a single login attempt for risk scoring.
// DeviceFingerprint is computed from IP and UserAgent when empty, and
// DeviceKey from UserAgent alone.
type LoginContext struct {
	AccountID         string
	IP                string
	UserAgent         string
	DeviceFingerprint string
	DeviceKey         string
	Timestamp         time.Time
}

// RiskFactor is one contributing signal. Factors in an assessment are
// ordered by Weight, highest first.
type RiskFactor struct {
	Code   string `json:"code"`
	Weight int    `json:"weight"`
	Detail string `json:"detail,omitempty"`
}

type RiskAssessment struct {
	Score      int          `json:"risk_score"` // 0..100
	Factors    []RiskFactor `json:"risk_factors"`
	Confidence float64      `json:"confidence"` // 0..1
}

// Primary returns the label of the heaviest factor, or "" when none fired.
func (r RiskAssessment) Primary() string {
	if len(r.Factors) == 0 {
		return ""
	}
	return r.Factors[0].Code
}

// LoginRecord is one historical successful login, as seen by risk scoring.
// A login that renewed an existing device session is still its own record.
type LoginRecord struct {
	AccountID         string
	SessionID         string
	IP                string
	DeviceFingerprint string
	DeviceKey         string // network-independent device identity
	UserAgent         string
	At                time.Time
}

// AttackKind classifies what an attack sweep found.
type AttackKind string

const (
	AttackNone          AttackKind = ""
	AttackBruteForce    AttackKind = "brute_force"
	AttackPasswordSpray AttackKind = "password_spray"
)

// AttackReport is one flagged source found by an attack sweep.
type AttackReport struct {
	IP               string
	Kind             AttackKind
	Attempts         int
	DistinctAccounts int
}
