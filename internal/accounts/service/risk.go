package service

import (
	"context"
	"fmt"
	"math"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/attempts"
	"github.com/aussiebroadwan/accounts/internal/accounts/audit"
	"github.com/aussiebroadwan/accounts/internal/accounts/device"
	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/geo"
	"github.com/aussiebroadwan/accounts/internal/accounts/metrics"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
)

// Risk factor codes and their weights.
const (
	FactorNewDevice        = "new_device"
	FactorUnfamiliarIP     = "unfamiliar_ip"
	FactorUnfamiliarSubnet = "unfamiliar_subnet"
	FactorUnusualTime      = "unusual_time"
	FactorImpossibleTravel = "impossible_travel"
	FactorVelocity         = "velocity"
)

var factorWeights = map[string]int{
	FactorNewDevice:        25,
	FactorUnfamiliarIP:     20,
	FactorUnfamiliarSubnet: 10,
	FactorUnusualTime:      15,
	FactorImpossibleTravel: 30,
	FactorVelocity:         30,
}

const (
	maxRiskScore     = 100
	minUnusualRows   = 3
	minConfidence    = 0.1
	confidenceFullAt = 10
	globalSprayIP    = "*"
)

// LoginHistory is the read-only view of past successful logins.
type LoginHistory interface {
	RecentLogins(ctx context.Context, accountID string, limit int) ([]domain.LoginRecord, error)
}

// RiskService scores logins against the account's history and watches the
// failed-attempt windows for brute-force and spray patterns. It never
// blocks anything; callers decide what to do with the result.
type RiskService struct {
	History  LoginHistory
	Attempts attempts.Tracker
	Geo      geo.Resolver // optional
	Audit    audit.Sink
	Metrics  *metrics.Metrics
	Config   RiskConfig
	Now      func() time.Time
}

// Assess scores a login. A first login has nothing to compare against, so
// only the velocity factor can fire.
func (s *RiskService) Assess(ctx context.Context, lc domain.LoginContext) (domain.RiskAssessment, error) {
	if lc.Timestamp.IsZero() {
		lc.Timestamp = resolveNow(s.Now)
	}
	if lc.DeviceFingerprint == "" {
		lc.DeviceFingerprint = device.Fingerprint(lc.IP, lc.UserAgent, device.Meta{})
	}
	if lc.DeviceKey == "" {
		lc.DeviceKey = device.Key(lc.UserAgent, device.Meta{})
	}

	history, err := s.History.RecentLogins(ctx, lc.AccountID, s.Config.HistoryDepth)
	if err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("failed to load login history: %w", err)
	}

	var factors []domain.RiskFactor
	if len(history) > 0 {
		factors = append(factors, s.deviceFactors(lc, history)...)
		factors = append(factors, s.networkFactors(lc, history)...)
		factors = append(factors, s.timeFactors(lc, history)...)
		factors = append(factors, s.travelFactors(lc, history)...)
	}

	velocity, err := s.velocityFactor(ctx, lc)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	factors = append(factors, velocity...)

	out := score(factors, len(history))
	s.Metrics.RiskScore(out.Score)

	if out.Score >= s.Config.EscalationThreshold && s.Config.EscalationThreshold > 0 {
		e := audit.New(audit.SuspiciousActivity, lc.Timestamp)
		e.AccountID = lc.AccountID
		e.IP = lc.IP
		e.UserAgent = lc.UserAgent
		e.Metadata = map[string]string{
			"factor":     out.Primary(),
			"score":      strconv.Itoa(out.Score),
			"factors":    joinCodes(out.Factors),
			"confidence": strconv.FormatFloat(out.Confidence, 'f', 2, 64),
		}
		s.emit(ctx, e)
	}
	return out, nil
}

func score(factors []domain.RiskFactor, depth int) domain.RiskAssessment {
	sort.SliceStable(factors, func(i, j int) bool { return factors[i].Weight > factors[j].Weight })

	total := 0
	for _, f := range factors {
		total += f.Weight
	}
	if factors == nil {
		factors = []domain.RiskFactor{}
	}

	confidence := float64(depth) / confidenceFullAt
	confidence = math.Min(math.Max(confidence, minConfidence), 1)

	return domain.RiskAssessment{
		Score:      min(total, maxRiskScore),
		Factors:    factors,
		Confidence: confidence,
	}
}

func factor(code, detail string) domain.RiskFactor {
	return domain.RiskFactor{Code: code, Weight: factorWeights[code], Detail: detail}
}

// deviceFactors matches on the network-independent device key so a known
// device on a new network only raises the network factors. Rows recorded
// without a key fall back to the full fingerprint.
func (s *RiskService) deviceFactors(lc domain.LoginContext, history []domain.LoginRecord) []domain.RiskFactor {
	for _, h := range history {
		if h.DeviceKey != "" && h.DeviceKey == lc.DeviceKey {
			return nil
		}
		if h.DeviceFingerprint == lc.DeviceFingerprint {
			return nil
		}
	}
	return []domain.RiskFactor{factor(FactorNewDevice, device.CreateDeviceName(device.ParseUserAgent(lc.UserAgent)))}
}

func (s *RiskService) networkFactors(lc domain.LoginContext, history []domain.LoginRecord) []domain.RiskFactor {
	subnet, hasSubnet := subnetOf(lc.IP)
	seenSubnet := false
	for _, h := range history {
		if h.IP == lc.IP {
			return nil
		}
		if hasSubnet {
			if p, ok := subnetOf(h.IP); ok && p == subnet {
				seenSubnet = true
			}
		}
	}
	if seenSubnet {
		return []domain.RiskFactor{factor(FactorUnfamiliarSubnet, lc.IP)}
	}
	return []domain.RiskFactor{factor(FactorUnfamiliarIP, lc.IP)}
}

// subnetOf returns the /24 of an IPv4 address or the /64 of an IPv6 one.
func subnetOf(ip string) (netip.Prefix, bool) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return netip.Prefix{}, false
	}
	addr = addr.Unmap()
	bits := 64
	if addr.Is4() {
		bits = 24
	}
	p, err := addr.Prefix(bits)
	if err != nil {
		return netip.Prefix{}, false
	}
	return p, true
}

func (s *RiskService) timeFactors(lc domain.LoginContext, history []domain.LoginRecord) []domain.RiskFactor {
	if len(history) < minUnusualRows {
		return nil
	}
	hour := lc.Timestamp.UTC().Hour()
	closest := 24
	for _, h := range history {
		closest = min(closest, hourDistance(hour, h.At.UTC().Hour()))
	}
	if closest > s.Config.UnusualHourGap {
		return []domain.RiskFactor{factor(FactorUnusualTime, fmt.Sprintf("hour %02d UTC", hour))}
	}
	return nil
}

// hourDistance is the distance between two hours on a 24h clock face.
func hourDistance(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	return min(d, 24-d)
}

func (s *RiskService) travelFactors(lc domain.LoginContext, history []domain.LoginRecord) []domain.RiskFactor {
	if s.Geo == nil {
		return nil
	}
	prev := history[0]
	from, ok := s.Geo.Locate(prev.IP)
	if !ok {
		return nil
	}
	to, ok := s.Geo.Locate(lc.IP)
	if !ok {
		return nil
	}

	km := geo.DistanceKm(from, to)
	if km <= s.Config.ImpossibleTravelMinKm {
		return nil
	}
	hours := lc.Timestamp.Sub(prev.At).Hours()
	if hours > 0 && km/hours <= s.Config.ImpossibleTravelKmh {
		return nil
	}
	return []domain.RiskFactor{factor(FactorImpossibleTravel, fmt.Sprintf("%.0f km since %s", km, prev.IP))}
}

func (s *RiskService) velocityFactor(ctx context.Context, lc domain.LoginContext) ([]domain.RiskFactor, error) {
	if s.Attempts == nil || s.Config.VelocityAccounts <= 0 {
		return nil, nil
	}
	st, err := s.Attempts.Stats(ctx, lc.IP, lc.Timestamp.Add(-s.Config.AttemptWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to read attempt stats: %w", err)
	}
	if st.DistinctAccounts >= s.Config.VelocityAccounts {
		return []domain.RiskFactor{factor(FactorVelocity, fmt.Sprintf("%d accounts", st.DistinctAccounts))}, nil
	}
	return nil, nil
}

// RecordFailure logs a failed attempt from ip and runs the brute-force
// check for that source.
func (s *RiskService) RecordFailure(ctx context.Context, ip, accountID, email string) error {
	if s.Attempts == nil {
		return nil
	}
	now := resolveNow(s.Now)
	if err := s.Attempts.RecordFailure(ctx, ip, accountID, domain.NormalizeEmail(email), now); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	_, err := s.DetectBruteForceAttack(ctx, ip)
	return err
}

// DetectBruteForceAttack reports whether ip has reached the failure
// threshold inside the window. The audit event fires on the crossing and
// on every further multiple of the threshold.
func (s *RiskService) DetectBruteForceAttack(ctx context.Context, ip string) (bool, error) {
	threshold := s.Config.BruteForceThreshold
	if s.Attempts == nil || threshold <= 0 {
		return false, nil
	}
	now := resolveNow(s.Now)

	st, err := s.Attempts.Stats(ctx, ip, now.Add(-s.Config.AttemptWindow))
	if err != nil {
		return false, fmt.Errorf("failed to read attempt stats: %w", err)
	}
	if st.Failures < threshold {
		return false, nil
	}

	if st.Failures%threshold == 0 {
		s.Metrics.AttackDetected(string(domain.AttackBruteForce))
		s.emit(ctx, s.attackEvent(audit.BruteForceDetected, domain.AttackReport{
			IP:               ip,
			Kind:             domain.AttackBruteForce,
			Attempts:         st.Failures,
			DistinctAccounts: st.DistinctAccounts,
		}, now))
	}
	return true, nil
}

// DetectPasswordSprayAttack sweeps every source in the window. One IP
// touching many accounts with few attempts each is a spray, one with many
// attempts is brute force. A handful of sources covering many accounts
// between them is reported as a global spray under IP "*".
func (s *RiskService) DetectPasswordSprayAttack(ctx context.Context) ([]domain.AttackReport, error) {
	if s.Attempts == nil {
		return nil, nil
	}
	now := resolveNow(s.Now)
	cfg := s.Config

	sources, err := s.Attempts.Sources(ctx, now.Add(-cfg.AttemptWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to list attempt sources: %w", err)
	}

	var (
		reports  []domain.AttackReport
		accounts int
		failures int
		spraying bool
	)
	for _, st := range sources {
		accounts += st.DistinctAccounts
		failures += st.Failures

		r := domain.AttackReport{IP: st.IP, Attempts: st.Failures, DistinctAccounts: st.DistinctAccounts}
		switch {
		case st.DistinctAccounts >= cfg.SprayMinAccounts && perAccount(st) <= cfg.SprayMaxAttemptsPerAccount:
			r.Kind = domain.AttackPasswordSpray
			spraying = true
		case cfg.BruteForceThreshold > 0 && st.Failures >= cfg.BruteForceThreshold:
			r.Kind = domain.AttackBruteForce
		default:
			continue
		}
		reports = append(reports, r)
	}

	if !spraying && len(sources) > 0 && len(sources) <= cfg.GlobalSprayMaxSources &&
		cfg.GlobalSprayMinAccounts > 0 && accounts >= cfg.GlobalSprayMinAccounts {
		reports = append(reports, domain.AttackReport{
			IP:               globalSprayIP,
			Kind:             domain.AttackPasswordSpray,
			Attempts:         failures,
			DistinctAccounts: accounts,
		})
	}

	for _, r := range reports {
		t := audit.BruteForceDetected
		if r.Kind == domain.AttackPasswordSpray {
			t = audit.PasswordSprayDetected
		}
		s.Metrics.AttackDetected(string(r.Kind))
		s.emit(ctx, s.attackEvent(t, r, now))
	}
	if len(reports) > 0 {
		slogx.FromContext(ctx).Warn("attack sweep flagged sources", "count", len(reports))
	}
	return reports, nil
}

func perAccount(st attempts.IPStats) float64 {
	if st.DistinctAccounts == 0 {
		return math.Inf(1)
	}
	return float64(st.Failures) / float64(st.DistinctAccounts)
}

func (s *RiskService) attackEvent(t audit.Type, r domain.AttackReport, at time.Time) audit.Event {
	e := audit.New(t, at)
	e.IP = r.IP
	e.Metadata = map[string]string{
		"kind":              string(r.Kind),
		"attempts":          strconv.Itoa(r.Attempts),
		"distinct_accounts": strconv.Itoa(r.DistinctAccounts),
	}
	return e
}

func (s *RiskService) emit(ctx context.Context, e audit.Event) {
	if s.Audit != nil {
		s.Audit.Emit(ctx, e)
	}
}

func joinCodes(fs []domain.RiskFactor) string {
	codes := make([]string, len(fs))
	for i, f := range fs {
		codes[i] = f.Code
	}
	return strings.Join(codes, ",")
}
