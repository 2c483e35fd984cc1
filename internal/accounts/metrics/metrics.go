// Package metrics exposes authentication counters in Prometheus format.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "accounts"

// Login outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomeInvalid      = "invalid_credentials"
	OutcomeLocked       = "locked"
	OutcomeSecondFactor = "second_factor_required"
	OutcomeBadCode      = "invalid_second_factor"
	OutcomeUnverified   = "email_not_verified"
	OutcomeSessionLimit = "session_limit"
)

type Metrics struct {
	reg *prometheus.Registry

	logins             *prometheus.CounterVec
	locks              prometheus.Counter
	sessionsCreated    *prometheus.CounterVec
	sessionsTerminated *prometheus.CounterVec
	refreshes          *prometheus.CounterVec
	riskScore          prometheus.Histogram
	attacks            *prometheus.CounterVec
	housekeeping       *prometheus.CounterVec
}

// New registers every collector on a private registry, plus the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		reg: reg,
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		locks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_locks_total",
			Help:      "Accounts locked after repeated failures.",
		}),
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created or extended on login.",
		}, []string{"mode"}),
		sessionsTerminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_terminated_total",
			Help:      "Sessions terminated by reason.",
		}, []string{"reason"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Refresh token exchanges by result.",
		}, []string{"result"}),
		riskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "login_risk_score",
			Help:      "Risk score of assessed logins.",
			Buckets:   []float64{0, 10, 20, 30, 45, 60, 80, 100},
		}),
		attacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attacks_detected_total",
			Help:      "Brute-force and password-spray detections.",
		}, []string{"kind"}),
		housekeeping: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "housekeeping_rows_total",
			Help:      "Rows expired or deleted by housekeeping.",
		}, []string{"task"}),
	}

	reg.MustRegister(
		m.logins, m.locks, m.sessionsCreated, m.sessionsTerminated,
		m.refreshes, m.riskScore, m.attacks, m.housekeeping,
	)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// WatchDropped exports a counter read from fn, e.g. the audit dispatcher.
func (m *Metrics) WatchDropped(name, help string, fn func() uint64) {
	if m == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(fn()) }))
}

func (m *Metrics) Login(outcome string) {
	if m != nil {
		m.logins.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) AccountLocked() {
	if m != nil {
		m.locks.Inc()
	}
}

// SessionCreated records a login session; extended is true when an
// existing device session was reused.
func (m *Metrics) SessionCreated(extended bool) {
	if m == nil {
		return
	}
	mode := "new"
	if extended {
		mode = "extended"
	}
	m.sessionsCreated.WithLabelValues(mode).Inc()
}

func (m *Metrics) SessionsTerminated(reason string, n int64) {
	if m != nil && n > 0 {
		m.sessionsTerminated.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) Refresh(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "rejected"
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) RiskScore(score int) {
	if m != nil {
		m.riskScore.Observe(float64(score))
	}
}

func (m *Metrics) AttackDetected(kind string) {
	if m != nil {
		m.attacks.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Housekeeping(task string, rows int64) {
	if m != nil && rows > 0 {
		m.housekeeping.WithLabelValues(task).Add(float64(rows))
	}
}
