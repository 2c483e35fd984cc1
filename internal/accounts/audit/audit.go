// Package audit carries structured security events from the auth flows to
// append-only sinks.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names an audit event.
type Type string

const (
	LoginSucceeded        Type = "login_success"
	LoginFailed           Type = "login_failure"
	AccountLocked         Type = "account_locked"
	AccountUnlocked       Type = "account_unlocked"
	AccountRegistered     Type = "account_registered"
	AccountDeactivated    Type = "account_deactivated"
	EmailVerified         Type = "email_verified"
	PasswordChanged       Type = "password_changed"
	PasswordReset         Type = "password_reset"
	SessionCreated        Type = "session_created"
	SessionTerminated     Type = "session_terminated"
	SecondFactorEnabled   Type = "second_factor_enabled"
	SecondFactorDisabled  Type = "second_factor_disabled"
	SecondFactorFailed    Type = "second_factor_failed"
	BackupCodeUsed        Type = "backup_code_used"
	RefreshTokenRejected  Type = "refresh_token_rejected"
	SuspiciousActivity    Type = "suspicious_activity"
	BruteForceDetected    Type = "brute_force_detected"
	PasswordSprayDetected Type = "password_spray_detected"
)

// Event is one audit record. Actor is who performed the action and
// AccountID the account it targets; they differ for admin actions.
type Event struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	Time      time.Time         `json:"time"`
	Actor     string            `json:"actor,omitempty"`
	AccountID string            `json:"account_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// New stamps an event with a fresh id and the given time.
func New(t Type, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, Time: at.UTC()}
}

// Sink receives events. Emit must not block the caller for long and never
// fails the auth flow; sinks log their own errors.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// SlogSink writes each event as a structured log line.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) Emit(ctx context.Context, e Event) {
	attrs := []any{
		"audit_id", e.ID,
		"audit_type", string(e.Type),
		"account_id", e.AccountID,
	}
	if e.Actor != "" {
		attrs = append(attrs, "actor", e.Actor)
	}
	if e.SessionID != "" {
		attrs = append(attrs, "session_id", e.SessionID)
	}
	if e.IP != "" {
		attrs = append(attrs, "ip", e.IP)
	}
	if e.UserAgent != "" {
		attrs = append(attrs, "user_agent", e.UserAgent)
	}
	for k, v := range e.Metadata {
		attrs = append(attrs, "meta_"+k, v)
	}
	s.Logger.InfoContext(ctx, "audit", attrs...)
}

// MultiSink fans an event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}

// Recorder keeps events in memory. Used by tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
