// Package notify delivers out-of-band messages (verification links,
// password resets, second-factor setup) to account holders. Delivery is
// fire-and-forget from the caller's point of view.
package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// ErrThrottled is returned when a recipient has been sent too much recently.
var ErrThrottled = errors.New("notify: recipient throttled")

// Notifier sends account messages. Tokens are the plaintext values the
// recipient needs; callers only persist their fingerprints.
type Notifier interface {
	SendVerification(ctx context.Context, email, token string) error
	SendPasswordReset(ctx context.Context, email, token string) error
	Send2FASetup(ctx context.Context, email, secret string, qrPNG []byte) error
}

// LogNotifier writes messages to the log. For development only since the
// log then contains live tokens.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) SendVerification(ctx context.Context, email, token string) error {
	n.Logger.InfoContext(ctx, "notify: email verification", "email", email, "token", token)
	return nil
}

func (n LogNotifier) SendPasswordReset(ctx context.Context, email, token string) error {
	n.Logger.InfoContext(ctx, "notify: password reset", "email", email, "token", token)
	return nil
}

func (n LogNotifier) Send2FASetup(ctx context.Context, email, _ string, qrPNG []byte) error {
	n.Logger.InfoContext(ctx, "notify: second factor setup", "email", email, "qr_bytes", len(qrPNG))
	return nil
}

// Message is the payload published by NATSNotifier for a mailer worker.
type Message struct {
	Kind   string `json:"kind"`
	Email  string `json:"email"`
	Token  string `json:"token,omitempty"`
	Secret string `json:"secret,omitempty"`
	QRPNG  string `json:"qr_png,omitempty"` // base64
}

// Publisher is the part of *nats.Conn the notifier needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSNotifier publishes messages on "<prefix>.<kind>" for a separate
// delivery worker.
type NATSNotifier struct {
	pub    Publisher
	prefix string
}

func NewNATSNotifier(pub Publisher, prefix string) *NATSNotifier {
	if prefix == "" {
		prefix = "accounts.notify"
	}
	return &NATSNotifier{pub: pub, prefix: prefix}
}

func (n *NATSNotifier) SendVerification(_ context.Context, email, token string) error {
	return n.publish(Message{Kind: "verification", Email: email, Token: token})
}

func (n *NATSNotifier) SendPasswordReset(_ context.Context, email, token string) error {
	return n.publish(Message{Kind: "password_reset", Email: email, Token: token})
}

func (n *NATSNotifier) Send2FASetup(_ context.Context, email, secret string, qrPNG []byte) error {
	return n.publish(Message{
		Kind:   "second_factor_setup",
		Email:  email,
		Secret: secret,
		QRPNG:  base64.StdEncoding.EncodeToString(qrPNG),
	})
}

func (n *NATSNotifier) publish(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := n.pub.Publish(n.prefix+"."+m.Kind, data); err != nil {
		return fmt.Errorf("notify: publish %s: %w", m.Kind, err)
	}
	return nil
}
