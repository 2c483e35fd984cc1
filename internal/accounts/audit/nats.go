package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Publisher is the part of *nats.Conn the NATS sink needs.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSSink publishes events as JSON on "<prefix>.<type>". The event id is
// sent as Nats-Msg-Id so JetStream streams can deduplicate redeliveries.
type NATSSink struct {
	pub    Publisher
	prefix string
	log    *slog.Logger
}

func NewNATSSink(pub Publisher, prefix string, log *slog.Logger) *NATSSink {
	if prefix == "" {
		prefix = "accounts.audit"
	}
	return &NATSSink{pub: pub, prefix: prefix, log: log}
}

func (s *NATSSink) Emit(_ context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		s.log.Error("audit: marshal event", "err", err, "audit_type", e.Type)
		return
	}

	msg := nats.NewMsg(s.prefix + "." + string(e.Type))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, e.ID)

	if err := s.pub.PublishMsg(msg); err != nil {
		s.log.Warn("audit: publish failed", "err", err, "subject", msg.Subject)
	}
}
