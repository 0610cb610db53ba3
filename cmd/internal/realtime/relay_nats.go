package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"courier/cmd/internal/chat"
	v1 "courier/shared/contracts/realtime/v1"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the NATS subject root of per-user pushes.
const DefaultSubjectPrefix = "courier"

// NATSRelay fans message pushes out across instances.
//
// NotifyMessage publishes one envelope per recipient on <prefix>.user.<user_id>;
// every instance subscribes to <prefix>.user.* and hands what it receives to its
// local Hub. Core NATS is at-most-once, which matches the Hub's drop-on-full policy.
type NATSRelay struct {
	nc     *nats.Conn
	hub    *Hub
	prefix string
	log    *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewNATSRelay constructs a relay. The connection is owned by the caller.
func NewNATSRelay(nc *nats.Conn, hub *Hub, prefix string, log *slog.Logger) (*NATSRelay, error) {
	if nc == nil {
		return nil, errors.New("realtime: nil nats connection")
	}
	if hub == nil {
		return nil, errors.New("realtime: nil hub")
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if log == nil {
		log = slog.Default()
	}
	return &NATSRelay{nc: nc, hub: hub, prefix: prefix, log: log}, nil
}

// UserSubject is the subject pushes for userID are published on.
func UserSubject(prefix, userID string) string {
	return prefix + ".user." + userID
}

func userFromSubject(prefix, subject string) (string, bool) {
	userID, ok := strings.CutPrefix(subject, prefix+".user.")
	if !ok || userID == "" || strings.Contains(userID, ".") {
		return "", false
	}
	return userID, true
}

// Start subscribes to every user subject. It is idempotent.
func (r *NATSRelay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		return nil
	}
	sub, err := r.nc.Subscribe(r.prefix+".user.*", r.onMsg)
	if err != nil {
		return err
	}
	r.sub = sub
	r.log.Info("relay.nats.subscribe", "subject", sub.Subject)
	return nil
}

// Close drops the subscription. The connection stays open.
func (r *NATSRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub == nil {
		return nil
	}
	err := r.sub.Unsubscribe()
	r.sub = nil
	return err
}

// NotifyMessage publishes m for both participants. When publishing fails the
// envelope is still delivered to this instance's sessions.
func (r *NATSRelay) NotifyMessage(_ context.Context, m chat.Message) {
	env, err := MessageEnvelope(m, time.Now().UTC())
	if err != nil {
		r.log.Error("relay.nats.encode.fail", "message_id", m.ID.String(), "err", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		r.log.Error("relay.nats.encode.fail", "message_id", m.ID.String(), "err", err)
		return
	}

	for _, userID := range Recipients(m) {
		if err := r.nc.Publish(UserSubject(r.prefix, userID), data); err != nil {
			r.log.Warn("relay.nats.publish.fail", "user_id", userID, "message_id", m.ID.String(), "err", err)
			r.hub.Deliver(userID, env)
		}
	}
}

func (r *NATSRelay) onMsg(msg *nats.Msg) {
	userID, ok := userFromSubject(r.prefix, msg.Subject)
	if !ok {
		r.log.Warn("relay.nats.subject.invalid", "subject", msg.Subject)
		return
	}

	var env v1.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		r.log.Warn("relay.nats.decode.fail", "subject", msg.Subject, "err", err)
		return
	}
	if err := env.Validate(); err != nil {
		r.log.Warn("relay.nats.envelope.invalid", "subject", msg.Subject, "err", err)
		return
	}

	r.hub.Deliver(userID, env)
}
