package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"courier/cmd/internal/chat"
	v1 "courier/shared/contracts/realtime/v1"
)

// Metrics receives hub and gateway events. Implementations must be concurrency-safe.
type Metrics interface {
	SessionOpened()
	SessionClosed()
	PushDelivered(n int)
	PushDropped()
}

type nopMetrics struct{}

func (nopMetrics) SessionOpened()    {}
func (nopMetrics) SessionClosed()    {}
func (nopMetrics) PushDelivered(int) {}
func (nopMetrics) PushDropped()      {}

// Hub tracks the live sessions of each user on this instance and fans pushes out to them.
//
// Delivery never blocks: a session whose queue is full misses the envelope.
// Pushes are a notification channel, not a delivery log; clients re-read history
// through the paged listing API.
type Hub struct {
	log     *slog.Logger
	metrics Metrics

	mu    sync.RWMutex
	users map[string]map[string]*Client // user_id -> session_id -> client
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubMetrics sets the metrics sink.
func WithHubMetrics(m Metrics) HubOption {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

// NewHub constructs a Hub.
func NewHub(log *slog.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		log:     log,
		metrics: nopMetrics{},
		users:   make(map[string]map[string]*Client),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a session for its user.
func (h *Hub) Register(c *Client) {
	if c == nil || c.UserID == "" || c.SessionID == "" {
		return
	}

	h.mu.Lock()
	sessions := h.users[c.UserID]
	if sessions == nil {
		sessions = make(map[string]*Client)
		h.users[c.UserID] = sessions
	}
	sessions[c.SessionID] = c
	h.mu.Unlock()

	h.metrics.SessionOpened()
	h.log.Info("hub.session.register", "user_id", c.UserID, "session_id", c.SessionID)
}

// Unregister removes a session and signals it to stop.
// Removal happens before Close so a concurrent Deliver never targets a closing client.
func (h *Hub) Unregister(c *Client) {
	if c == nil {
		return
	}

	removed := false
	h.mu.Lock()
	if sessions := h.users[c.UserID]; sessions != nil {
		if _, ok := sessions[c.SessionID]; ok {
			delete(sessions, c.SessionID)
			removed = true
		}
		if len(sessions) == 0 {
			delete(h.users, c.UserID)
		}
	}
	h.mu.Unlock()

	c.Close()

	if removed {
		h.metrics.SessionClosed()
		h.log.Info("hub.session.unregister", "user_id", c.UserID, "session_id", c.SessionID, "dropped", c.Dropped())
	}
}

// Sessions reports the number of live sessions of userID.
func (h *Hub) Sessions(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Deliver offers env to every session of userID and returns how many accepted it.
func (h *Hub) Deliver(userID string, env v1.Envelope) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, c := range h.users[userID] {
		if c.offer(env) {
			delivered++
		} else {
			h.metrics.PushDropped()
		}
	}
	if delivered > 0 {
		h.metrics.PushDelivered(delivered)
	}
	return delivered
}

// NotifyMessage pushes m to the local sessions of its sender and receiver.
func (h *Hub) NotifyMessage(_ context.Context, m chat.Message) {
	env, err := MessageEnvelope(m, time.Now().UTC())
	if err != nil {
		h.log.Error("hub.push.encode.fail", "message_id", m.ID.String(), "err", err)
		return
	}
	for _, userID := range Recipients(m) {
		h.Deliver(userID, env)
	}
}

// Recipients lists the users a message is pushed to (one entry for a self-conversation).
func Recipients(m chat.Message) []string {
	sender, receiver := m.SenderID.String(), m.ReceiverID.String()
	if sender == receiver {
		return []string{sender}
	}
	return []string{sender, receiver}
}

// MessageEnvelope builds the message_new envelope for m.
func MessageEnvelope(m chat.Message, now time.Time) (v1.Envelope, error) {
	payload, err := json.Marshal(v1.MessageNewPayload{
		MessageID:      m.ID.String(),
		ConversationID: m.ConversationID.String(),
		SenderID:       m.SenderID.String(),
		ReceiverID:     m.ReceiverID.String(),
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	})
	if err != nil {
		return v1.Envelope{}, err
	}
	return newEnvelope(v1.TypeMessageNew, payload, now), nil
}

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      newEnvelopeID(ts),
		TS:      ts,
		Payload: payload,
	}
}
