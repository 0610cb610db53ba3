package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Observer receives the latency and outcome of every store call.
type Observer interface {
	ObserveStoreOp(op string, d time.Duration, err error)
}

// InstrumentedStore decorates a Store, reporting each call to an Observer.
type InstrumentedStore struct {
	next Store
	obs  Observer
}

// Instrument wraps next. A nil observer returns next unchanged.
func Instrument(next Store, obs Observer) Store {
	if obs == nil {
		return next
	}
	return &InstrumentedStore{next: next, obs: obs}
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	s.obs.ObserveStoreOp(op, time.Since(start), err)
}

func (s *InstrumentedStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	start := time.Now()
	res, err := s.next.AppendMessage(ctx, in)
	s.observe("append_message", start, err)
	return res, err
}

func (s *InstrumentedStore) ListMessages(ctx context.Context, in ListMessagesInput) (ListMessagesResult, error) {
	start := time.Now()
	res, err := s.next.ListMessages(ctx, in)
	s.observe("list_messages", start, err)
	return res, err
}

func (s *InstrumentedStore) UpsertConversationView(ctx context.Context, v ConversationView) error {
	start := time.Now()
	err := s.next.UpsertConversationView(ctx, v)
	s.observe("upsert_conversation_view", start, err)
	return err
}

func (s *InstrumentedStore) ListConversationViews(ctx context.Context, in ListConversationsInput) (ListConversationsResult, error) {
	start := time.Now()
	res, err := s.next.ListConversationViews(ctx, in)
	s.observe("list_conversation_views", start, err)
	return res, err
}

func (s *InstrumentedStore) EnsureConversation(ctx context.Context, id uuid.UUID, createdAt time.Time) (Conversation, error) {
	start := time.Now()
	c, err := s.next.EnsureConversation(ctx, id, createdAt)
	s.observe("ensure_conversation", start, err)
	return c, err
}

func (s *InstrumentedStore) GetConversation(ctx context.Context, id uuid.UUID) (Conversation, bool, error) {
	start := time.Now()
	c, found, err := s.next.GetConversation(ctx, id)
	s.observe("get_conversation", start, err)
	return c, found, err
}

func (s *InstrumentedStore) Close() error { return s.next.Close() }
