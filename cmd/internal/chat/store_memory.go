package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"courier/cmd/identity/ids"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// InMemoryStore is a dev/test Store used when no database is configured.
// Each conversation and each user is a "partition" guarded by the store mutex;
// it gives the same ordering and cursor semantics as the persistent stores.
type InMemoryStore struct {
	ids *ids.Generator

	mu       sync.Mutex
	convs    map[uuid.UUID]*memConv
	views    map[uuid.UUID]map[uuid.UUID]ConversationView // user_id -> conversation_id -> view
	metadata map[uuid.UUID]Conversation
}

type memConv struct {
	byID map[ulid.ULID]Message
	msgs []Message // ordered by id ASC
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return NewInMemoryStoreWithGenerator(ids.NewGenerator())
}

// NewInMemoryStoreWithGenerator constructs an in-memory Store using gen for message ids.
func NewInMemoryStoreWithGenerator(gen *ids.Generator) *InMemoryStore {
	if gen == nil {
		gen = ids.NewGenerator()
	}
	return &InMemoryStore{
		ids:      gen,
		convs:    make(map[uuid.UUID]*memConv),
		views:    make(map[uuid.UUID]map[uuid.UUID]ConversationView),
		metadata: make(map[uuid.UUID]Conversation),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// AppendMessage writes a message row, assigning a time-ordered id when none is supplied.
func (s *InMemoryStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	if in.ConversationID == uuid.Nil {
		return AppendMessageResult{}, invalidArgument("chat.InMemoryStore.AppendMessage", "missing conversation_id")
	}
	if err := ctx.Err(); err != nil {
		return AppendMessageResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[in.ConversationID]
	if c == nil {
		c = &memConv{
			byID: make(map[ulid.ULID]Message),
			msgs: make([]Message, 0, 64),
		}
		s.convs[in.ConversationID] = c
	}

	var id ulid.ULID
	if in.MessageID != nil {
		id = *in.MessageID
		if existing, ok := c.byID[id]; ok {
			return AppendMessageResult{Stored: existing, Duplicated: true}, nil
		}
	} else {
		next, err := s.ids.New(now)
		if err != nil {
			return AppendMessageResult{}, storeError("chat.InMemoryStore.AppendMessage", err)
		}
		id = next
	}

	msg := Message{
		ID:             id,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Content:        in.Content,
		CreatedAt:      now,
	}
	c.byID[id] = msg

	// Generated ids arrive in order; caller-supplied ones may not.
	i := sort.Search(len(c.msgs), func(i int) bool { return c.msgs[i].ID.Compare(id) > 0 })
	c.msgs = append(c.msgs, Message{})
	copy(c.msgs[i+1:], c.msgs[i:])
	c.msgs[i] = msg

	return AppendMessageResult{Stored: msg}, nil
}

// ListMessages returns messages ordered by id DESC, strictly below BeforeID when set.
func (s *InMemoryStore) ListMessages(ctx context.Context, in ListMessagesInput) (ListMessagesResult, error) {
	if err := ctx.Err(); err != nil {
		return ListMessagesResult{}, err
	}
	limit := clampLimit(in.Limit)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[in.ConversationID]
	if c == nil || len(c.msgs) == 0 {
		return ListMessagesResult{}, nil
	}

	end := len(c.msgs)
	if in.BeforeID != nil {
		before := *in.BeforeID
		end = sort.Search(len(c.msgs), func(i int) bool { return c.msgs[i].ID.Compare(before) >= 0 })
	}

	out := make([]Message, 0, limit)
	for i := end - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, c.msgs[i])
	}

	return ListMessagesResult{Messages: out, HasMore: end-len(out) > 0}, nil
}

// UpsertConversationView overwrites the (user_id, conversation_id) row unless the
// stored row is newer.
func (s *InMemoryStore) UpsertConversationView(ctx context.Context, v ConversationView) error {
	if v.UserID == uuid.Nil || v.ConversationID == uuid.Nil {
		return invalidArgument("chat.InMemoryStore.UpsertConversationView", "missing key")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if v.LastMessage != nil {
		msg := *v.LastMessage
		v.LastMessage = &msg
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.views[v.UserID]
	if rows == nil {
		rows = make(map[uuid.UUID]ConversationView)
		s.views[v.UserID] = rows
	}
	if cur, ok := rows[v.ConversationID]; ok && cur.LastUpdated.After(v.LastUpdated) {
		return nil
	}
	rows[v.ConversationID] = v
	return nil
}

// ListConversationViews returns a user's views ordered by conversation_id DESC.
func (s *InMemoryStore) ListConversationViews(ctx context.Context, in ListConversationsInput) (ListConversationsResult, error) {
	if err := ctx.Err(); err != nil {
		return ListConversationsResult{}, err
	}
	limit := clampLimit(in.Limit)

	s.mu.Lock()
	rows := s.views[in.UserID]
	snap := make([]ConversationView, 0, len(rows))
	for _, v := range rows {
		if in.BeforeID != nil && compareUUID(v.ConversationID, *in.BeforeID) >= 0 {
			continue
		}
		snap = append(snap, v)
	}
	s.mu.Unlock()

	sort.Slice(snap, func(i, j int) bool { return compareUUID(snap[i].ConversationID, snap[j].ConversationID) > 0 })

	hasMore := len(snap) > limit
	if hasMore {
		snap = snap[:limit]
	}
	return ListConversationsResult{Views: snap, HasMore: hasMore}, nil
}

// EnsureConversation creates the metadata row if absent; an existing row is authoritative.
func (s *InMemoryStore) EnsureConversation(ctx context.Context, id uuid.UUID, createdAt time.Time) (Conversation, error) {
	if id == uuid.Nil {
		return Conversation{}, invalidArgument("chat.InMemoryStore.EnsureConversation", "missing conversation_id")
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.metadata[id]; ok {
		return existing, nil
	}
	c := Conversation{ID: id, CreatedAt: createdAt}
	s.metadata[id] = c
	return c, nil
}

// GetConversation returns the metadata row, found=false when it was never created.
func (s *InMemoryStore) GetConversation(ctx context.Context, id uuid.UUID) (Conversation, bool, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.metadata[id]
	return c, ok, nil
}

// storeMaxListLimit is the hard ceiling of a single store query.
const storeMaxListLimit = 1000

// clampLimit bounds a store-level limit. Stores are lenient; the Service rejects
// out-of-range limits before they get here.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > storeMaxListLimit {
		return storeMaxListLimit
	}
	return limit
}
