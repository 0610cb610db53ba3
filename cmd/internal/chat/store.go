package chat

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks courier/cmd/internal/chat Store

// MessageStore is the append-only per-conversation message log.
//
// Requirements:
//   - Ids strictly increase with append order within a conversation partition.
//   - ListMessages is ordered by id DESC; BeforeID is an exclusive bound.
//   - A caller-supplied MessageID makes the append insert-if-absent.
type MessageStore interface {
	AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error)
	ListMessages(ctx context.Context, in ListMessagesInput) (ListMessagesResult, error)
}

// ConversationIndex is the per-user denormalized view of conversations.
//
// Requirements:
//   - UpsertConversationView overwrites in place, keyed by (user_id, conversation_id),
//     unless the stored row has a newer last_updated. Replaying an older message's
//     upsert is therefore harmless; equal timestamps: last writer wins.
//   - ListConversationViews is ordered by conversation_id DESC (not by last_updated);
//     BeforeID is an exclusive bound.
type ConversationIndex interface {
	UpsertConversationView(ctx context.Context, v ConversationView) error
	ListConversationViews(ctx context.Context, in ListConversationsInput) (ListConversationsResult, error)
}

// ConversationMetadata is the canonical existence record per conversation.
//
// Requirements:
//   - EnsureConversation is a conditional insert: the first writer's created_at wins
//     and every caller observes the same final row.
//   - GetConversation reports absence with found=false, not an error.
type ConversationMetadata interface {
	EnsureConversation(ctx context.Context, id uuid.UUID, createdAt time.Time) (Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (Conversation, bool, error)
}

// Store is the single injected persistence dependency of the Service.
// Close releases resources the store owns (pools owned by the caller are not closed).
type Store interface {
	MessageStore
	ConversationIndex
	ConversationMetadata
	Close() error
}

// AppendMessageInput describes a message append request.
// MessageID is optional; when nil the store assigns the next time-ordered id.
type AppendMessageInput struct {
	ConversationID uuid.UUID
	MessageID      *ulid.ULID
	SenderID       uuid.UUID
	ReceiverID     uuid.UUID
	Content        string
	Now            time.Time
}

// AppendMessageResult is the append operation result.
// Duplicated is true when a caller-supplied MessageID was already stored.
type AppendMessageResult struct {
	Stored     Message
	Duplicated bool
}

// ListMessagesInput describes a message page query.
type ListMessagesInput struct {
	ConversationID uuid.UUID
	BeforeID       *ulid.ULID
	Limit          int
}

// ListMessagesResult contains the retrieved window, newest first.
type ListMessagesResult struct {
	Messages []Message
	HasMore  bool
}

// ListConversationsInput describes a per-user conversation page query.
type ListConversationsInput struct {
	UserID   uuid.UUID
	BeforeID *uuid.UUID
	Limit    int
}

// ListConversationsResult contains the retrieved window, conversation_id DESC.
type ListConversationsResult struct {
	Views   []ConversationView
	HasMore bool
}

// compareUUID orders conversation ids bytewise, matching the PostgreSQL uuid ordering.
func compareUUID(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) }
