package chat

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Message is an immutable entry of a conversation log.
// ID is time-ordered: ordering by ID and ordering by send time agree.
type Message struct {
	ID             ulid.ULID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	ReceiverID     uuid.UUID `json:"receiver_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Conversation is the canonical existence record of a conversation.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationView is one participant's denormalized view of a conversation.
// There are two per conversation and they are written independently.
type ConversationView struct {
	UserID         uuid.UUID `json:"user_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	OtherUserID    uuid.UUID `json:"other_user_id"`
	LastMessage    *string   `json:"last_message"`
	LastUpdated    time.Time `json:"last_updated"`
}

// ConversationDetail is a conversation lookup result.
// User1ID/User2ID are only set when participant enrichment was requested and the
// conversation has at least one message.
type ConversationDetail struct {
	Conversation
	User1ID *uuid.UUID `json:"user1_id"`
	User2ID *uuid.UUID `json:"user2_id"`
}
