package chat

import (
	"strings"

	"courier/cmd/identity"
	"courier/cmd/identity/ids"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const (
	// DefaultPageLimit applies when a caller passes limit 0.
	DefaultPageLimit = 20
	// MaxPageLimit is the largest accepted page size.
	MaxPageLimit = 100
)

// Page is one window of a cursor-paged listing.
//
// NextCursor is the external form of the last item's clustering key and is nil
// when the listing is exhausted. Total counts the items of this page only.
type Page[T any] struct {
	Total      int     `json:"total"`
	Limit      int     `json:"limit"`
	Items      []T     `json:"items"`
	NextCursor *string `json:"next_cursor"`
}

func newPage[T any](items []T, limit int, hasMore bool, cursorOf func(T) string) Page[T] {
	if items == nil {
		items = []T{}
	}
	p := Page[T]{
		Total: len(items),
		Limit: limit,
		Items: items,
	}
	if hasMore && len(items) > 0 {
		c := cursorOf(items[len(items)-1])
		p.NextCursor = &c
	}
	return p
}

// normalizeLimit maps 0 to def and rejects values outside [1, max].
func normalizeLimit(op string, limit, def, max int) (int, error) {
	if limit == 0 {
		return def, nil
	}
	if limit < 0 || limit > max {
		return 0, invalidArgument(op, "limit out of range")
	}
	return limit, nil
}

// MessageCursor encodes a message id as a page cursor.
func MessageCursor(id ulid.ULID) string { return id.String() }

// ParseMessageCursor decodes a message cursor. Empty input means "from the newest".
func ParseMessageCursor(s string) (*ulid.ULID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	id, err := ids.Parse(s)
	if err != nil {
		return nil, invalidArgument("chat.ParseMessageCursor", "malformed before_message_id")
	}
	return &id, nil
}

// ConversationCursor encodes a conversation id as a page cursor.
func ConversationCursor(id uuid.UUID) string { return id.String() }

// ParseConversationCursor decodes a conversation cursor. Empty input means "from the top".
func ParseConversationCursor(s string) (*uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	id, err := identity.ParseConversationID(s)
	if err != nil {
		return nil, invalidArgument("chat.ParseConversationCursor", "malformed before_conversation_id")
	}
	return &id, nil
}
