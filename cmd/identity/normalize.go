package identity

import (
	"strings"

	"github.com/google/uuid"
)

// ParseUserID parses the canonical string form of a user id.
// Surrounding whitespace is ignored; anything uuid.Parse rejects is ErrInvalidArgument.
func ParseUserID(s string) (uuid.UUID, error) {
	return parseID("identity.ParseUserID", "user_id", s)
}

// ParseConversationID parses the canonical string form of a conversation id.
func ParseConversationID(s string) (uuid.UUID, error) {
	return parseID("identity.ParseConversationID", "conversation_id", s)
}

func parseID(op, field, s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, invalidArgument(op, "missing "+field)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, invalidArgument(op, "malformed "+field)
	}
	return id, nil
}
