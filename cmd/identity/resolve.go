package identity

import (
	"crypto/sha256"

	"github.com/google/uuid"
)

// ResolveConversationID derives the conversation id for an unordered pair of users.
//
// The canonical (lower-case, hyphenated) string forms are sorted, concatenated
// without a separator and hashed with SHA-256; the first 16 bytes of the digest
// are the id. resolve(a, b) == resolve(b, a) and a == b is legal.
//
// The digest prefix is used as-is (no version/variant bits are forced) so ids stay
// byte-compatible with conversations created by earlier deployments.
func ResolveConversationID(a, b uuid.UUID) uuid.UUID {
	sa, sb := a.String(), b.String()
	if sb < sa {
		sa, sb = sb, sa
	}

	sum := sha256.Sum256([]byte(sa + sb))

	var id uuid.UUID
	copy(id[:], sum[:16])
	return id
}

// ResolveConversationIDString is ResolveConversationID over string inputs.
// Malformed ids fail with ErrInvalidArgument.
func ResolveConversationIDString(a, b string) (uuid.UUID, error) {
	ua, err := ParseUserID(a)
	if err != nil {
		return uuid.Nil, err
	}
	ub, err := ParseUserID(b)
	if err != nil {
		return uuid.Nil, err
	}
	return ResolveConversationID(ua, ub), nil
}
