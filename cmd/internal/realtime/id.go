package realtime

import (
	"time"

	"courier/cmd/identity/ids"
)

// newSessionID returns a ULID string identifying one websocket session.
func newSessionID(now time.Time) (string, error) {
	id, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// newEnvelopeID returns a ULID string; envelope ids sort by emission time in logs.
func newEnvelopeID(now time.Time) string {
	id, err := ids.NewULID(now)
	if err != nil {
		return ""
	}
	return id.String()
}
