package realtime

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

func TestUserFromSubject(t *testing.T) {
	t.Parallel()

	id := uuid.NewString()
	if got, ok := userFromSubject("courier", UserSubject("courier", id)); !ok || got != id {
		t.Fatalf("round trip: got %q ok=%v", got, ok)
	}
	for _, s := range []string{"courier.user.", "other.user." + id, "courier.user.a.b", "courier.users." + id} {
		if _, ok := userFromSubject("courier", s); ok {
			t.Fatalf("%q: expected rejection", s)
		}
	}
}

// Relay integration runs when COURIER_NATS_URL points at a NATS server.
func TestNATSRelay_DeliversAcrossInstances(t *testing.T) {
	raw := strings.TrimSpace(os.Getenv("COURIER_NATS_URL"))
	if raw == "" {
		t.Skip("integration test skipped: COURIER_NATS_URL is not set")
	}

	pubConn, err := nats.Connect(raw)
	if err != nil {
		t.Fatalf("connect publisher: %v", err)
	}
	defer pubConn.Close()
	subConn, err := nats.Connect(raw)
	if err != nil {
		t.Fatalf("connect subscriber: %v", err)
	}
	defer subConn.Close()

	prefix := "courier_it_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	// Two instances: the receiver is only connected to the second one.
	hubA, hubB := NewHub(nil), NewHub(nil)
	relayA, err := NewNATSRelay(pubConn, hubA, prefix, nil)
	if err != nil {
		t.Fatalf("relay A: %v", err)
	}
	relayB, err := NewNATSRelay(subConn, hubB, prefix, nil)
	if err != nil {
		t.Fatalf("relay B: %v", err)
	}
	if err := relayB.Start(); err != nil {
		t.Fatalf("start relay B: %v", err)
	}
	defer relayB.Close()
	if err := subConn.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	sender, receiver := uuid.New(), uuid.New()
	c := NewClient(receiver.String(), "s", 4)
	hubB.Register(c)

	msg := testMessage(t, sender, receiver)
	relayA.NotifyMessage(context.Background(), msg)

	select {
	case env := <-c.Send:
		if env.Type != "message_new" {
			t.Fatalf("unexpected type %q", env.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("push not relayed")
	}
}
