package chat

import (
	"testing"
	"time"

	"courier/cmd/identity/ids"

	"github.com/google/uuid"
)

func TestNormalizeLimit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      int
		want    int
		wantErr bool
	}{
		{in: 0, want: DefaultPageLimit},
		{in: 1, want: 1},
		{in: MaxPageLimit, want: MaxPageLimit},
		{in: -1, wantErr: true},
		{in: MaxPageLimit + 1, wantErr: true},
	}
	for _, tc := range cases {
		got, err := normalizeLimit("test", tc.in, DefaultPageLimit, MaxPageLimit)
		if tc.wantErr {
			if !IsInvalidArgument(err) {
				t.Fatalf("limit %d: expected invalid argument, got %v", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("limit %d: got %d err=%v, want %d", tc.in, got, err, tc.want)
		}
	}
}

func TestNewPage_CursorOnlyWhenMore(t *testing.T) {
	t.Parallel()

	cursorOf := func(v int) string { return string(rune('a' + v)) }

	p := newPage([]int{1, 2}, 2, true, cursorOf)
	if p.NextCursor == nil || *p.NextCursor != "c" {
		t.Fatalf("expected cursor of last item, got %v", p.NextCursor)
	}
	if p.Total != 2 || p.Limit != 2 {
		t.Fatalf("unexpected total/limit: %d/%d", p.Total, p.Limit)
	}

	p = newPage([]int{1}, 2, false, cursorOf)
	if p.NextCursor != nil {
		t.Fatalf("expected nil cursor on last page")
	}

	p = newPage[int](nil, 5, false, cursorOf)
	if p.Items == nil || p.Total != 0 || p.NextCursor != nil {
		t.Fatalf("expected empty non-nil items, got %+v", p)
	}
}

func TestMessageCursor_RoundTrip(t *testing.T) {
	t.Parallel()

	id, err := ids.NewULID(time.Now())
	if err != nil {
		t.Fatalf("new id: %v", err)
	}

	got, err := ParseMessageCursor(MessageCursor(id))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got == nil || *got != id {
		t.Fatalf("round trip mismatch: %v != %v", got, id)
	}

	if got, err := ParseMessageCursor("  "); err != nil || got != nil {
		t.Fatalf("empty cursor: got %v err=%v", got, err)
	}
	if _, err := ParseMessageCursor("not-a-ulid"); !IsInvalidArgument(err) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestConversationCursor_RoundTrip(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	got, err := ParseConversationCursor(ConversationCursor(id))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got == nil || *got != id {
		t.Fatalf("round trip mismatch")
	}

	if _, err := ParseConversationCursor("zzz"); !IsInvalidArgument(err) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
