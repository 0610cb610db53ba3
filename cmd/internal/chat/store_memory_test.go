package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"courier/cmd/identity/ids"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func TestInMemoryStore_ListMessages_PagesNewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewInMemoryStore()
	conv := uuid.New()
	a, b := uuid.New(), uuid.New()

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	var sent []Message
	for i := 0; i < 7; i++ {
		res, err := st.AppendMessage(ctx, AppendMessageInput{
			ConversationID: conv,
			SenderID:       a,
			ReceiverID:     b,
			Content:        "m",
			Now:            now,
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		sent = append(sent, res.Stored)
	}

	var (
		got    []Message
		before *ulid.ULID
		pages  int
	)
	for {
		res, err := st.ListMessages(ctx, ListMessagesInput{ConversationID: conv, BeforeID: before, Limit: 3})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		pages++
		got = append(got, res.Messages...)
		if !res.HasMore {
			break
		}
		last := res.Messages[len(res.Messages)-1].ID
		before = &last
	}

	if pages != 3 {
		t.Fatalf("expected 3 pages, got %d", pages)
	}
	if len(got) != len(sent) {
		t.Fatalf("expected %d messages, got %d", len(sent), len(got))
	}
	for i := range got {
		want := sent[len(sent)-1-i]
		if got[i].ID != want.ID {
			t.Fatalf("position %d: got %s want %s", i, got[i].ID, want.ID)
		}
	}
}

func TestInMemoryStore_ListMessages_ExactMultipleHasNoTrailingPage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewInMemoryStore()
	conv := uuid.New()

	for i := 0; i < 4; i++ {
		if _, err := st.AppendMessage(ctx, AppendMessageInput{ConversationID: conv, Content: "x"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	first, err := st.ListMessages(ctx, ListMessagesInput{ConversationID: conv, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !first.HasMore {
		t.Fatalf("first page: expected HasMore")
	}
	before := first.Messages[1].ID
	second, err := st.ListMessages(ctx, ListMessagesInput{ConversationID: conv, BeforeID: &before, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(second.Messages) != 2 || second.HasMore {
		t.Fatalf("second page: got len=%d hasMore=%v", len(second.Messages), second.HasMore)
	}
}

func TestInMemoryStore_AppendMessage_SuppliedIDIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewInMemoryStore()
	conv := uuid.New()

	id, err := ids.NewULID(time.Now())
	if err != nil {
		t.Fatalf("new id: %v", err)
	}

	first, err := st.AppendMessage(ctx, AppendMessageInput{ConversationID: conv, MessageID: &id, Content: "hello"})
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	if first.Duplicated {
		t.Fatalf("append first: expected Duplicated=false")
	}

	second, err := st.AppendMessage(ctx, AppendMessageInput{ConversationID: conv, MessageID: &id, Content: "changed"})
	if err != nil {
		t.Fatalf("append duplicate: %v", err)
	}
	if !second.Duplicated {
		t.Fatalf("append duplicate: expected Duplicated=true")
	}
	if second.Stored.Content != "hello" {
		t.Fatalf("append duplicate: expected stored content, got %q", second.Stored.Content)
	}

	res, err := st.ListMessages(ctx, ListMessagesInput{ConversationID: conv, Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(res.Messages))
	}
}

func TestInMemoryStore_AppendMessage_ConcurrentIDsUnique(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewInMemoryStore()
	conv := uuid.New()
	now := time.Now().UTC()

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.AppendMessage(ctx, AppendMessageInput{ConversationID: conv, Content: "c", Now: now}); err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()

	res, err := st.ListMessages(ctx, ListMessagesInput{ConversationID: conv, Limit: n})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res.Messages) != n || res.HasMore {
		t.Fatalf("expected %d messages without more, got %d hasMore=%v", n, len(res.Messages), res.HasMore)
	}
	for i := 1; i < len(res.Messages); i++ {
		if res.Messages[i-1].ID.Compare(res.Messages[i].ID) <= 0 {
			t.Fatalf("ids not strictly descending at %d", i)
		}
	}
}

func TestInMemoryStore_ConversationViews_OrderedByIDAndOverwritten(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewInMemoryStore()
	user := uuid.New()

	convs := []uuid.UUID{
		uuid.MustParse("10000000-0000-0000-0000-000000000000"),
		uuid.MustParse("30000000-0000-0000-0000-000000000000"),
		uuid.MustParse("20000000-0000-0000-0000-000000000000"),
	}
	for i, c := range convs {
		text := "first"
		// Older conversation ids get the most recent activity: order must not follow recency.
		if err := st.UpsertConversationView(ctx, ConversationView{
			UserID:         user,
			ConversationID: c,
			OtherUserID:    uuid.New(),
			LastMessage:    &text,
			LastUpdated:    time.Unix(int64(100-i), 0),
		}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	updated := "second"
	if err := st.UpsertConversationView(ctx, ConversationView{
		UserID:         user,
		ConversationID: convs[0],
		LastMessage:    &updated,
		LastUpdated:    time.Unix(500, 0),
	}); err != nil {
		t.Fatalf("upsert overwrite: %v", err)
	}

	res, err := st.ListConversationViews(ctx, ListConversationsInput{UserID: user, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !res.HasMore || len(res.Views) != 2 {
		t.Fatalf("expected 2 views with more, got %d hasMore=%v", len(res.Views), res.HasMore)
	}
	if res.Views[0].ConversationID != convs[1] || res.Views[1].ConversationID != convs[2] {
		t.Fatalf("unexpected order: %v, %v", res.Views[0].ConversationID, res.Views[1].ConversationID)
	}

	before := res.Views[1].ConversationID
	next, err := st.ListConversationViews(ctx, ListConversationsInput{UserID: user, BeforeID: &before, Limit: 2})
	if err != nil {
		t.Fatalf("list next: %v", err)
	}
	if next.HasMore || len(next.Views) != 1 || next.Views[0].ConversationID != convs[0] {
		t.Fatalf("unexpected last page: %+v", next)
	}
	if got := *next.Views[0].LastMessage; got != "second" {
		t.Fatalf("expected overwritten last_message, got %q", got)
	}
}

func TestInMemoryStore_UpsertConversationView_OlderDoesNotOverwrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewInMemoryStore()
	user, conv, other := uuid.New(), uuid.New(), uuid.New()

	upsert := func(text string, at time.Time) {
		t.Helper()
		if err := st.UpsertConversationView(ctx, ConversationView{
			UserID:         user,
			ConversationID: conv,
			OtherUserID:    other,
			LastMessage:    &text,
			LastUpdated:    at,
		}); err != nil {
			t.Fatalf("upsert %q: %v", text, err)
		}
	}
	last := func() ConversationView {
		t.Helper()
		res, err := st.ListConversationViews(ctx, ListConversationsInput{UserID: user, Limit: 10})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(res.Views) != 1 {
			t.Fatalf("expected one view, got %d", len(res.Views))
		}
		return res.Views[0]
	}

	upsert("newer", time.Unix(200, 0))
	upsert("older", time.Unix(100, 0))
	if v := last(); *v.LastMessage != "newer" || !v.LastUpdated.Equal(time.Unix(200, 0)) {
		t.Fatalf("older upsert overwrote view: %q at %s", *v.LastMessage, v.LastUpdated)
	}

	upsert("same instant", time.Unix(200, 0))
	if v := last(); *v.LastMessage != "same instant" {
		t.Fatalf("equal timestamp should overwrite, got %q", *v.LastMessage)
	}
}

func TestInMemoryStore_EnsureConversation_FirstWriterWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewInMemoryStore()
	id := uuid.New()

	t1 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	first, err := st.EnsureConversation(ctx, id, t1)
	if err != nil {
		t.Fatalf("ensure first: %v", err)
	}
	second, err := st.EnsureConversation(ctx, id, t1.Add(time.Hour))
	if err != nil {
		t.Fatalf("ensure second: %v", err)
	}
	if !first.CreatedAt.Equal(t1) || !second.CreatedAt.Equal(t1) {
		t.Fatalf("expected created_at %v for both, got %v and %v", t1, first.CreatedAt, second.CreatedAt)
	}

	got, found, err := st.GetConversation(ctx, id)
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if !got.CreatedAt.Equal(t1) {
		t.Fatalf("get: created_at %v", got.CreatedAt)
	}

	_, found, err = st.GetConversation(ctx, uuid.New())
	if err != nil || found {
		t.Fatalf("get missing: found=%v err=%v", found, err)
	}
}

func TestInMemoryStore_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := NewInMemoryStore()
	_, err := st.AppendMessage(ctx, AppendMessageInput{ConversationID: uuid.New()})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
