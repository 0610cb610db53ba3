package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"courier/cmd/identity/ids"
	"courier/cmd/internal/chat"

	"github.com/google/uuid"
)

type failingIndexStore struct {
	*chat.InMemoryStore
}

func (failingIndexStore) UpsertConversationView(context.Context, chat.ConversationView) error {
	return chat.OpError{Op: "test", Kind: chat.ErrStoreUnavailable, Err: errors.New("index down")}
}

type outcomes map[string]int

func (o outcomes) ObserveSend(outcome string) { o[outcome]++ }

func newTestMux(t *testing.T, store chat.Store, cfg Config, opts ...HandlerOption) *http.ServeMux {
	t.Helper()

	h, err := NewHandler(nil, chat.NewService(store), cfg, opts...)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func do(t *testing.T, mux http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHandler_SendAndPageMessages(t *testing.T) {
	obs := outcomes{}
	mux := newTestMux(t, chat.NewInMemoryStore(), DefaultConfig(), WithSendObserver(obs))
	a, b := uuid.NewString(), uuid.NewString()

	var sent []messageResponse
	for _, text := range []string{"one", "two", "three"} {
		rec := do(t, mux, http.MethodPost, "/api/messages", sendMessageRequest{SenderID: a, ReceiverID: b, Content: text})
		if rec.Code != http.StatusCreated {
			t.Fatalf("send: status %d body %s", rec.Code, rec.Body.String())
		}
		sent = append(sent, decode[messageResponse](t, rec))
	}
	if obs[OutcomeOK] != 3 {
		t.Fatalf("expected 3 ok outcomes, got %v", obs)
	}

	conv := sent[0].ConversationID
	rec := do(t, mux, http.MethodGet, "/api/messages/conversation/"+conv+"?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	first := decode[pageResponse[messageResponse]](t, rec)
	if first.Total != 2 || first.Limit != 2 || first.NextCursor == nil {
		t.Fatalf("unexpected first page: %+v", first)
	}
	if first.Data[0].Content != "three" || first.Data[1].Content != "two" {
		t.Fatalf("expected newest first, got %q, %q", first.Data[0].Content, first.Data[1].Content)
	}

	rec = do(t, mux, http.MethodGet, "/api/messages/conversation/"+conv+"/before?limit=2&before_message_id="+*first.NextCursor, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list before: status %d", rec.Code)
	}
	second := decode[pageResponse[messageResponse]](t, rec)
	if second.Total != 1 || second.NextCursor != nil || second.Data[0].Content != "one" {
		t.Fatalf("unexpected second page: %+v", second)
	}
}

func TestHandler_Conversations(t *testing.T) {
	mux := newTestMux(t, chat.NewInMemoryStore(), DefaultConfig())
	a, b := uuid.NewString(), uuid.NewString()

	rec := do(t, mux, http.MethodPost, "/api/messages", sendMessageRequest{SenderID: a, ReceiverID: b, Content: "hey"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send: status %d", rec.Code)
	}
	msg := decode[messageResponse](t, rec)

	rec = do(t, mux, http.MethodGet, "/api/conversations/user/"+b, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list conversations: status %d", rec.Code)
	}
	page := decode[pageResponse[conversationResponse]](t, rec)
	if page.Total != 1 || page.NextCursor != nil {
		t.Fatalf("unexpected page: %+v", page)
	}
	got := page.Data[0]
	if got.ID != msg.ConversationID || *got.User1ID != b || *got.User2ID != a || *got.LastMessageContent != "hey" {
		t.Fatalf("unexpected view: %+v", got)
	}

	rec = do(t, mux, http.MethodGet, "/api/conversations/"+msg.ConversationID+"?enrich_users=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get conversation: status %d", rec.Code)
	}
	detail := decode[conversationResponse](t, rec)
	if detail.User1ID == nil || *detail.User1ID != a || detail.User2ID == nil || *detail.User2ID != b {
		t.Fatalf("expected enriched users, got %+v", detail)
	}

	rec = do(t, mux, http.MethodGet, "/api/conversations/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing conversation: status %d", rec.Code)
	}

	rec = do(t, mux, http.MethodPost, "/api/conversations", createConversationRequest{User1ID: b, User2ID: a})
	if rec.Code != http.StatusOK {
		t.Fatalf("create conversation: status %d", rec.Code)
	}
	if created := decode[conversationResponse](t, rec); created.ID != msg.ConversationID {
		t.Fatalf("expected existing conversation id, got %s", created.ID)
	}
}

func TestHandler_BadRequests(t *testing.T) {
	mux := newTestMux(t, chat.NewInMemoryStore(), DefaultConfig())
	valid := uuid.NewString()

	cases := []struct {
		name   string
		method string
		target string
		body   any
		want   int
	}{
		{"malformed sender", http.MethodPost, "/api/messages", sendMessageRequest{SenderID: "x", ReceiverID: valid}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/messages", map[string]string{"sender": valid}, http.StatusBadRequest},
		{"non-numeric limit", http.MethodGet, "/api/messages/conversation/" + valid + "?limit=abc", nil, http.StatusBadRequest},
		{"limit too large", http.MethodGet, "/api/messages/conversation/" + valid + "?limit=101", nil, http.StatusBadRequest},
		{"malformed cursor", http.MethodGet, "/api/messages/conversation/" + valid + "?before_message_id=zzz", nil, http.StatusBadRequest},
		{"malformed conversation", http.MethodGet, "/api/messages/conversation/not-a-uuid", nil, http.StatusBadRequest},
		{"malformed user", http.MethodGet, "/api/conversations/user/nope", nil, http.StatusBadRequest},
		{"bad enrich flag", http.MethodGet, "/api/conversations/" + valid + "?enrich_users=maybe", nil, http.StatusBadRequest},
		{"wrong method", http.MethodDelete, "/api/messages", nil, http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		rec := do(t, mux, tc.method, tc.target, tc.body)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d (%s)", tc.name, tc.want, rec.Code, rec.Body.String())
		}
	}

	rec := do(t, mux, http.MethodPost, "/api/messages", sendMessageRequest{SenderID: "x", ReceiverID: valid})
	if e := decode[errorResponse](t, rec); e.Error.Code != "invalid_argument" || e.Error.Message != "malformed user_id" {
		t.Fatalf("unexpected error body: %+v", e)
	}
}

func TestHandler_DuplicateMessageID(t *testing.T) {
	obs := outcomes{}
	mux := newTestMux(t, chat.NewInMemoryStore(), DefaultConfig(), WithSendObserver(obs))
	a, b := uuid.NewString(), uuid.NewString()

	id, err := ids.NewGenerator().New(time.Now())
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	req := sendMessageRequest{SenderID: a, ReceiverID: b, Content: "retry me", MessageID: id.String()}

	if rec := do(t, mux, http.MethodPost, "/api/messages", req); rec.Code != http.StatusCreated {
		t.Fatalf("first send: status %d", rec.Code)
	}
	rec := do(t, mux, http.MethodPost, "/api/messages", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("retry: status %d", rec.Code)
	}
	if got := decode[messageResponse](t, rec); got.ID != id.String() {
		t.Fatalf("retry returned id %s", got.ID)
	}
	if obs[OutcomeDuplicate] != 1 {
		t.Fatalf("expected one duplicate outcome, got %v", obs)
	}
}

func TestHandler_PartialWriteStillCreated(t *testing.T) {
	obs := outcomes{}
	store := failingIndexStore{chat.NewInMemoryStore()}
	mux := newTestMux(t, store, DefaultConfig(), WithSendObserver(obs))

	rec := do(t, mux, http.MethodPost, "/api/messages", sendMessageRequest{SenderID: uuid.NewString(), ReceiverID: uuid.NewString(), Content: "x"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if rec.Header().Get("X-Partial-Write") != "true" {
		t.Fatalf("expected partial write header")
	}
	if got := decode[messageResponse](t, rec); got.ID == "" {
		t.Fatalf("expected stored message in body")
	}
	if obs[OutcomePartial] != 1 {
		t.Fatalf("expected one partial outcome, got %v", obs)
	}
}

func TestHandler_SendRateLimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendRateEvents = 2
	cfg.SendRateWindow = time.Minute
	obs := outcomes{}
	mux := newTestMux(t, chat.NewInMemoryStore(), cfg, WithSendObserver(obs))

	a, b := uuid.NewString(), uuid.NewString()
	for i := 0; i < 2; i++ {
		if rec := do(t, mux, http.MethodPost, "/api/messages", sendMessageRequest{SenderID: a, ReceiverID: b}); rec.Code != http.StatusCreated {
			t.Fatalf("send %d: status %d", i, rec.Code)
		}
	}

	rec := do(t, mux, http.MethodPost, "/api/messages", sendMessageRequest{SenderID: a, ReceiverID: b})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if obs[OutcomeRateLimited] != 1 || obs[OutcomeOK] != 2 {
		t.Fatalf("expected 2 ok and 1 rate_limited outcome, got %v", obs)
	}

	// Another sender is unaffected.
	if rec := do(t, mux, http.MethodPost, "/api/messages", sendMessageRequest{SenderID: b, ReceiverID: a}); rec.Code != http.StatusCreated {
		t.Fatalf("other sender: status %d", rec.Code)
	}
}

func TestSenderLimiter_WindowSlides(t *testing.T) {
	l := newSenderLimiter(1, time.Second)
	t0 := time.Unix(1000, 0)

	if ok, _ := l.Allow("s", t0); !ok {
		t.Fatalf("first event should pass")
	}
	ok, wait := l.Allow("s", t0.Add(200*time.Millisecond))
	if ok || wait != 800*time.Millisecond {
		t.Fatalf("expected block with 800ms wait, got ok=%v wait=%v", ok, wait)
	}
	if ok, _ := l.Allow("s", t0.Add(1100*time.Millisecond)); !ok {
		t.Fatalf("event after window should pass")
	}

	var nilLimiter *senderLimiter
	if ok, _ := nilLimiter.Allow("s", t0); !ok {
		t.Fatalf("nil limiter must allow")
	}
}

func TestHandler_BodyTooLarge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBodyBytes = 64
	obs := outcomes{}
	mux := newTestMux(t, chat.NewInMemoryStore(), cfg, WithSendObserver(obs))

	req := sendMessageRequest{SenderID: uuid.NewString(), ReceiverID: uuid.NewString(), Content: strings.Repeat("x", 200)}
	rec := do(t, mux, http.MethodPost, "/api/messages", req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if got := decode[errorResponse](t, rec); got.Error.Code != "body_too_large" {
		t.Fatalf("unexpected error code %q", got.Error.Code)
	}
	if obs[OutcomeInvalid] != 1 {
		t.Fatalf("expected one invalid outcome, got %v", obs)
	}

	rec = do(t, mux, http.MethodPost, "/api/conversations", createConversationRequest{
		User1ID: strings.Repeat("a", 100), User2ID: uuid.NewString(),
	})
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("create conversation: expected 413, got %d", rec.Code)
	}
}

func TestHandler_DuplicateReplaysDerivedRows(t *testing.T) {
	mem := chat.NewInMemoryStore()
	obs := outcomes{}
	failing := newTestMux(t, failingIndexStore{mem}, DefaultConfig(), WithSendObserver(obs))
	healthy := newTestMux(t, mem, DefaultConfig(), WithSendObserver(obs))
	a, b := uuid.NewString(), uuid.NewString()

	id, err := ids.NewGenerator().New(time.Now())
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	req := sendMessageRequest{SenderID: a, ReceiverID: b, Content: "eventually indexed", MessageID: id.String()}

	rec := do(t, failing, http.MethodPost, "/api/messages", req)
	if rec.Code != http.StatusCreated || rec.Header().Get("X-Partial-Write") != "true" {
		t.Fatalf("first send: status %d partial=%q", rec.Code, rec.Header().Get("X-Partial-Write"))
	}

	// Retry while the index is still down: duplicate and still partial.
	rec = do(t, failing, http.MethodPost, "/api/messages", req)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Partial-Write") != "true" {
		t.Fatalf("failing retry: status %d partial=%q", rec.Code, rec.Header().Get("X-Partial-Write"))
	}

	rec = do(t, healthy, http.MethodPost, "/api/messages", req)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Partial-Write") != "" {
		t.Fatalf("healthy retry: status %d partial=%q", rec.Code, rec.Header().Get("X-Partial-Write"))
	}

	for _, user := range []string{a, b} {
		rec = do(t, healthy, http.MethodGet, "/api/conversations/user/"+user, nil)
		page := decode[pageResponse[conversationResponse]](t, rec)
		if page.Total != 1 || page.Data[0].LastMessageContent == nil || *page.Data[0].LastMessageContent != "eventually indexed" {
			t.Fatalf("views for %s did not converge: %+v", user, page)
		}
	}
	if obs[OutcomePartial] != 2 || obs[OutcomeDuplicate] != 1 {
		t.Fatalf("unexpected outcomes %v", obs)
	}
}
