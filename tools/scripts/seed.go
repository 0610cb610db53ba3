// Package main seeds a running Courier server with a fixed set of direct-message
// conversations over the HTTP API and checks paging and realtime push against it.
// The checks assume an empty store.
//
// Data set:
//   - alice/bob: 25 alternating messages (two pages at the default limit)
//   - alice/carol: a single message
//   - bob/dave: 10 alternating messages
//   - alice/eve: conversation created without messages
//
// With -ws set, bob holds a push session while alice writes to him and every
// message_new envelope is counted.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "courier/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type user struct {
	name string
	id   string
}

var (
	alice = user{name: "alice", id: "11111111-1111-1111-1111-111111111111"}
	bob   = user{name: "bob", id: "22222222-2222-2222-2222-222222222222"}
	carol = user{name: "carol", id: "33333333-3333-3333-3333-333333333333"}
	dave  = user{name: "dave", id: "44444444-4444-4444-4444-444444444444"}
	eve   = user{name: "eve", id: "55555555-5555-5555-5555-555555555555"}
)

type message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

type conversation struct {
	ID      string  `json:"id"`
	User1ID *string `json:"user1_id"`
	User2ID *string `json:"user2_id"`
}

type page[T any] struct {
	Total      int     `json:"total"`
	Limit      int     `json:"limit"`
	Data       []T     `json:"data"`
	NextCursor *string `json:"next_cursor"`
}

type seeder struct {
	base    string
	client  *http.Client
	verbose bool
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "Courier HTTP base URL")
		wsURL   = flag.String("ws", "", "WebSocket URL for the push check (e.g. ws://127.0.0.1:8080/ws); empty skips it")
		origin  = flag.String("origin", "http://localhost", "Origin header sent on the websocket handshake")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-request timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateURL(*baseURL, "http", "https"); err != nil {
		fatalf("invalid -url: %v", err)
	}

	s := &seeder{
		base:    strings.TrimRight(*baseURL, "/"),
		client:  &http.Client{Timeout: *timeout},
		verbose: *verbose,
	}
	root := context.Background()

	var push *pushClient
	if *wsURL != "" {
		if err := validateURL(*wsURL, "ws", "wss"); err != nil {
			fatalf("invalid -ws: %v", err)
		}
		push = mustConnect(root, *wsURL, *origin, bob, *timeout)
		defer closeWS(push.conn)
	}

	ab := s.mustSendAlternating(root, alice, bob, 25)
	s.mustSendAlternating(root, alice, carol, 1)
	bd := s.mustSendAlternating(root, bob, dave, 10)

	ae := s.mustCreateConversation(root, alice, eve)

	s.mustCheckMessagePages(root, ab, []int{20, 5})
	s.mustCheckMessagePages(root, bd, []int{10})
	s.mustCheckConversationCount(root, alice, 2)
	s.mustCheckConversationCount(root, bob, 2)
	s.mustCheckEmptyConversation(root, ae)

	if push != nil {
		push.mustCountMessageNew(root, 25+10, *timeout)
	}

	fmt.Printf("OK: alice/bob=%s bob/dave=%s alice/eve=%s\n", ab, bd, ae)
}

// mustSendAlternating sends n messages between a and b, a first, and returns the conversation id.
func (s *seeder) mustSendAlternating(ctx context.Context, a, b user, n int) string {
	var convID string
	for i := range n {
		from, to := a, b
		if i%2 == 1 {
			from, to = b, a
		}
		var m message
		s.mustDo(ctx, http.MethodPost, "/api/messages", map[string]string{
			"sender_id":   from.id,
			"receiver_id": to.id,
			"content":     fmt.Sprintf("Message %d between %s and %s", i+1, a.name, b.name),
		}, http.StatusCreated, &m)
		if convID != "" && m.ConversationID != convID {
			fatalf("conversation id changed mid-thread: %s -> %s", convID, m.ConversationID)
		}
		convID = m.ConversationID
	}
	if s.verbose {
		fmt.Printf("sent %d messages %s<->%s conv=%s\n", n, a.name, b.name, convID)
	}
	return convID
}

func (s *seeder) mustCreateConversation(ctx context.Context, a, b user) string {
	var c conversation
	s.mustDo(ctx, http.MethodPost, "/api/conversations", map[string]string{
		"user1_id": a.id,
		"user2_id": b.id,
	}, http.StatusOK, &c)
	return c.ID
}

func (s *seeder) mustCheckMessagePages(ctx context.Context, convID string, want []int) {
	before := ""
	for i, n := range want {
		path := "/api/messages/conversation/" + url.PathEscape(convID)
		if before != "" {
			path += "?before_message_id=" + url.QueryEscape(before)
		}
		var p page[message]
		s.mustDo(ctx, http.MethodGet, path, nil, http.StatusOK, &p)
		if p.Total != n {
			fatalf("conv %s page %d: total=%d want %d", convID, i, p.Total, n)
		}
		last := i == len(want)-1
		if last != (p.NextCursor == nil) {
			fatalf("conv %s page %d: next_cursor=%v on last=%v", convID, i, p.NextCursor, last)
		}
		if p.NextCursor != nil {
			before = *p.NextCursor
		}
	}
}

func (s *seeder) mustCheckConversationCount(ctx context.Context, u user, want int) {
	var p page[conversation]
	s.mustDo(ctx, http.MethodGet, "/api/conversations/user/"+u.id, nil, http.StatusOK, &p)
	if p.Total != want {
		fatalf("%s conversations: total=%d want %d", u.name, p.Total, want)
	}
}

func (s *seeder) mustCheckEmptyConversation(ctx context.Context, convID string) {
	var c conversation
	s.mustDo(ctx, http.MethodGet, "/api/conversations/"+convID+"?enrich_users=true", nil, http.StatusOK, &c)
	if c.User1ID != nil || c.User2ID != nil {
		fatalf("empty conversation %s enriched with participants", convID)
	}
}

func (s *seeder) mustDo(ctx context.Context, method, path string, body any, wantStatus int, out any) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("marshal %s %s: %v", method, path, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.base+path, rd)
	if err != nil {
		fatalf("build %s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("read %s %s: %v", method, path, err)
	}
	if resp.StatusCode != wantStatus {
		fatalf("%s %s: status=%d want %d body=%s", method, path, resp.StatusCode, wantStatus, raw)
	}
	if resp.Header.Get("X-Partial-Write") == "true" {
		fatalf("%s %s: partial write reported", method, path)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			fatalf("decode %s %s: %v", method, path, err)
		}
	}
}

type pushClient struct {
	conn *websocket.Conn
	user user
}

func mustConnect(parent context.Context, wsURL, origin string, u user, stepTimeout time.Duration) *pushClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	target, err := url.Parse(wsURL)
	if err != nil {
		fatalf("parse ws url: %v", err)
	}
	q := target.Query()
	q.Set("user_id", u.id)
	target.RawQuery = q.Encode()

	conn, resp, err := websocket.Dial(ctx, target.String(), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", u.name, err)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &pushClient{conn: conn, user: u}
	ack := c.mustRead(parent, stepTimeout)
	if ack.Type != v1.TypeHelloAck {
		fatalf("first envelope for %s: type=%q want %q", u.name, ack.Type, v1.TypeHelloAck)
	}
	return c
}

func (c *pushClient) mustRead(parent context.Context, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	_, data, err := c.conn.Read(ctx)
	if err != nil {
		fatalf("read (%s): %v", c.user.name, err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		fatalf("bad json (%s): %v", c.user.name, err)
	}
	if err := env.Validate(); err != nil {
		fatalf("bad envelope (%s): %v", c.user.name, err)
	}
	if env.Type == v1.TypeError {
		var ep v1.ErrorPayload
		_ = json.Unmarshal(env.Payload, &ep)
		fatalf("server error (%s): code=%q msg=%q", c.user.name, ep.Code, ep.Message)
	}
	return env
}

func (c *pushClient) mustCountMessageNew(parent context.Context, want int, stepTimeout time.Duration) {
	for got := 0; got < want; {
		env := c.mustRead(parent, stepTimeout)
		if env.Type != v1.TypeMessageNew {
			continue
		}
		var p v1.MessageNewPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal message_new (%s): %v", c.user.name, err)
		}
		if p.SenderID != c.user.id && p.ReceiverID != c.user.id {
			fatalf("message_new for a foreign conversation (%s): %+v", c.user.name, p)
		}
		got++
	}
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	ok := false
	for _, s := range schemes {
		if u.Scheme == s {
			ok = true
		}
	}
	if !ok {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
