package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"courier/cmd/internal/chat"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStoreOp(t *testing.T) {
	m := newWithRegistry(prometheus.NewRegistry())

	m.ObserveStoreOp("append_message", 3*time.Millisecond, nil)
	m.ObserveStoreOp("append_message", time.Millisecond, chat.OpError{Op: "x", Kind: chat.ErrStoreUnavailable})

	if got := testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("append_message", "ok")); got != 1 {
		t.Fatalf("ok count: %v", got)
	}
	if got := testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("append_message", "unavailable")); got != 1 {
		t.Fatalf("unavailable count: %v", got)
	}
	if n := testutil.CollectAndCount(m.StoreOperationDuration); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}
}

func TestSessionsAndPushes(t *testing.T) {
	m := newWithRegistry(prometheus.NewRegistry())

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.PushDelivered(3)
	m.PushDropped()

	if got := testutil.ToFloat64(m.WSSessionsActive); got != 1 {
		t.Fatalf("active sessions: %v", got)
	}
	if got := testutil.ToFloat64(m.PushesTotal.WithLabelValues("delivered")); got != 3 {
		t.Fatalf("delivered: %v", got)
	}
	if got := testutil.ToFloat64(m.PushesTotal.WithLabelValues("dropped")); got != 1 {
		t.Fatalf("dropped: %v", got)
	}
}

func TestErrorStatus(t *testing.T) {
	cases := map[string]error{
		"ok":               nil,
		"invalid_argument": chat.OpError{Op: "x", Kind: chat.ErrInvalidArgument},
		"not_found":        chat.OpError{Op: "x", Kind: chat.ErrNotFound},
		"canceled":         context.Canceled,
		"error":            errors.New("boom"),
	}
	for want, err := range cases {
		if got := ErrorStatus(err); got != want {
			t.Fatalf("ErrorStatus(%v) = %q want %q", err, got, want)
		}
	}
}

func TestHandler_ExposesCourierMetrics(t *testing.T) {
	m := New()
	m.ObserveSend("ok")
	m.ObserveHTTP(http.MethodGet, "GET /healthz", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{"courier_messages_sent_total", "courier_http_requests_total", "go_goroutines"} {
		if !strings.Contains(body, name) {
			t.Fatalf("expected %s in exposition", name)
		}
	}
}
