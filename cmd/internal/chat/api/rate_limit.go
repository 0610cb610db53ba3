package chatapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// senderLimiter is a per-sender sliding-window limiter for message sends.
// Idle senders are pruned once their window has fully elapsed.
type senderLimiter struct {
	limit  int
	window time.Duration

	mu        sync.Mutex
	events    map[string][]time.Time
	lastPrune time.Time
}

func newSenderLimiter(limit int, window time.Duration) *senderLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	return &senderLimiter{
		limit:  limit,
		window: window,
		events: make(map[string][]time.Time),
	}
}

// Allow reports whether sender may send at now, and how long to wait if not.
// A nil limiter allows everything.
func (l *senderLimiter) Allow(sender string, now time.Time) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cut := now.Add(-l.window)
	if now.Sub(l.lastPrune) > l.window {
		for k, evs := range l.events {
			if len(evs) == 0 || !evs[len(evs)-1].After(cut) {
				delete(l.events, k)
			}
		}
		l.lastPrune = now
	}

	evs := l.events[sender]
	dst := evs[:0]
	for _, t := range evs {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}

	if len(dst) >= l.limit {
		l.events[sender] = dst
		return false, dst[0].Add(l.window).Sub(now)
	}
	l.events[sender] = append(dst, now)
	return true, 0
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter / time.Second)
		if retryAfter%time.Second != 0 {
			secs++
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many messages")
}
