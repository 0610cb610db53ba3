package ids

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestGenerator_SameTimestampStrictlyIncreasing(t *testing.T) {
	t.Parallel()

	g := NewGenerator()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	prev, err := g.New(now)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := 0; i < 1000; i++ {
		id, err := g.New(now)
		if err != nil {
			t.Fatalf("new %d: %v", i, err)
		}
		if id.Compare(prev) <= 0 {
			t.Fatalf("id %s not greater than previous %s", id, prev)
		}
		prev = id
	}
}

func TestGenerator_ClockStepsBackwards(t *testing.T) {
	t.Parallel()

	g := NewGenerator()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first, err := g.New(now)
	if err != nil {
		t.Fatalf("new first: %v", err)
	}
	second, err := g.New(now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("new second: %v", err)
	}
	if second.Compare(first) <= 0 {
		t.Fatalf("expected %s > %s after clock regression", second, first)
	}
	if second.Time() != first.Time() {
		t.Fatalf("expected last millisecond to be reused: %d vs %d", second.Time(), first.Time())
	}
}

func TestGenerator_Concurrent_Unique(t *testing.T) {
	t.Parallel()

	g := NewGenerator()
	const n = 64

	var (
		mu  sync.Mutex
		out = make([]ulid.ULID, 0, n*16)
		wg  sync.WaitGroup
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 16; j++ {
				id, err := g.New(time.Time{})
				if err != nil {
					t.Errorf("new: %v", err)
					return
				}
				mu.Lock()
				out = append(out, id)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	seen := make(map[ulid.ULID]struct{}, len(out))
	for _, id := range out {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}

	// Lexicographic order of the external form must agree with byte order.
	strs := make([]string, 0, len(out))
	for _, id := range out {
		strs = append(strs, id.String())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	sort.Strings(strs)
	for i := range out {
		if out[i].String() != strs[i] {
			t.Fatalf("string order disagrees with byte order at %d", i)
		}
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	id, err := NewULID(time.Now())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	got, err := Parse(id.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != id {
		t.Fatalf("round trip mismatch: %s vs %s", got, id)
	}

	for _, bad := range []string{"", "short", "01ARZ3NDEKTSV4RRFFQ69G5FA!", "00000000000000000000000000"} {
		if _, err := Parse(bad); err == nil {
			t.Fatalf("parse(%q): expected error", bad)
		}
	}
}
