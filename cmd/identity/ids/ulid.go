// Package ids provides the time-ordered message id primitive (ULID).
package ids

import (
	"crypto/rand"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrZeroID is returned when parsing the all-zero ULID, which is never assigned.
var ErrZeroID = errors.New("ids: zero id")

// Generator issues ULIDs that strictly increase across calls on the same Generator,
// including calls that carry the same (or an earlier) timestamp.
//
// Within a millisecond the random component is incremented monotonically. If the
// wall clock steps backwards, the last issued millisecond is reused so ordering by
// id never disagrees with issue order.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	lastMS  uint64
}

// NewGenerator returns a Generator backed by crypto/rand.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy returns a Generator reading randomness from r.
func NewGeneratorWithEntropy(r io.Reader) *Generator {
	return &Generator{entropy: ulid.Monotonic(r, 0)}
}

// New returns the next id for time now (zero now means time.Now()).
func (g *Generator) New(now time.Time) (ulid.ULID, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ms := ulid.Timestamp(now)

	g.mu.Lock()
	defer g.mu.Unlock()

	if ms < g.lastMS {
		ms = g.lastMS
	}

	id, err := ulid.New(ms, g.entropy)
	if errors.Is(err, ulid.ErrMonotonicOverflow) {
		// Random component exhausted for this millisecond: move to the next one.
		ms++
		id, err = ulid.New(ms, g.entropy)
	}
	if err != nil {
		return ulid.ULID{}, err
	}

	g.lastMS = ms
	return id, nil
}

var defaultGenerator = NewGenerator()

// NewULID returns a new ULID from the process-wide generator.
func NewULID(now time.Time) (ulid.ULID, error) {
	return defaultGenerator.New(now)
}

// Parse parses the 26-char external form of an id (case-insensitive Crockford base32).
func Parse(s string) (ulid.ULID, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return ulid.ULID{}, err
	}
	if id == (ulid.ULID{}) {
		return ulid.ULID{}, ErrZeroID
	}
	return id, nil
}
