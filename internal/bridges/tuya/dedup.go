package tuya

import (
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// DedupWindow is how long an identical value for the same key is treated as
// a retransmission.
const DedupWindow = 300 * time.Millisecond

// hashMode encodes values deterministically so equal values hash equally.
var hashMode cbor.EncMode

func init() {
	var err error
	hashMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR hash mode: %v", err))
	}
}

// lastValueEntry is the gate's memory of one key.
type lastValueEntry struct {
	contentHash string
	observedAt  time.Time
	value       any
}

// Gate drops near-duplicate reports.
//
// A report is a duplicate when the previous accepted report for the same key
// carried a structurally equal value less than DedupWindow ago. Duplicates do
// not refresh the stored timestamp; under continuous retransmission one copy
// passes per window.
//
// Each endpoint owns its own Gate. Thread Safety: all methods are safe for
// concurrent use.
type Gate struct {
	mu      sync.Mutex
	entries map[Key]lastValueEntry
	window  time.Duration
}

// NewGate creates an empty gate with the standard window.
func NewGate() *Gate {
	return &Gate{
		entries: make(map[Key]lastValueEntry),
		window:  DedupWindow,
	}
}

// IsDuplicate reports whether value is a retransmission for key and, if it
// is not, records it as the latest observation.
//
// Parameters:
//   - key: Datapoint or attribute key
//   - value: Decoded value (compared structurally, not by reference)
//   - now: Observation time; callers must use one clock consistently
//
// Returns:
//   - bool: true if the report should be dropped
func (g *Gate) IsDuplicate(key Key, value any, now time.Time) bool {
	hash := contentHash(value)

	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.entries[key]; ok {
		if prev.contentHash == hash && now.Sub(prev.observedAt) < g.window {
			return true
		}
	}

	g.entries[key] = lastValueEntry{
		contentHash: hash,
		observedAt:  now,
		value:       value,
	}
	return false
}

// LastValue returns the last accepted (non-duplicate) value for key.
func (g *Gate) LastValue(key Key) (any, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.entries[key]
	if !ok {
		return nil, false
	}
	return entry.value, true
}

// Len returns the number of keys the gate remembers.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// contentHash returns a canonical encoding of v. Values CBOR cannot encode
// fall back to their Go syntax representation.
func contentHash(v any) string {
	data, err := hashMode.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%T:%#v", v, v)
	}
	return string(data)
}
