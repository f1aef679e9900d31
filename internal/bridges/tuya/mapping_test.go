package tuya

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockStore implements CapabilityStore for testing.
type MockStore struct {
	mu           sync.Mutex
	capabilities map[string]bool
	values       map[string]any
	writes       []mockWrite
	writeErr     error
}

type mockWrite struct {
	Capability string
	Value      any
}

func NewMockStore(capabilities ...string) *MockStore {
	caps := make(map[string]bool)
	for _, c := range capabilities {
		caps[c] = true
	}
	return &MockStore{capabilities: caps, values: make(map[string]any)}
}

func (m *MockStore) HasCapability(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capabilities[name]
}

func (m *MockStore) CapabilityValue(name string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[name]
	return v, ok
}

func (m *MockStore) SetCapabilityValue(_ context.Context, name string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, mockWrite{Capability: name, Value: value})
	if m.writeErr != nil {
		return m.writeErr
	}
	m.values[name] = value
	return nil
}

func (m *MockStore) GetWrites() []mockWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockWrite(nil), m.writes...)
}

// MockLogger records log calls for testing.
type MockLogger struct {
	mu      sync.Mutex
	entries []mockLogEntry
}

type mockLogEntry struct {
	Level string
	Msg   string
	KV    []any
}

func (l *MockLogger) record(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, mockLogEntry{Level: level, Msg: msg, KV: kv})
}

func (l *MockLogger) Debug(msg string, kv ...any) { l.record("debug", msg, kv) }
func (l *MockLogger) Info(msg string, kv ...any)  { l.record("info", msg, kv) }
func (l *MockLogger) Warn(msg string, kv ...any)  { l.record("warn", msg, kv) }
func (l *MockLogger) Error(msg string, kv ...any) { l.record("error", msg, kv) }

// Count returns how many entries have the given level and message.
func (l *MockLogger) Count(level, msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.Level == level && e.Msg == msg {
			n++
		}
	}
	return n
}

func ptr(f float64) *float64 { return &f }

// ─── Compute ────────────────────────────────────────────────────────

func TestRuleCompute(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		raw  any
		want any
	}{
		{"divisor", Rule{Capability: "c", Divisor: 2}, int64(200), 100.0},
		{"divisor tenths", Rule{Capability: "c", Divisor: 10}, int64(215), 21.5},
		{"no transform normalises to float", Rule{Capability: "c"}, int64(7), 7.0},
		{"invert with max", Rule{Capability: "c", Invert: true, Max: ptr(100)}, int64(100), 0.0},
		{"invert default max", Rule{Capability: "c", Invert: true}, int64(30), 70.0},
		{"invert custom max", Rule{Capability: "c", Invert: true, Max: ptr(1000)}, int64(250), 750.0},
		{"invert bool", Rule{Capability: "c", Invert: true}, true, false},
		{"clamp high", Rule{Capability: "c", Min: ptr(0), Max: ptr(100)}, int64(150), 100.0},
		{"clamp low", Rule{Capability: "c", Min: ptr(0), Max: ptr(100)}, int64(-10), 0.0},
		{"transform wins over divisor", Rule{Capability: "c", Divisor: 10, Transform: Transform{{Kind: OpScale, Arg: 2}}}, int64(5), 10.0},
		{"transform to bool", Rule{Capability: "c", Transform: Transform{{Kind: OpEquals, Arg: 1}}}, uint8(1), true},
		{"transform then invert", Rule{Capability: "c", Transform: Transform{{Kind: OpBool}}, Invert: true}, int64(1), false},
		{"string untouched", Rule{Capability: "c", Divisor: 10, Max: ptr(1)}, "abc", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.rule.Compute(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRuleComputeTransformError(t *testing.T) {
	rule := Rule{Capability: "c", Transform: Transform{{Kind: OpEnum, Map: map[int64]any{0: "a"}}}}
	_, err := rule.Compute(uint8(9))
	assert.ErrorIs(t, err, ErrTransformFailed)
}

func TestRuleValidate(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{"valid", Rule{Capability: "onoff"}, false},
		{"missing capability", Rule{}, true},
		{"negative divisor", Rule{Capability: "c", Divisor: -1}, true},
		{"min above max", Rule{Capability: "c", Min: ptr(10), Max: ptr(0)}, true},
		{"bad transform", Rule{Capability: "c", Transform: Transform{{Kind: "nope"}}}, true},
		{"bad also_sets", Rule{Capability: "c", AlsoSets: map[string]Transform{"x": {{Kind: OpDivide}}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRule)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// ─── Engine ─────────────────────────────────────────────────────────

func TestEngineWritesOnlyOnChange(t *testing.T) {
	store := NewMockStore("measure_battery")
	e := NewEngine(store)
	rule := Rule{Capability: "measure_battery", Divisor: 2}
	ctx := context.Background()

	final, emitted := e.Apply(ctx, int64(200), rule)
	assert.True(t, emitted)
	assert.Equal(t, 100.0, final)

	_, emitted = e.Apply(ctx, int64(200), rule)
	assert.False(t, emitted)

	_, emitted = e.Apply(ctx, int64(198), rule)
	assert.True(t, emitted)

	writes := store.GetWrites()
	require.Len(t, writes, 2)
	assert.Equal(t, 100.0, writes[0].Value)
	assert.Equal(t, 99.0, writes[1].Value)

	v, ok := e.LastCapability("measure_battery")
	assert.True(t, ok)
	assert.Equal(t, 99.0, v)
}

func TestEngineSeedsFromStore(t *testing.T) {
	store := NewMockStore("onoff")
	store.values["onoff"] = true
	e := NewEngine(store)

	_, emitted := e.Apply(context.Background(), true, Rule{Capability: "onoff"})

	assert.False(t, emitted)
	assert.Empty(t, store.GetWrites())
}

func TestEngineSkipsMissingCapability(t *testing.T) {
	store := NewMockStore("onoff")
	e := NewEngine(store)

	final, emitted := e.Apply(context.Background(), int64(5), Rule{Capability: "dim"})

	assert.False(t, emitted)
	assert.Equal(t, 5.0, final)
	assert.Empty(t, store.GetWrites())
}

func TestEngineWriteFailureKeepsCache(t *testing.T) {
	store := NewMockStore("onoff")
	store.writeErr = errors.New("store offline")
	logger := &MockLogger{}
	e := NewEngine(store)
	e.SetLogger(logger)
	rule := Rule{Capability: "onoff"}

	_, emitted := e.Apply(context.Background(), true, rule)
	assert.True(t, emitted)
	assert.Equal(t, 1, logger.Count("error", "capability write failed"))

	v, ok := e.LastCapability("onoff")
	assert.True(t, ok)
	assert.Equal(t, true, v)

	// Same value again is not retried.
	_, emitted = e.Apply(context.Background(), true, rule)
	assert.False(t, emitted)
	assert.Len(t, store.GetWrites(), 1)
}

func TestEngineLogsSuccessMarker(t *testing.T) {
	logger := &MockLogger{}
	e := NewEngine(NewMockStore("onoff"))
	e.SetLogger(logger)

	e.Apply(context.Background(), true, Rule{Capability: "onoff"})

	assert.Equal(t, 1, logger.Count("info", "capability updated"))
}

func TestEngineTransformFailureWritesNothing(t *testing.T) {
	store := NewMockStore("mode")
	e := NewEngine(store)
	rule := Rule{Capability: "mode", Transform: Transform{{Kind: OpEnum, Map: map[int64]any{0: "auto"}}}}

	final, emitted := e.Apply(context.Background(), uint8(4), rule)

	assert.Nil(t, final)
	assert.False(t, emitted)
	assert.Empty(t, store.GetWrites())
}

func TestEngineNilValueWritesNothing(t *testing.T) {
	store := NewMockStore("onoff")
	e := NewEngine(store)

	_, emitted := e.Apply(context.Background(), nil, Rule{Capability: "onoff"})

	assert.False(t, emitted)
	assert.Empty(t, store.GetWrites())
}

func TestEngineAlsoSets(t *testing.T) {
	store := NewMockStore("alarm_motion", "alarm_human", "presence_state")
	e := NewEngine(store)
	rule := Rule{
		Capability: "presence_state",
		AlsoSets: map[string]Transform{
			"alarm_motion": {{Kind: OpBool}},
			"alarm_human":  {{Kind: OpEquals, Arg: 2}},
		},
	}

	e.Apply(context.Background(), uint8(2), rule)

	got := map[string]any{}
	for _, w := range store.GetWrites() {
		got[w.Capability] = w.Value
	}
	assert.Equal(t, map[string]any{
		"presence_state": 2.0,
		"alarm_motion":   true,
		"alarm_human":    true,
	}, got)
}

func TestEngineConcurrentApply(t *testing.T) {
	store := NewMockStore("level")
	e := NewEngine(store)
	rule := Rule{Capability: "level"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e.Apply(context.Background(), int64(i%5), rule)
		}(i)
	}
	wg.Wait()

	_, ok := e.LastCapability("level")
	assert.True(t, ok, fmt.Sprintf("writes: %d", len(store.GetWrites())))
}
