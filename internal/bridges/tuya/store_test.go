package tuya

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockPublisher records capability updates.
type MockPublisher struct {
	mu      sync.Mutex
	updates []CapabilityUpdate
	err     error
}

func (p *MockPublisher) PublishCapability(_ context.Context, u CapabilityUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
	return p.err
}

func (p *MockPublisher) Updates() []CapabilityUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CapabilityUpdate(nil), p.updates...)
}

func TestDeviceStoreFansOut(t *testing.T) {
	a, b := &MockPublisher{}, &MockPublisher{}
	store := NewDeviceStore("thermo-1", []string{"onoff", "dim"}, a, b)

	require.NoError(t, store.SetCapabilityValue(context.Background(), "dim", 0.5))

	for _, p := range []*MockPublisher{a, b} {
		updates := p.Updates()
		require.Len(t, updates, 1)
		assert.Equal(t, "thermo-1", updates[0].DeviceID)
		assert.Equal(t, "dim", updates[0].Capability)
		assert.Equal(t, 0.5, updates[0].Value)
		assert.False(t, updates[0].Timestamp.IsZero())
	}

	v, ok := store.CapabilityValue("dim")
	assert.True(t, ok)
	assert.Equal(t, 0.5, v)
}

func TestDeviceStoreJoinsPublisherErrors(t *testing.T) {
	errA := errors.New("mqtt down")
	errB := errors.New("influx down")
	ok := &MockPublisher{}
	store := NewDeviceStore("dev", []string{"onoff"},
		&MockPublisher{err: errA}, ok, &MockPublisher{err: errB})

	err := store.SetCapabilityValue(context.Background(), "onoff", true)

	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Len(t, ok.Updates(), 1, "healthy publisher still called")

	v, _ := store.CapabilityValue("onoff")
	assert.Equal(t, true, v, "value kept despite publisher failure")
}

func TestDeviceStoreUnknownCapability(t *testing.T) {
	p := &MockPublisher{}
	store := NewDeviceStore("dev", []string{"onoff"}, p)

	err := store.SetCapabilityValue(context.Background(), "dim", 1)

	assert.ErrorIs(t, err, ErrCapabilityNotFound)
	assert.Empty(t, p.Updates())
}

func TestDeviceStoreSnapshot(t *testing.T) {
	store := NewDeviceStore("dev", []string{"onoff", "dim"})
	t0 := time.Unix(1700000000, 0)
	now := t0
	store.clock = func() time.Time { return now }

	_ = store.SetCapabilityValue(context.Background(), "onoff", true)
	now = t0.Add(time.Minute)
	_ = store.SetCapabilityValue(context.Background(), "dim", 0.3)

	values, latest := store.Snapshot()
	assert.Equal(t, map[string]any{"onoff": true, "dim": 0.3}, values)
	assert.Equal(t, t0.Add(time.Minute), latest)

	values["onoff"] = false
	v, _ := store.CapabilityValue("onoff")
	assert.Equal(t, true, v, "snapshot is a copy")
}

func TestDeviceStoreCapabilities(t *testing.T) {
	store := NewDeviceStore("dev", []string{"onoff", "dim", "measure_power"})

	assert.Equal(t, []string{"dim", "measure_power", "onoff"}, store.Capabilities())
	assert.Equal(t, "dev", store.DeviceID())
	assert.True(t, store.HasCapability("dim"))
	assert.False(t, store.HasCapability("target_temperature"))
}

func TestPublisherFunc(t *testing.T) {
	var got CapabilityUpdate
	p := PublisherFunc(func(_ context.Context, u CapabilityUpdate) error {
		got = u
		return nil
	})
	store := NewDeviceStore("dev", []string{"onoff"}, p)

	require.NoError(t, store.SetCapabilityValue(context.Background(), "onoff", false))
	assert.Equal(t, "onoff", got.Capability)
}

func TestEngineWithDeviceStore(t *testing.T) {
	p := &MockPublisher{}
	store := NewDeviceStore("dev", []string{"measure_temperature"}, p)
	e := NewEngine(store)
	rule := Rule{Capability: "measure_temperature", Divisor: 10}

	e.Apply(context.Background(), int64(215), rule)
	e.Apply(context.Background(), int64(215), rule)

	updates := p.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, 21.5, updates[0].Value)
}
