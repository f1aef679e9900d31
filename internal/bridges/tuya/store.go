package tuya

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// CapabilityStore is the host-side owner of capability values. The mapping
// engine reads and writes through it.
type CapabilityStore interface {
	// HasCapability reports whether the device declares name.
	HasCapability(name string) bool

	// CapabilityValue returns the current value of name.
	CapabilityValue(name string) (any, bool)

	// SetCapabilityValue stores a new value for name.
	SetCapabilityValue(ctx context.Context, name string, value any) error
}

// CapabilityUpdate is one capability change as handed to publishers.
type CapabilityUpdate struct {
	DeviceID   string
	Capability string
	Value      any
	Timestamp  time.Time
}

// CapabilityPublisher forwards capability changes to an external sink
// (MQTT state topic, time-series database, history table, event stream).
type CapabilityPublisher interface {
	PublishCapability(ctx context.Context, update CapabilityUpdate) error
}

// PublisherFunc adapts a function to CapabilityPublisher.
type PublisherFunc func(ctx context.Context, update CapabilityUpdate) error

// PublishCapability implements CapabilityPublisher.
func (f PublisherFunc) PublishCapability(ctx context.Context, update CapabilityUpdate) error {
	return f(ctx, update)
}

// DeviceStore is the in-memory capability store of one device.
//
// Every accepted write is fanned out to all publishers. A failing publisher
// does not stop the others; their errors are joined.
//
// Thread Safety: all methods are safe for concurrent use.
type DeviceStore struct {
	deviceID     string
	capabilities map[string]bool
	publishers   []CapabilityPublisher
	clock        func() time.Time

	mu      sync.RWMutex
	values  map[string]any
	updated map[string]time.Time
}

// Ensure DeviceStore implements CapabilityStore.
var _ CapabilityStore = (*DeviceStore)(nil)

// NewDeviceStore creates a store for deviceID declaring capabilities.
func NewDeviceStore(deviceID string, capabilities []string, publishers ...CapabilityPublisher) *DeviceStore {
	caps := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		caps[c] = true
	}
	return &DeviceStore{
		deviceID:     deviceID,
		capabilities: caps,
		publishers:   publishers,
		clock:        time.Now,
		values:       make(map[string]any),
		updated:      make(map[string]time.Time),
	}
}

// DeviceID returns the id of the device the store belongs to.
func (s *DeviceStore) DeviceID() string {
	return s.deviceID
}

// HasCapability implements CapabilityStore.
func (s *DeviceStore) HasCapability(name string) bool {
	return s.capabilities[name]
}

// Capabilities returns the declared capability names, sorted.
func (s *DeviceStore) Capabilities() []string {
	out := make([]string, 0, len(s.capabilities))
	for c := range s.capabilities {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// CapabilityValue implements CapabilityStore.
func (s *DeviceStore) CapabilityValue(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// SetCapabilityValue implements CapabilityStore.
//
// The value is stored before publishing, so it is visible even when a
// publisher fails.
//
// Returns:
//   - error: ErrCapabilityNotFound, or the joined publisher errors
func (s *DeviceStore) SetCapabilityValue(ctx context.Context, name string, value any) error {
	if !s.HasCapability(name) {
		return fmt.Errorf("%w: %s on %s", ErrCapabilityNotFound, name, s.deviceID)
	}

	now := s.clock()
	s.mu.Lock()
	s.values[name] = value
	s.updated[name] = now
	s.mu.Unlock()

	update := CapabilityUpdate{
		DeviceID:   s.deviceID,
		Capability: name,
		Value:      value,
		Timestamp:  now,
	}

	var errs []error
	for _, p := range s.publishers {
		if err := p.PublishCapability(ctx, update); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Snapshot returns a copy of all current values and the time of the most
// recent update.
func (s *DeviceStore) Snapshot() (map[string]any, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.values))
	var latest time.Time
	for k, v := range s.values {
		out[k] = v
		if t := s.updated[k]; t.After(latest) {
			latest = t
		}
	}
	return out, latest
}
