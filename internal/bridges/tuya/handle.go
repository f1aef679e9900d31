package tuya

import (
	"fmt"
	"sync"
)

// attributeKey identifies an attribute subscription on a handle.
type attributeKey struct {
	cluster   uint16
	attribute string
}

// deviceHandle is the MQTT-backed view of one device that sources arm
// against. The bridge feeds it from the gateway topics.
//
// It implements EventEmitter, AttributeEmitter and FrameHook.
//
// Thread Safety: all methods are safe for concurrent use.
type deviceHandle struct {
	deviceID string
	clusters map[uint16]bool

	mu           sync.RWMutex
	events       map[string][]func(payload any)
	attributes   map[attributeKey][]func(value any)
	frameHandler FrameFunc
}

// Ensure deviceHandle implements the handle interfaces.
var (
	_ EventEmitter     = (*deviceHandle)(nil)
	_ AttributeEmitter = (*deviceHandle)(nil)
	_ FrameHook        = (*deviceHandle)(nil)
)

// newDeviceHandle creates a handle exposing the manufacturer cluster plus
// the given standard clusters.
func newDeviceHandle(deviceID string, clusters ...uint16) *deviceHandle {
	set := map[uint16]bool{ManufacturerCluster: true}
	for _, c := range clusters {
		set[c] = true
	}
	return &deviceHandle{
		deviceID:   deviceID,
		clusters:   set,
		events:     make(map[string][]func(payload any)),
		attributes: make(map[attributeKey][]func(value any)),
	}
}

// On implements EventEmitter.
func (h *deviceHandle) On(event string, fn func(payload any)) error {
	if event == "" || fn == nil {
		return fmt.Errorf("event name and callback are required")
	}
	h.mu.Lock()
	h.events[event] = append(h.events[event], fn)
	h.mu.Unlock()
	return nil
}

// HasCluster implements AttributeEmitter and FrameHook.
func (h *deviceHandle) HasCluster(cluster uint16) bool {
	return h.clusters[cluster]
}

// OnAttribute implements AttributeEmitter.
func (h *deviceHandle) OnAttribute(cluster uint16, attribute string, fn func(value any)) error {
	if !h.clusters[cluster] {
		return fmt.Errorf("cluster 0x%04x not present on %s", cluster, h.deviceID)
	}
	if attribute == "" || fn == nil {
		return fmt.Errorf("attribute name and callback are required")
	}
	key := attributeKey{cluster: cluster, attribute: attribute}
	h.mu.Lock()
	h.attributes[key] = append(h.attributes[key], fn)
	h.mu.Unlock()
	return nil
}

// FrameHandler implements FrameHook.
func (h *deviceHandle) FrameHandler() FrameFunc {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.frameHandler
}

// SetFrameHandler implements FrameHook.
func (h *deviceHandle) SetFrameHandler(fn FrameFunc) {
	h.mu.Lock()
	h.frameHandler = fn
	h.mu.Unlock()
}

// emitEvent delivers a vendor event. Returns false if nobody listens.
func (h *deviceHandle) emitEvent(event string, payload any) bool {
	h.mu.RLock()
	fns := h.events[event]
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(payload)
	}
	return len(fns) > 0
}

// emitAttribute delivers an attribute report. Returns false if nobody listens.
func (h *deviceHandle) emitAttribute(cluster uint16, attribute string, value any) bool {
	h.mu.RLock()
	fns := h.attributes[attributeKey{cluster: cluster, attribute: attribute}]
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(value)
	}
	return len(fns) > 0
}

// emitFrame delivers a raw frame to the current frame handler.
func (h *deviceHandle) emitFrame(cluster uint16, frame []byte) bool {
	fn := h.FrameHandler()
	if fn == nil {
		return false
	}
	fn(cluster, frame)
	return true
}
