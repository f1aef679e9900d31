package tuya

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DatapointHandler is a custom per-datapoint callback. It takes precedence
// over any mapping rule for the same id. A returned error is logged; it does
// not affect other datapoints.
type DatapointHandler func(value any, dp Report) error

// EndpointOptions configures an Endpoint.
type EndpointOptions struct {
	// ID names the endpoint in logs, usually the device id.
	ID string

	// Mappings is the device's mapping table. May be nil.
	Mappings MappingTable

	// Store receives mapped capability values. May be nil, in which case
	// mapped values are computed but never written.
	Store CapabilityStore

	// Logger is optional.
	Logger Logger

	// Framing overrides the frame layout heuristic.
	Framing Framing

	// AutoDetect enables value-range guessing for unmapped datapoints.
	AutoDetect bool

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// EndpointStats is a snapshot of an endpoint's counters.
type EndpointStats struct {
	ID            string    `json:"id"`
	Session       string    `json:"session"`
	Payloads      uint64    `json:"payloads"`
	Reports       uint64    `json:"reports"`
	Duplicates    uint64    `json:"duplicates"`
	Mapped        uint64    `json:"mapped"`
	Handled       uint64    `json:"handled"`
	HandlerErrors uint64    `json:"handler_errors"`
	Unmapped      uint64    `json:"unmapped"`
	Armed         []string  `json:"armed"`
	LastActivity  time.Time `json:"last_activity"`
}

// Endpoint owns all datapoint state of one device endpoint: the dedup gate,
// the mapping engine, custom handlers, the log throttle and armed sources.
//
// Ingestion is serialised per endpoint. Handlers run under that lock and
// must not call HandleReport, HandleAttribute or HandleFrame on the same
// endpoint.
//
// Thread Safety: all methods are safe for concurrent use.
type Endpoint struct {
	id         string
	session    string
	framing    Framing
	autoDetect bool
	mappings   MappingTable
	store      CapabilityStore
	clock      func() time.Time

	gate     *Gate
	engine   *Engine
	throttle *logThrottle
	logger   Logger

	handlers   map[uint8]DatapointHandler
	handlersMu sync.RWMutex

	armed   map[Mode]bool
	armedMu sync.Mutex

	// ingestMu serialises parse, dedup and route.
	ingestMu sync.Mutex
	stats    EndpointStats
	statsMu  sync.Mutex
}

// Ensure Endpoint implements Ingester.
var _ Ingester = (*Endpoint)(nil)

// NewEndpoint creates an endpoint.
func NewEndpoint(opts EndpointOptions) *Endpoint {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	session := uuid.NewString()
	logger := withFields(opts.Logger, "endpoint", opts.ID)

	engine := NewEngine(opts.Store)
	engine.SetLogger(logger)

	return &Endpoint{
		id:         opts.ID,
		session:    session,
		framing:    opts.Framing,
		autoDetect: opts.AutoDetect,
		mappings:   opts.Mappings,
		store:      opts.Store,
		clock:      clock,
		gate:       NewGate(),
		engine:     engine,
		throttle:   newLogThrottle(LogThrottleInterval),
		logger:     logger,
		handlers:   make(map[uint8]DatapointHandler),
		armed:      make(map[Mode]bool),
		stats:      EndpointStats{ID: opts.ID, Session: session},
	}
}

// ID returns the endpoint id.
func (e *Endpoint) ID() string {
	return e.id
}

// Session returns the random id assigned when the endpoint was created.
// It distinguishes restarts of the same device endpoint in logs.
func (e *Endpoint) Session() string {
	return e.session
}

// OnDatapoint registers a custom handler for datapoint id, replacing any
// previous one. A nil handler removes the registration.
func (e *Endpoint) OnDatapoint(id uint8, h DatapointHandler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()

	if h == nil {
		delete(e.handlers, id)
		return
	}
	e.handlers[id] = h
}

// HandleReport ingests a vendor payload in any shape Parse accepts.
//
// Each decoded record passes through the dedup gate and is then routed to a
// custom handler, a mapping rule, or the unmapped log, in that order.
// HandleReport never panics and never returns an error; malformed payloads
// are dropped.
func (e *Endpoint) HandleReport(ctx context.Context, payload any) {
	reports := ParseWithFraming(payload, e.framing)

	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()

	now := e.clock()
	e.count(func(s *EndpointStats) {
		s.Payloads++
		s.Reports += uint64(len(reports))
		s.LastActivity = now
	})

	if len(reports) == 0 {
		logAt(e.logger, levelDebug, "no datapoints in payload", "payload_type", fmt.Sprintf("%T", payload))
		return
	}

	for _, r := range reports {
		e.process(ctx, DatapointKey(r.ID), r, now)
	}
}

// HandleAttribute ingests a standard cluster attribute report. Attribute
// reports are deduplicated per (cluster, attribute) and routed to the
// mapping table only.
func (e *Endpoint) HandleAttribute(ctx context.Context, cluster uint16, attribute string, value any) {
	if attribute == "" || value == nil {
		return
	}

	report := Report{Type: inferType(value), Value: value}
	if raw, ok := toBytes(value); ok {
		report.Raw = raw
	}

	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()

	now := e.clock()
	e.count(func(s *EndpointStats) {
		s.Payloads++
		s.Reports++
		s.LastActivity = now
	})

	e.process(ctx, AttributeKey(cluster, attribute), report, now)
}

// HandleFrame ingests a raw cluster frame intercepted below the cluster
// layer. The frame is logged as hex at debug level before parsing.
func (e *Endpoint) HandleFrame(ctx context.Context, frame []byte) {
	logAt(e.logger, levelDebug, "raw frame", "len", len(frame), "hex", hex.EncodeToString(frame))
	e.HandleReport(ctx, frame)
}

// LastValue returns the last non-duplicate decoded value of datapoint id.
func (e *Endpoint) LastValue(id uint8) (any, bool) {
	return e.gate.LastValue(DatapointKey(id))
}

// LastAttribute returns the last non-duplicate value of an attribute.
func (e *Endpoint) LastAttribute(cluster uint16, attribute string) (any, bool) {
	return e.gate.LastValue(AttributeKey(cluster, attribute))
}

// LastCapability returns the last value the endpoint wrote for a capability.
func (e *Endpoint) LastCapability(name string) (any, bool) {
	return e.engine.LastCapability(name)
}

// Arm wires src to this endpoint.
//
// Arming is idempotent per mode: once a mode is armed, further calls for it
// return true without touching src.
//
// Returns:
//   - bool: true if the mode is armed after the call
func (e *Endpoint) Arm(ctx context.Context, src Source) bool {
	if src == nil {
		return false
	}
	mode := src.Mode()

	e.armedMu.Lock()
	defer e.armedMu.Unlock()

	if e.armed[mode] {
		return true
	}
	if !src.TryArm(ctx, e) {
		logAt(e.logger, levelDebug, "source not available", "mode", mode.String())
		return false
	}

	e.armed[mode] = true
	logAt(e.logger, levelInfo, "source armed", "mode", mode.String())
	return true
}

// Armed reports whether mode is armed.
func (e *Endpoint) Armed(mode Mode) bool {
	e.armedMu.Lock()
	defer e.armedMu.Unlock()
	return e.armed[mode]
}

// Stats returns a snapshot of the endpoint's counters.
func (e *Endpoint) Stats() EndpointStats {
	e.statsMu.Lock()
	s := e.stats
	e.statsMu.Unlock()

	e.armedMu.Lock()
	for mode, on := range e.armed {
		if on {
			s.Armed = append(s.Armed, mode.String())
		}
	}
	e.armedMu.Unlock()
	sort.Strings(s.Armed)

	return s
}

// process runs dedup and routing for one record. Caller holds ingestMu.
func (e *Endpoint) process(ctx context.Context, key Key, r Report, now time.Time) {
	if e.gate.IsDuplicate(key, r.Value, now) {
		e.count(func(s *EndpointStats) { s.Duplicates++ })
		logAt(e.logger, levelDebug, "duplicate report dropped", "key", key.String())
		return
	}

	if !key.IsAttribute() {
		if h := e.handler(r.ID); h != nil {
			e.callHandler(h, r)
			return
		}
	}

	if rule, ok := e.mappings.Lookup(key); ok {
		e.applyRule(ctx, key, r, rule)
		return
	}

	if e.autoDetect && !key.IsAttribute() {
		if rule, ok := AutoDetect(r, e.store); ok {
			logAt(e.logger, levelDebug, "auto-detected mapping", "key", key.String(), "capability", rule.Capability)
			e.applyRule(ctx, key, r, rule)
			return
		}
	}

	e.count(func(s *EndpointStats) { s.Unmapped++ })
	if e.throttle.allow(key.String(), now) {
		logAt(e.logger, levelInfo, "unmapped datapoint",
			"key", key.String(),
			"type", r.Type.String(),
			"value", r.Value,
			"hex", r.Hex(),
		)
	}
}

func (e *Endpoint) applyRule(ctx context.Context, key Key, r Report, rule Rule) {
	if _, emitted := e.engine.Apply(ctx, r.Value, rule); emitted {
		e.count(func(s *EndpointStats) { s.Mapped++ })
	}
	logAt(e.logger, levelDebug, "datapoint mapped", "key", key.String(), "capability", rule.Capability)
}

// callHandler runs a custom handler, converting panics into logged errors.
func (e *Endpoint) callHandler(h DatapointHandler, r Report) {
	defer func() {
		if rec := recover(); rec != nil {
			e.count(func(s *EndpointStats) { s.HandlerErrors++ })
			logAt(e.logger, levelError, "datapoint handler panicked", "dp", r.ID, "panic", rec)
		}
	}()

	if err := h(r.Value, r); err != nil {
		e.count(func(s *EndpointStats) { s.HandlerErrors++ })
		logAt(e.logger, levelError, "datapoint handler failed", "dp", r.ID, "error", err)
		return
	}
	e.count(func(s *EndpointStats) { s.Handled++ })
}

func (e *Endpoint) handler(id uint8) DatapointHandler {
	e.handlersMu.RLock()
	defer e.handlersMu.RUnlock()
	return e.handlers[id]
}

func (e *Endpoint) count(fn func(s *EndpointStats)) {
	e.statsMu.Lock()
	fn(&e.stats)
	e.statsMu.Unlock()
}
