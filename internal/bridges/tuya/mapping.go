package tuya

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// defaultInvertMax is the ceiling used to invert numbers when a rule sets no
// max (percentages).
const defaultInvertMax = 100.0

// Rule maps one datapoint or attribute onto a capability.
//
// Rules are external configuration; the engine only reads them.
type Rule struct {
	// Capability is the host-facing name written to (e.g. "measure_temperature").
	Capability string `yaml:"capability" json:"capability"`

	// Transform runs before everything else. When set, Divisor is ignored.
	Transform Transform `yaml:"transform,omitempty" json:"transform,omitempty"`

	// Divisor scales raw numbers (e.g. 10 for tenths of a degree).
	Divisor float64 `yaml:"divisor,omitempty" json:"divisor,omitempty"`

	// Invert negates booleans and maps numbers to (max - v).
	Invert bool `yaml:"invert,omitempty" json:"invert,omitempty"`

	// Min and Max clamp numeric results when set.
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`

	// AlsoSets derives extra capabilities from the same raw value,
	// e.g. alarm_motion plus alarm_human from one presence datapoint.
	AlsoSets map[string]Transform `yaml:"also_sets,omitempty" json:"also_sets,omitempty"`
}

// Validate checks the rule is complete and self-consistent.
func (r Rule) Validate() error {
	var errs []string

	if r.Capability == "" {
		errs = append(errs, "capability is required")
	}
	if r.Divisor < 0 || math.IsNaN(r.Divisor) || math.IsInf(r.Divisor, 0) {
		errs = append(errs, "divisor must be a positive number")
	}
	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		errs = append(errs, fmt.Sprintf("min %v is greater than max %v", *r.Min, *r.Max))
	}
	if err := r.Transform.Validate(); err != nil {
		errs = append(errs, "transform: "+err.Error())
	}
	for name, t := range r.AlsoSets {
		if name == "" {
			errs = append(errs, "also_sets has an empty capability name")
		}
		if err := t.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("also_sets.%s: %s", name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRule, joinErrors(errs))
	}
	return nil
}

// Compute turns a decoded value into the capability value. It is pure.
//
// Steps, in order:
//  1. Transform if present, else divide by Divisor if non-zero
//  2. Invert: bool -> !v, number -> (Max or 100) - v
//  3. Clamp numbers to [Min, Max]
//
// Numbers come out as float64. Non-numeric values skip the numeric steps.
//
// Returns:
//   - any: Final value (nil if the raw value was nil)
//   - error: ErrTransformFailed from the transform chain
func (r Rule) Compute(raw any) (any, error) {
	v := raw

	if len(r.Transform) > 0 {
		out, err := r.Transform.Apply(v)
		if err != nil {
			return nil, err
		}
		v = out
	} else if r.Divisor != 0 {
		if f, ok := toFloat(v); ok {
			v = f / r.Divisor
		}
	}

	if f, ok := toFloat(v); ok {
		v = f
	}

	if r.Invert {
		switch x := v.(type) {
		case bool:
			v = !x
		case float64:
			ceiling := defaultInvertMax
			if r.Max != nil {
				ceiling = *r.Max
			}
			v = ceiling - x
		}
	}

	if f, ok := v.(float64); ok {
		if r.Min != nil && f < *r.Min {
			f = *r.Min
		}
		if r.Max != nil && f > *r.Max {
			f = *r.Max
		}
		v = f
	}

	return v, nil
}

// Engine applies rules and writes changed values through to a capability
// store. It remembers the last value written per capability and skips writes
// that would not change it.
//
// Thread Safety: all methods are safe for concurrent use.
type Engine struct {
	store CapabilityStore

	last   map[string]any
	lastMu sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewEngine creates an engine writing to store.
func NewEngine(store CapabilityStore) *Engine {
	return &Engine{
		store: store,
		last:  make(map[string]any),
	}
}

// SetLogger sets the logger for write markers and failures.
func (e *Engine) SetLogger(logger Logger) {
	e.loggerMu.Lock()
	e.logger = logger
	e.loggerMu.Unlock()
}

// Compute is rule.Compute; it neither reads nor writes engine state.
func (e *Engine) Compute(raw any, rule Rule) (any, error) {
	return rule.Compute(raw)
}

// Apply computes the rule's value and emits it if it differs from the last
// known value of the capability.
//
// Store write failures are logged and do not roll back the cached value, so
// a failing store is not retried with the same value.
//
// Parameters:
//   - ctx: Context for the store write
//   - raw: Decoded datapoint value
//   - rule: Mapping rule
//
// Returns:
//   - any: Final computed value (nil if the rule produced nothing usable)
//   - bool: true if a write was issued for rule.Capability
func (e *Engine) Apply(ctx context.Context, raw any, rule Rule) (any, bool) {
	final, err := rule.Compute(raw)
	if err != nil {
		e.log(levelWarn, "mapping transform failed", "capability", rule.Capability, "error", err)
		return nil, false
	}
	if !usable(final) {
		e.log(levelDebug, "mapping produced no usable value", "capability", rule.Capability, "raw", raw)
		return nil, false
	}

	emitted := e.emit(ctx, rule.Capability, final)

	if len(rule.AlsoSets) > 0 {
		names := make([]string, 0, len(rule.AlsoSets))
		for name := range rule.AlsoSets {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			v, err := rule.AlsoSets[name].Apply(raw)
			if err != nil {
				e.log(levelWarn, "also_sets transform failed", "capability", name, "error", err)
				continue
			}
			if f, ok := toFloat(v); ok {
				v = f
			}
			if usable(v) {
				e.emit(ctx, name, v)
			}
		}
	}

	return final, emitted
}

// LastCapability returns the last value the engine wrote for name.
func (e *Engine) LastCapability(name string) (any, bool) {
	e.lastMu.Lock()
	defer e.lastMu.Unlock()
	v, ok := e.last[name]
	return v, ok
}

// emit writes value unless it equals the last known value.
func (e *Engine) emit(ctx context.Context, name string, value any) bool {
	if e.store == nil || !e.store.HasCapability(name) {
		e.log(levelDebug, "capability not present on device", "capability", name)
		return false
	}

	e.lastMu.Lock()
	prev, known := e.last[name]
	e.lastMu.Unlock()
	if !known {
		prev, known = e.store.CapabilityValue(name)
	}
	if known && valuesEqual(prev, value) {
		return false
	}

	e.lastMu.Lock()
	e.last[name] = value
	e.lastMu.Unlock()

	if err := e.store.SetCapabilityValue(ctx, name, value); err != nil {
		e.log(levelError, "capability write failed", "capability", name, "value", value, "error", err)
		return true
	}

	e.log(levelInfo, "capability updated", "capability", name, "value", value)
	return true
}

func (e *Engine) log(level logLevel, msg string, keysAndValues ...any) {
	e.loggerMu.RLock()
	logger := e.logger
	e.loggerMu.RUnlock()
	logAt(logger, level, msg, keysAndValues...)
}

// usable rejects nil and non-finite numbers.
func usable(v any) bool {
	if v == nil {
		return false
	}
	if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return false
	}
	return true
}
