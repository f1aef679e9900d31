package tuya

import (
	"fmt"
	"math"

	"gopkg.in/yaml.v3"
)

// OpKind names one of the transform operations a mapping rule may use.
// The set is closed: mapping tables are data, not code.
type OpKind string

// Transform operations.
const (
	// OpBool converts a number to bool (non-zero is true).
	OpBool OpKind = "bool"

	// OpNot negates a bool, or maps a number to (v == 0).
	OpNot OpKind = "not"

	// OpScale multiplies by Arg.
	OpScale OpKind = "scale"

	// OpDivide divides by Arg.
	OpDivide OpKind = "divide"

	// OpOffset adds Arg.
	OpOffset OpKind = "offset"

	// OpRound rounds to Arg decimal places.
	OpRound OpKind = "round"

	// OpEnum looks the integer value up in Map.
	OpEnum OpKind = "enum"

	// OpEquals yields (v == Arg).
	OpEquals OpKind = "equals"

	// OpBit yields bit number Arg of an integer value.
	OpBit OpKind = "bit"
)

// maxRoundDecimals bounds OpRound so the power of ten stays exact.
const maxRoundDecimals = 10

// maxBitIndex is the highest bit OpBit may test.
const maxBitIndex = 31

// Op is a single transform step.
//
// In YAML an op is either a bare name for argument-less ops:
//
//	transform: [bool]
//
// or a mapping:
//
//	transform:
//	  - op: divide
//	    arg: 10
//	  - op: enum
//	    map: {0: idle, 1: heating}
type Op struct {
	Kind OpKind        `yaml:"op"`
	Arg  float64       `yaml:"arg,omitempty"`
	Map  map[int64]any `yaml:"map,omitempty"`
}

// UnmarshalYAML accepts both the scalar shorthand and the mapping form.
func (o *Op) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*o = Op{Kind: OpKind(node.Value)}
		return o.Validate()
	}

	type plain Op
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*o = Op(p)
	return o.Validate()
}

// Validate checks the op is known and its argument is usable.
func (o Op) Validate() error {
	switch o.Kind {
	case OpBool, OpNot, OpScale, OpOffset, OpEquals:
		return nil
	case OpDivide:
		if o.Arg == 0 {
			return fmt.Errorf("%w: divide needs a non-zero arg", ErrInvalidRule)
		}
	case OpRound:
		if o.Arg < 0 || o.Arg > maxRoundDecimals || o.Arg != math.Trunc(o.Arg) {
			return fmt.Errorf("%w: round arg must be a whole number 0-%d", ErrInvalidRule, maxRoundDecimals)
		}
	case OpEnum:
		if len(o.Map) == 0 {
			return fmt.Errorf("%w: enum needs a map", ErrInvalidRule)
		}
	case OpBit:
		if o.Arg < 0 || o.Arg > maxBitIndex || o.Arg != math.Trunc(o.Arg) {
			return fmt.Errorf("%w: bit arg must be 0-%d", ErrInvalidRule, maxBitIndex)
		}
	default:
		return fmt.Errorf("%w: unknown transform op %q", ErrInvalidRule, o.Kind)
	}
	return nil
}

// Apply runs the op on v.
//
// Returns:
//   - any: Transformed value (float64 for arithmetic ops, bool for predicates)
//   - error: ErrTransformFailed if v has the wrong shape for the op
func (o Op) Apply(v any) (any, error) {
	switch o.Kind {
	case OpBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		f, err := o.number(v)
		if err != nil {
			return nil, err
		}
		return f != 0, nil

	case OpNot:
		if b, ok := v.(bool); ok {
			return !b, nil
		}
		f, err := o.number(v)
		if err != nil {
			return nil, err
		}
		return f == 0, nil

	case OpScale, OpDivide, OpOffset, OpRound:
		f, err := o.number(v)
		if err != nil {
			return nil, err
		}
		return o.arithmetic(f), nil

	case OpEnum:
		n, ok := toInt64(v)
		if !ok {
			return nil, fmt.Errorf("%w: enum expects an integer, got %T", ErrTransformFailed, v)
		}
		out, ok := o.Map[n]
		if !ok {
			return nil, fmt.Errorf("%w: enum has no entry for %d", ErrTransformFailed, n)
		}
		return out, nil

	case OpEquals:
		if b, ok := v.(bool); ok {
			return b == (o.Arg != 0), nil
		}
		f, err := o.number(v)
		if err != nil {
			return nil, err
		}
		return f == o.Arg, nil

	case OpBit:
		n, ok := toInt64(v)
		if !ok {
			return nil, fmt.Errorf("%w: bit expects an integer, got %T", ErrTransformFailed, v)
		}
		return (n>>uint(o.Arg))&1 == 1, nil

	default:
		return nil, fmt.Errorf("%w: unknown op %q", ErrTransformFailed, o.Kind)
	}
}

func (o Op) arithmetic(f float64) float64 {
	switch o.Kind {
	case OpScale:
		return f * o.Arg
	case OpDivide:
		return f / o.Arg
	case OpOffset:
		return f + o.Arg
	default: // OpRound
		p := math.Pow(10, o.Arg)
		return math.Round(f*p) / p
	}
}

func (o Op) number(v any) (float64, error) {
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s expects a number, got %T", ErrTransformFailed, o.Kind, v)
	}
	return f, nil
}

// Transform is an ordered list of ops applied left to right.
type Transform []Op

// Apply runs every op in order. The first failing op aborts the chain.
func (t Transform) Apply(v any) (any, error) {
	var err error
	for _, op := range t {
		v, err = op.Apply(v)
		if err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Validate checks every op in the chain.
func (t Transform) Validate() error {
	for i, op := range t {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
	}
	return nil
}
