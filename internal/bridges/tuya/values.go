package tuya

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
)

// toFloat converts any Go numeric type to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// toInt64 converts an integral numeric value to int64. Floats are accepted
// only when they hold a whole number, which is what JSON decoding produces.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}

	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}

// toBytes accepts byte-shaped values: []byte or a list of integers 0-255.
func toBytes(v any) ([]byte, bool) {
	switch b := v.(type) {
	case []byte:
		return append([]byte(nil), b...), true
	case []int:
		out := make([]byte, len(b))
		for i, n := range b {
			if n < 0 || n > math.MaxUint8 {
				return nil, false
			}
			out[i] = byte(n)
		}
		return out, true
	case []any:
		out := make([]byte, len(b))
		for i, item := range b {
			n, ok := toInt64(item)
			if !ok || n < 0 || n > math.MaxUint8 {
				return nil, false
			}
			out[i] = byte(n)
		}
		return out, true
	case []float64:
		out := make([]byte, len(b))
		for i, f := range b {
			n, ok := toInt64(f)
			if !ok || n < 0 || n > math.MaxUint8 {
				return nil, false
			}
			out[i] = byte(n)
		}
		return out, true
	case map[string]any:
		// JSON form of a byte buffer: {"type":"Buffer","data":[...]}.
		if kind, _ := b["type"].(string); kind != "Buffer" {
			return nil, false
		}
		return toBytes(b["data"])
	default:
		return nil, false
	}
}

// valuesEqual compares two decoded or mapped values.
//
// Numbers compare by value regardless of Go type, so a cached float64 of 50
// equals a freshly computed int64 of 50.
func valuesEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	aBytes, aIsBytes := a.([]byte)
	bBytes, bIsBytes := b.([]byte)
	if aIsBytes && bIsBytes {
		return bytes.Equal(aBytes, bBytes)
	}

	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		return af == bf
	}
	if aNum != bNum {
		return false
	}

	return reflect.DeepEqual(a, b)
}
