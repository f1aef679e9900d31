package tuya

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Payload widths used by the integer types.
const (
	width1 = 1
	width2 = 2
	width3 = 3
	width4 = 4
)

// Decode interprets a datapoint payload according to its declared type.
//
// The concrete Go types returned are:
//   - TypeBool: bool (first byte == 1)
//   - TypeValue: int64 (width auto-detected, see below)
//   - TypeString: string (trailing NULs stripped)
//   - TypeEnum: uint8
//   - TypeBitmap: uint32
//   - TypeRaw: []byte (copy of data)
//
// An empty payload decodes to nil for every type. Decode never fails:
// widths that do not match a known layout fall back to a fixed
// interpretation instead of an error.
//
// Value widths:
//   - 1 byte: unsigned 0-255
//   - 2 bytes: signed 16-bit
//   - 3 bytes: unsigned 24-bit
//   - 4 bytes: signed 32-bit
//   - >4 bytes: first 4 bytes as signed 32-bit
func Decode(t DatapointType, data []byte) any {
	if len(data) == 0 {
		return nil
	}

	switch t {
	case TypeBool:
		return data[0] == 1
	case TypeValue:
		return decodeValue(data)
	case TypeString:
		return strings.TrimRight(strings.ToValidUTF8(string(data), "�"), "\x00")
	case TypeEnum:
		return data[0]
	case TypeBitmap:
		return decodeBitmap(data)
	default:
		out := make([]byte, len(data))
		copy(out, data)
		return out
	}
}

// decodeValue handles TypeValue width detection.
func decodeValue(data []byte) int64 {
	switch len(data) {
	case width1:
		return int64(data[0])
	case width2:
		return int64(int16(binary.BigEndian.Uint16(data)))
	case width3:
		return int64(data[0])<<16 | int64(data[1])<<8 | int64(data[2])
	default:
		return int64(int32(binary.BigEndian.Uint32(data[:width4])))
	}
}

// decodeBitmap handles TypeBitmap width detection.
// Widths other than 1, 2 and 4 read the first four bytes, zero-filled on the
// right when fewer are present.
func decodeBitmap(data []byte) uint32 {
	switch len(data) {
	case width1:
		return uint32(data[0])
	case width2:
		return uint32(binary.BigEndian.Uint16(data))
	case width4:
		return binary.BigEndian.Uint32(data)
	default:
		var buf [width4]byte
		copy(buf[:], data)
		return binary.BigEndian.Uint32(buf[:])
	}
}

// Encode converts a Go value into a datapoint payload of the given type.
//
// It is the inverse of Decode for the types a command can carry:
//   - TypeBool: bool or number (non-zero is true), 1 byte
//   - TypeValue: integer within int32 range, 4 bytes big-endian
//   - TypeEnum: integer 0-255, 1 byte
//   - TypeBitmap: integer 0-0xFFFFFFFF, smallest of 1, 2 or 4 bytes
//   - TypeString: string, UTF-8 bytes
//   - TypeRaw: []byte or list of integers 0-255
//
// Returns:
//   - []byte: Encoded payload
//   - error: ErrEncodingFailed or ErrInvalidDatapointType
func Encode(t DatapointType, v any) ([]byte, error) {
	switch t {
	case TypeBool:
		return encodeBool(v)
	case TypeValue:
		n, ok := toInt64(v)
		if !ok || n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("%w: value %v does not fit a 4-byte signed integer", ErrEncodingFailed, v)
		}
		buf := make([]byte, width4)
		binary.BigEndian.PutUint32(buf, uint32(int32(n)))
		return buf, nil
	case TypeEnum:
		n, ok := toInt64(v)
		if !ok || n < 0 || n > math.MaxUint8 {
			return nil, fmt.Errorf("%w: enum %v out of range 0-255", ErrEncodingFailed, v)
		}
		return []byte{byte(n)}, nil
	case TypeBitmap:
		return encodeBitmap(v)
	case TypeString:
		switch s := v.(type) {
		case string:
			return []byte(s), nil
		case []byte:
			return append([]byte(nil), s...), nil
		}
		return nil, fmt.Errorf("%w: string expected, got %T", ErrEncodingFailed, v)
	case TypeRaw:
		if b, ok := toBytes(v); ok {
			return b, nil
		}
		return nil, fmt.Errorf("%w: bytes expected, got %T", ErrEncodingFailed, v)
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidDatapointType, uint8(t))
	}
}

func encodeBool(v any) ([]byte, error) {
	if b, ok := v.(bool); ok {
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	}
	if f, ok := toFloat(v); ok {
		if f != 0 {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	}
	return nil, fmt.Errorf("%w: bool expected, got %T", ErrEncodingFailed, v)
}

func encodeBitmap(v any) ([]byte, error) {
	n, ok := toInt64(v)
	if !ok || n < 0 || n > math.MaxUint32 {
		return nil, fmt.Errorf("%w: bitmap %v out of range", ErrEncodingFailed, v)
	}
	switch {
	case n <= math.MaxUint8:
		return []byte{byte(n)}, nil
	case n <= math.MaxUint16:
		buf := make([]byte, width2)
		binary.BigEndian.PutUint16(buf, uint16(n))
		return buf, nil
	default:
		buf := make([]byte, width4)
		binary.BigEndian.PutUint32(buf, uint32(n))
		return buf, nil
	}
}
