package tuya

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// DatapointType is the wire type tag of a datapoint record.
type DatapointType uint8

// Datapoint types as they appear on the wire.
const (
	// TypeRaw carries an opaque byte sequence.
	TypeRaw DatapointType = 0x00

	// TypeBool carries a single byte, 1 meaning true.
	TypeBool DatapointType = 0x01

	// TypeValue carries a big-endian integer of 1 to 4 bytes.
	TypeValue DatapointType = 0x02

	// TypeString carries UTF-8 text, possibly NUL padded.
	TypeString DatapointType = 0x03

	// TypeEnum carries a single byte ordinal.
	TypeEnum DatapointType = 0x04

	// TypeBitmap carries an unsigned big-endian integer of 1, 2 or 4 bytes.
	TypeBitmap DatapointType = 0x05
)

// maxDatapointType is the highest valid type tag.
const maxDatapointType = TypeBitmap

var datapointTypeNames = map[DatapointType]string{
	TypeRaw:    "raw",
	TypeBool:   "bool",
	TypeValue:  "value",
	TypeString: "string",
	TypeEnum:   "enum",
	TypeBitmap: "bitmap",
}

// String returns the lower-case type name, or "type(N)" for unknown tags.
func (t DatapointType) String() string {
	if name, ok := datapointTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Valid reports whether t is one of the six wire types.
func (t DatapointType) Valid() bool {
	return t <= maxDatapointType
}

// ParseDatapointType accepts a type name ("value", "bool", ...) or its
// numeric tag ("2", "0x02").
func ParseDatapointType(s string) (DatapointType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range datapointTypeNames {
		if name == s {
			return t, nil
		}
	}

	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil || !DatapointType(n).Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDatapointType, s)
	}
	return DatapointType(n), nil
}

// Report is one decoded datapoint record.
//
// A Report is built fresh for each incoming frame and is not modified after
// construction. Raw is owned by the report.
type Report struct {
	// ID is the datapoint id (0-255).
	ID uint8

	// Type is the declared wire type.
	Type DatapointType

	// Raw is the payload bytes exactly as received.
	Raw []byte

	// Value is the decoded payload; see Decode for the concrete Go types.
	Value any
}

// Hex returns the payload as lower-case hex.
func (r Report) Hex() string {
	return hex.EncodeToString(r.Raw)
}

// ByteList returns the payload as a list of integers, the shape used in
// JSON diagnostics.
func (r Report) ByteList() []int {
	out := make([]int, len(r.Raw))
	for i, b := range r.Raw {
		out[i] = int(b)
	}
	return out
}

// String implements fmt.Stringer for logging.
func (r Report) String() string {
	return fmt.Sprintf("DP%d type=%s len=%d value=%v", r.ID, r.Type, len(r.Raw), r.Value)
}

// Key identifies a stream of values within one endpoint: either a numeric
// datapoint or a standard cluster attribute.
type Key struct {
	// Datapoint is the datapoint id. Ignored when Attribute is set.
	Datapoint uint8

	// Cluster is the cluster id of an attribute key.
	Cluster uint16

	// Attribute is the attribute name of an attribute key.
	Attribute string
}

// DatapointKey returns the key for a numeric datapoint id.
func DatapointKey(id uint8) Key {
	return Key{Datapoint: id}
}

// AttributeKey returns the key for a standard cluster attribute.
func AttributeKey(cluster uint16, attribute string) Key {
	return Key{Cluster: cluster, Attribute: attribute}
}

// IsAttribute reports whether k names a cluster attribute.
func (k Key) IsAttribute() bool {
	return k.Attribute != ""
}

// String returns "dp1" for datapoints and "0x0402.measuredValue" for
// attributes. The result round-trips through ParseKey.
func (k Key) String() string {
	if k.IsAttribute() {
		return fmt.Sprintf("0x%04x.%s", k.Cluster, k.Attribute)
	}
	return fmt.Sprintf("dp%d", k.Datapoint)
}

// ParseKey parses a mapping table key.
//
// Accepted forms:
//   - "1", "dp1": datapoint 1
//   - "0x0402.measuredValue", "1026.measuredValue": attribute of a cluster
func ParseKey(s string) (Key, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Key{}, fmt.Errorf("%w: empty key", ErrInvalidMappingKey)
	}

	if cluster, attr, ok := strings.Cut(s, "."); ok {
		if attr == "" {
			return Key{}, fmt.Errorf("%w: %q has no attribute", ErrInvalidMappingKey, s)
		}
		n, err := strconv.ParseUint(cluster, 0, 16)
		if err != nil {
			return Key{}, fmt.Errorf("%w: %q: cluster: %w", ErrInvalidMappingKey, s, err)
		}
		return AttributeKey(uint16(n), attr), nil
	}

	id := strings.TrimPrefix(strings.ToLower(s), "dp")
	n, err := strconv.ParseUint(id, 10, 8)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidMappingKey, s)
	}
	return DatapointKey(uint8(n)), nil
}

// Record is the structured form of a single datapoint, as produced by
// gateways that decode frames themselves.
type Record struct {
	ID    uint8         `json:"dp" yaml:"dp"`
	Type  DatapointType `json:"datatype" yaml:"datatype"`
	Value any           `json:"data" yaml:"data"`
}
