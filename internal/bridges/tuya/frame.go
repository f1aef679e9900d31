package tuya

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Frame layout constants.
const (
	// recordHeaderLen is [id:1][type:1][length:2].
	recordHeaderLen = 4

	// sequenceLen is the optional sequence number preceding the records.
	sequenceLen = 2

	// minFrameLen is the smallest buffer that can hold one record header.
	minFrameLen = 4

	// heuristicMinLen is the buffer length from which the layout guess
	// considers a sequence prefix.
	heuristicMinLen = 6

	// maxHeuristicID is the highest first byte still read as a datapoint id
	// when guessing the layout.
	maxHeuristicID = 128
)

// Framing tells the parser whether a sequence number precedes the records.
type Framing int

const (
	// FramingAuto guesses the layout from the first bytes.
	FramingAuto Framing = iota

	// FramingNoSequence reads records from offset 0.
	FramingNoSequence

	// FramingSequence skips a 2-byte sequence number first.
	FramingSequence
)

// String returns the configuration name of the framing.
func (f Framing) String() string {
	switch f {
	case FramingNoSequence:
		return "no_sequence"
	case FramingSequence:
		return "sequence"
	default:
		return "auto"
	}
}

// ParseFraming parses a configuration value. An empty string means auto.
func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FramingAuto, nil
	case "no_sequence", "nosequence", "none":
		return FramingNoSequence, nil
	case "sequence", "seq":
		return FramingSequence, nil
	default:
		return FramingAuto, fmt.Errorf("unknown framing %q (want auto, sequence or no_sequence)", s)
	}
}

// Field names accepted on structured records. Gateways use one of two
// naming conventions: dp/datatype/data or dpId/dpType/dpValue.
var (
	recordIDFields    = []string{"dp", "dpId"}
	recordTypeFields  = []string{"datatype", "dpType", "type"}
	recordValueFields = []string{"data", "dpValue", "value"}
	wrapperFields     = []string{"data", "payload", "frame", "buffer"}
)

// Parse decodes a wire payload into datapoint reports using the layout
// heuristic. See ParseWithFraming.
func Parse(input any) []Report {
	return ParseWithFraming(input, FramingAuto)
}

// ParseWithFraming decodes a wire payload into datapoint reports.
//
// Accepted inputs, in priority order:
//  1. A structured record with an id/type/value triple (Record or a
//     map[string]any decoded from JSON). Produces exactly one report.
//  2. A map wrapping a nested buffer under data/payload/frame/buffer,
//     including the JSON form of a byte buffer {"type":"Buffer","data":[...]}.
//  3. A hex string, optionally 0x-prefixed.
//  4. A list of integers 0-255.
//  5. A byte buffer of at least 4 bytes.
//
// Anything else, and any malformed buffer, yields no reports. ParseWithFraming
// never fails and never panics on malformed input.
//
// Parameters:
//   - input: Payload in any of the shapes above
//   - hint: Layout override; FramingAuto uses the heuristic
//
// Returns:
//   - []Report: Decoded records in wire order (may be empty)
func ParseWithFraming(input any, hint Framing) []Report {
	switch in := input.(type) {
	case nil:
		return nil
	case Record:
		return recordReport(in.ID, in.Type, in.Value)
	case *Record:
		if in == nil {
			return nil
		}
		return recordReport(in.ID, in.Type, in.Value)
	case map[string]any:
		return parseMap(in, hint)
	case string:
		buf, ok := parseHex(in)
		if !ok {
			return nil
		}
		return scan(buf, hint)
	case []byte:
		return scan(in, hint)
	default:
		if buf, ok := toBytes(input); ok {
			return scan(buf, hint)
		}
		return nil
	}
}

// parseMap handles structured records and wrapped buffers.
func parseMap(m map[string]any, hint Framing) []Report {
	if rawID, ok := firstField(m, recordIDFields); ok {
		id, ok := toInt64(rawID)
		if !ok || id < 0 || id > 255 {
			return nil
		}

		value, ok := firstField(m, recordValueFields)
		if !ok {
			return nil
		}

		t := inferType(value)
		if rawType, ok := firstField(m, recordTypeFields); ok {
			parsed, ok := parseTypeField(rawType)
			if !ok {
				return nil
			}
			t = parsed
		}
		return recordReport(uint8(id), t, value)
	}

	for _, field := range wrapperFields {
		if nested, ok := m[field]; ok {
			return ParseWithFraming(nested, hint)
		}
	}
	return nil
}

// recordReport builds the single report for a structured record. The byte
// buffer is taken verbatim when the value is byte-shaped (a byte list, a
// Buffer object, or a hex string under a non-string type) and synthesised
// with Encode otherwise. A record whose value fits neither is dropped, so a
// report's Value always matches its Type.
func recordReport(id uint8, t DatapointType, value any) []Report {
	if !t.Valid() {
		return nil
	}

	raw, ok := recordBytes(t, value)
	if !ok {
		return nil
	}
	return []Report{{ID: id, Type: t, Raw: raw, Value: Decode(t, raw)}}
}

func recordBytes(t DatapointType, value any) ([]byte, bool) {
	if raw, ok := toBytes(value); ok {
		return raw, true
	}
	if encoded, err := Encode(t, value); err == nil {
		return encoded, true
	}
	if s, ok := value.(string); ok && t != TypeString {
		return parseHex(s)
	}
	return nil, false
}

// scan walks a byte buffer record by record.
//
// Records with a type tag above 5 are treated as misalignment: the scanner
// advances one byte and tries again. A trailing record whose declared length
// runs past the buffer is dropped and scanning stops. When the very first
// record is short, it is decoded from the bytes that are present.
func scan(buf []byte, hint Framing) []Report {
	if len(buf) < minFrameLen {
		return nil
	}

	var reports []Report
	offset := frameOffset(buf, hint)

	for offset+recordHeaderLen <= len(buf) {
		id := buf[offset]
		t := DatapointType(buf[offset+1])
		if !t.Valid() {
			offset++
			continue
		}

		length := int(binary.BigEndian.Uint16(buf[offset+2:]))
		start := offset + recordHeaderLen
		end := start + length
		if end > len(buf) {
			if len(reports) > 0 || start >= len(buf) {
				break
			}
			end = len(buf)
		}

		payload := make([]byte, end-start)
		copy(payload, buf[start:end])
		reports = append(reports, Report{
			ID:    id,
			Type:  t,
			Raw:   payload,
			Value: Decode(t, payload),
		})

		offset = end
	}

	return reports
}

// frameOffset picks the offset of the first record.
//
// The guess: a buffer of 6+ bytes whose second byte is a valid type and whose
// first byte is a plausible id (1-128) starts with a record; other 6+ byte
// buffers carry a sequence prefix; shorter buffers start with a record. This
// is a best-effort heuristic and is wrong for some firmwares, which is what
// the Framing hint is for.
func frameOffset(buf []byte, hint Framing) int {
	switch hint {
	case FramingNoSequence:
		return 0
	case FramingSequence:
		return sequenceLen
	}

	if len(buf) >= heuristicMinLen {
		if DatapointType(buf[1]).Valid() && buf[0] >= 1 && buf[0] <= maxHeuristicID {
			return 0
		}
		return sequenceLen
	}
	return 0
}

// parseHex decodes a hex string with an optional 0x prefix. Whitespace
// between byte pairs is ignored.
func parseHex(s string) ([]byte, bool) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return nil, false
	}

	buf, err := hex.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return buf, true
}

// parseTypeField accepts a numeric tag or a type name.
func parseTypeField(v any) (DatapointType, bool) {
	if s, ok := v.(string); ok {
		t, err := ParseDatapointType(s)
		return t, err == nil
	}
	n, ok := toInt64(v)
	if !ok || n < 0 || !DatapointType(n).Valid() {
		return 0, false
	}
	return DatapointType(n), true
}

// inferType picks a datapoint type for a record that does not declare one.
func inferType(v any) DatapointType {
	switch v.(type) {
	case bool:
		return TypeBool
	case string:
		return TypeString
	}
	if _, ok := toFloat(v); ok {
		return TypeValue
	}
	return TypeRaw
}

func firstField(m map[string]any, names []string) (any, bool) {
	for _, name := range names {
		if v, ok := m[name]; ok {
			return v, true
		}
	}
	return nil, false
}
