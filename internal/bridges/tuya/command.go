package tuya

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Manufacturer cluster command ids used outside datapoint records.
const (
	// CommandDataQuery asks the device to report all datapoints.
	CommandDataQuery byte = 0x02

	// CommandMCUVersion asks the device for its MCU firmware version.
	CommandMCUVersion byte = 0x10

	// CommandTimeSync is both the device's time request and our response.
	CommandTimeSync byte = 0x24
)

// Time sync frame constants.
const (
	timeSyncPayloadLen = 8
	minTimeSyncFrame   = 3
	maxTimeSyncFrame   = 10
)

// EncodeRecord encodes one datapoint record: [id][type][len:2][data].
//
// Returns:
//   - []byte: Encoded record
//   - error: ErrInvalidDatapointType or ErrEncodingFailed
func EncodeRecord(id uint8, t DatapointType, value any) ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDatapointType, uint8(t))
	}

	data, err := Encode(t, value)
	if err != nil {
		return nil, err
	}
	if len(data) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds record limit", ErrEncodingFailed, len(data))
	}

	rec := make([]byte, recordHeaderLen+len(data))
	rec[0] = id
	rec[1] = byte(t)
	binary.BigEndian.PutUint16(rec[2:], uint16(len(data)))
	copy(rec[recordHeaderLen:], data)
	return rec, nil
}

// BuildDatapointFrame builds a set-datapoint frame: [seq:2][records...].
func BuildDatapointFrame(seq uint16, records ...Record) ([]byte, error) {
	frame := make([]byte, sequenceLen, sequenceLen+len(records)*(recordHeaderLen+width4))
	binary.BigEndian.PutUint16(frame, seq)

	for _, r := range records {
		rec, err := EncodeRecord(r.ID, r.Type, r.Value)
		if err != nil {
			return nil, fmt.Errorf("dp%d: %w", r.ID, err)
		}
		frame = append(frame, rec...)
	}
	return frame, nil
}

// BuildTimeSync builds the response to a device time request:
// [seq:2][0x24][len:2=8][utc:4][local:4], both times in Unix seconds.
//
// Parameters:
//   - seq: Sequence number, echoed from the request
//   - t: Current time
//   - loc: Zone for the local timestamp; nil means UTC
func BuildTimeSync(seq uint16, t time.Time, loc *time.Location) []byte {
	if loc == nil {
		loc = time.UTC
	}
	utc := t.Unix()
	_, offset := t.In(loc).Zone()
	local := utc + int64(offset)

	frame := make([]byte, sequenceLen+1+2+timeSyncPayloadLen)
	binary.BigEndian.PutUint16(frame, seq)
	frame[2] = CommandTimeSync
	binary.BigEndian.PutUint16(frame[3:], timeSyncPayloadLen)
	binary.BigEndian.PutUint32(frame[5:], uint32(utc))
	binary.BigEndian.PutUint32(frame[9:], uint32(local))
	return frame
}

// BuildDataQuery builds a query-all-datapoints frame: [seq:2][0x02].
func BuildDataQuery(seq uint16) []byte {
	return commandFrame(seq, CommandDataQuery)
}

// BuildMCUVersionRequest builds an MCU version request: [seq:2][0x10].
func BuildMCUVersionRequest(seq uint16) []byte {
	return commandFrame(seq, CommandMCUVersion)
}

// IsTimeSyncRequest reports whether frame is a device time request.
//
// A sequence-prefixed report for datapoint 0x24 has the same third byte.
// Such a frame is told apart by a valid type tag followed by a length that
// accounts for exactly the rest of the frame.
func IsTimeSyncRequest(frame []byte) bool {
	if len(frame) < minTimeSyncFrame || len(frame) > maxTimeSyncFrame || frame[2] != CommandTimeSync {
		return false
	}
	return !isSingleRecord(frame[sequenceLen:])
}

// isSingleRecord reports whether rec is exactly one [id][type][len:2][data]
// record.
func isSingleRecord(rec []byte) bool {
	if len(rec) < recordHeaderLen || !DatapointType(rec[1]).Valid() {
		return false
	}
	return int(binary.BigEndian.Uint16(rec[2:])) == len(rec)-recordHeaderLen
}

// FrameSequence returns the leading sequence number of frame, or 0.
func FrameSequence(frame []byte) uint16 {
	if len(frame) < sequenceLen {
		return 0
	}
	return binary.BigEndian.Uint16(frame)
}

func commandFrame(seq uint16, cmd byte) []byte {
	frame := make([]byte, sequenceLen+1)
	binary.BigEndian.PutUint16(frame, seq)
	frame[2] = cmd
	return frame
}
