package influxdb

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// capabilityMeasurement is the measurement every capability change lands in.
const capabilityMeasurement = "capabilities"

// Field names per value kind. A bucket must never see two types on one
// field, so only numbers use "value".
const (
	fieldNumber = "value"
	fieldBool   = "state"
	fieldText   = "text"
	fieldRaw    = "raw"
)

// WriteCapability queues one capability change, tagged by device and
// capability. The write is non-blocking; server failures surface through
// SetOnError.
//
// Example:
//
//	client.WriteCapability("trv-living", "measure_temperature", 21.5, time.Now())
func (c *Client) WriteCapability(deviceID, capability string, value any, ts time.Time) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	point, err := capabilityPoint(deviceID, capability, value, ts)
	if err != nil {
		return err
	}

	c.writeAPI.WritePoint(point)
	c.written.Add(1)
	return nil
}

func capabilityPoint(deviceID, capability string, value any, ts time.Time) (*write.Point, error) {
	field, fieldValue, err := capabilityField(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %w", ErrWriteFailed, deviceID, capability, err)
	}

	return write.NewPoint(
		capabilityMeasurement,
		map[string]string{
			"device_id":  deviceID,
			"capability": capability,
		},
		map[string]any{field: fieldValue},
		ts,
	), nil
}

// capabilityField picks the field for a value. Integers are stored as
// floats so a capability that is sometimes 21 and sometimes 21.5 stays one
// type.
func capabilityField(value any) (string, any, error) {
	switch v := value.(type) {
	case nil:
		return "", nil, fmt.Errorf("nil value")
	case bool:
		return fieldBool, v, nil
	case string:
		return fieldText, v, nil
	case []byte:
		return fieldRaw, hex.EncodeToString(v), nil
	case float64:
		return fieldNumber, v, nil
	case float32:
		return fieldNumber, float64(v), nil
	case int:
		return fieldNumber, float64(v), nil
	case int8:
		return fieldNumber, float64(v), nil
	case int16:
		return fieldNumber, float64(v), nil
	case int32:
		return fieldNumber, float64(v), nil
	case int64:
		return fieldNumber, float64(v), nil
	case uint8:
		return fieldNumber, float64(v), nil
	case uint16:
		return fieldNumber, float64(v), nil
	case uint32:
		return fieldNumber, float64(v), nil
	case uint64:
		return fieldNumber, float64(v), nil
	default:
		return fieldText, fmt.Sprint(v), nil
	}
}
