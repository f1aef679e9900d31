package tuya

import "errors"

// Domain errors for the Tuya bridge package.
var (
	// ErrInvalidDatapointType is returned when a type tag is outside the
	// closed set of datapoint types.
	ErrInvalidDatapointType = errors.New("tuya: invalid datapoint type")

	// ErrEncodingFailed is returned when a value cannot be encoded for the
	// requested datapoint type.
	ErrEncodingFailed = errors.New("tuya: encoding failed")

	// ErrTransformFailed is returned when a transform op cannot be applied
	// to the value it receives.
	ErrTransformFailed = errors.New("tuya: transform failed")

	// ErrInvalidMappingKey is returned when a mapping table key is neither a
	// datapoint id nor a cluster.attribute pair.
	ErrInvalidMappingKey = errors.New("tuya: invalid mapping key")

	// ErrInvalidRule is returned when a mapping rule fails validation.
	ErrInvalidRule = errors.New("tuya: invalid mapping rule")

	// ErrUnknownDevice is returned when a message references a device that is
	// not configured on this bridge.
	ErrUnknownDevice = errors.New("tuya: unknown device")

	// ErrCapabilityNotFound is returned when writing a capability the device
	// does not declare.
	ErrCapabilityNotFound = errors.New("tuya: capability not found")

	// ErrInvalidCommand is returned when an inbound command cannot be
	// translated into a datapoint frame.
	ErrInvalidCommand = errors.New("tuya: invalid command")
)
