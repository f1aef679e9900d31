package kafka

import "errors"

// Sentinel errors for Kafka operations.
var (
	// ErrDisabled indicates the event stream is disabled in config.
	ErrDisabled = errors.New("kafka: disabled in configuration")

	// ErrClosed indicates the producer has been closed.
	ErrClosed = errors.New("kafka: producer closed")

	// ErrEncodeFailed indicates an event could not be encoded as JSON.
	ErrEncodeFailed = errors.New("kafka: encode failed")

	// ErrPublishFailed indicates the broker rejected or never acknowledged a write.
	ErrPublishFailed = errors.New("kafka: publish failed")
)
