package influxdb

import "errors"

// Sentinel errors. Match with errors.Is.
var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrNotConnected     = errors.New("influxdb: not connected")

	// ErrWriteFailed covers values that cannot become a point. Server-side
	// write failures are asynchronous and arrive through SetOnError.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
