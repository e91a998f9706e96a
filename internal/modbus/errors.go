package modbus

import "errors"

// Domain-specific errors for Modbus operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailed is returned when a TCP connection attempt fails.
	// Connect failures are retried by the poller's health sweep, never
	// inline-looped by Acquire.
	ErrConnectionFailed = errors.New("modbus: connection failed")

	// ErrSessionClosed is returned when operating on a closed session.
	ErrSessionClosed = errors.New("modbus: session closed")

	// ErrNoSession is returned when no session exists for a device.
	ErrNoSession = errors.New("modbus: no session for device")

	// ErrUnsupportedType is returned by the codec for an unknown data type.
	ErrUnsupportedType = errors.New("modbus: unsupported data type")

	// ErrUnsupportedKind is returned for an unknown register kind.
	ErrUnsupportedKind = errors.New("modbus: unsupported register kind")

	// ErrWordCount is returned when the raw word count does not match the
	// descriptor's width.
	ErrWordCount = errors.New("modbus: register word count mismatch")

	// ErrValueRange is returned by Encode when a value cannot be
	// represented in the target wire width.
	ErrValueRange = errors.New("modbus: value out of range for register width")

	// ErrNotNumeric is returned by Encode when a non-numeric value is
	// supplied for a numeric register.
	ErrNotNumeric = errors.New("modbus: value is not numeric")
)
