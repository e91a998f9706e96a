package telemetry

import "errors"

// Domain errors for the telemetry package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, telemetry.ErrInvalidItem) {
//	    // handle validation failure
//	}
var (
	// ErrInvalidItem is returned when a telemetry item fails validation.
	// One invalid item never rolls back or blocks its batch siblings.
	ErrInvalidItem = errors.New("telemetry: invalid item")

	// ErrMalformedPayload is returned when a payload is not a telemetry
	// object or array of objects.
	ErrMalformedPayload = errors.New("telemetry: malformed payload")

	// ErrBatchTooLarge is returned when a batch exceeds the configured
	// maximum item count.
	ErrBatchTooLarge = errors.New("telemetry: batch too large")

	// ErrUnknownDevice is returned when telemetry arrives for a device
	// the directory has never seen.
	ErrUnknownDevice = errors.New("telemetry: unknown device")

	// ErrInvalidQuery is returned when an aggregation query is malformed.
	ErrInvalidQuery = errors.New("telemetry: invalid query")

	// ErrUnsupportedOp is returned for an unknown aggregation operation.
	ErrUnsupportedOp = errors.New("telemetry: unsupported aggregation operation")

	// ErrUnsupportedGranularity is returned for an unknown bucket granularity.
	ErrUnsupportedGranularity = errors.New("telemetry: unsupported granularity")
)
