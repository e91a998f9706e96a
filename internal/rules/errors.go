package rules

import "errors"

// Domain errors for the rules package.
var (
	// ErrInvalidRule is returned when a rule fails validation.
	ErrInvalidRule = errors.New("rules: invalid rule")

	// ErrMQTTUnavailable is returned when no MQTT client is configured.
	ErrMQTTUnavailable = errors.New("rules: mqtt client unavailable")
)
