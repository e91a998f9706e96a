package broker

import "errors"

// Domain errors for the broker gateway.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, broker.ErrRPCTimeout) {
//	    // device never answered
//	}
var (
	// ErrAuthRequired is returned when a device message arrives on an
	// unauthenticated session without a credential.
	ErrAuthRequired = errors.New("broker: authentication required")

	// ErrAuthFailed is returned when a presented credential is rejected.
	ErrAuthFailed = errors.New("broker: authentication failed")

	// ErrUnknownTopic is returned for a topic outside the device scheme.
	ErrUnknownTopic = errors.New("broker: unknown topic")

	// ErrMalformedPayload is returned when a payload cannot be decoded.
	ErrMalformedPayload = errors.New("broker: malformed payload")

	// ErrRPCTimeout is returned when a device does not answer an RPC
	// within the deadline.
	ErrRPCTimeout = errors.New("broker: rpc timeout")

	// ErrRPCClosed is returned for RPCs still pending when the gateway
	// shuts down.
	ErrRPCClosed = errors.New("broker: rpc aborted by shutdown")

	// ErrNotStarted is returned when operating on a gateway that has not
	// been started.
	ErrNotStarted = errors.New("broker: gateway not started")
)
