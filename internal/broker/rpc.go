package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rowanvale/fieldlink-core/internal/infrastructure/mqtt"
)

// pendingRPC is one in-flight platform-initiated request.
//
// settled is a CAS gate: exactly one of response arrival, timeout,
// context cancellation, or shutdown wins, and the losers become no-ops.
type pendingRPC struct {
	requestID string
	deviceID  string
	settled   atomic.Bool
	done      chan rpcOutcome
}

type rpcOutcome struct {
	payload []byte
	err     error
}

// settle resolves the request exactly once. Returns whether this caller
// won the race.
func (p *pendingRPC) settle(outcome rpcOutcome) bool {
	if !p.settled.CompareAndSwap(false, true) {
		return false
	}
	// done is buffered; the winning settle never blocks.
	p.done <- outcome
	return true
}

// SendRPC sends a platform-initiated RPC request to a device and waits
// for its response.
//
// The flow subscribes to the per-request response topic first, then
// publishes the request, then waits for the first of: response arrival,
// the timeout elapsing, or ctx cancellation. Whichever way the call
// settles, the response subscription is removed and the pending entry
// dropped - a timed-out request leaks nothing.
//
// Parameters:
//   - ctx: Cancellation for the wait
//   - deviceID: Target device
//   - payload: Opaque request body, delivered as-is
//   - timeout: Response deadline; zero uses the gateway default
//
// Returns:
//   - []byte: The device's response payload
//   - error: ErrRPCTimeout, ErrRPCClosed, ctx.Err(), or a publish error
func (g *Gateway) SendRPC(ctx context.Context, deviceID string, payload []byte, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = g.rpcTimeout
	}

	requestID := uuid.NewString()
	pending := &pendingRPC{
		requestID: requestID,
		deviceID:  deviceID,
		done:      make(chan rpcOutcome, 1),
	}
	g.pending.Store(requestID, pending)
	defer g.pending.Delete(requestID)

	topics := mqtt.Topics{}
	responseTopic := topics.DeviceRPCResponse(deviceID, requestID)

	// Subscribe before publishing so a fast device cannot respond into
	// the void. Responses pass the same session gate as every other
	// device publish; an unauthenticated response cannot settle the call.
	err := g.client.Subscribe(responseTopic, g.qos, func(topic string, response []byte) error {
		response, authErr := g.authenticate(ctx, deviceID, response)
		if authErr != nil {
			g.logger.Warn("dropping rpc response from unauthenticated device",
				"device_id", deviceID, "request_id", requestID, "error", authErr)
			return nil
		}
		if len(response) == 0 {
			// Pure auth envelope; keep waiting for the real response.
			return nil
		}
		g.settleRPC(requestID, response)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to rpc response topic: %w", err)
	}
	defer func() {
		if err := g.client.Unsubscribe(responseTopic); err != nil {
			g.logger.Warn("failed to unsubscribe rpc response topic",
				"topic", responseTopic, "error", err)
		}
	}()

	requestTopic := topics.DeviceRPCRequest(deviceID, requestID)
	if err := g.client.Publish(requestTopic, payload, g.qos, false); err != nil {
		return nil, fmt.Errorf("publishing rpc request: %w", err)
	}

	g.logger.Debug("rpc request sent",
		"device_id", deviceID, "request_id", requestID, "timeout", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var outcome rpcOutcome
	select {
	case outcome = <-pending.done:

	case <-timer.C:
		// A response may still win the CAS in this window; whatever is
		// in done is the settled truth.
		pending.settle(rpcOutcome{err: fmt.Errorf("%w: device %s, request %s",
			ErrRPCTimeout, deviceID, requestID)})
		outcome = <-pending.done

	case <-ctx.Done():
		pending.settle(rpcOutcome{err: ctx.Err()})
		outcome = <-pending.done
	}

	if outcome.err != nil {
		return nil, outcome.err
	}
	g.logger.Debug("rpc response received",
		"device_id", deviceID, "request_id", requestID)
	return outcome.payload, nil
}

// settleRPC routes an inbound response to its pending request. Unknown
// or already-settled request IDs are dropped silently; late responses
// after a timeout are expected noise.
//
// Response bodies are opaque but must still be JSON. A garbled payload
// is a protocol error: dropped with a log line, and the request keeps
// waiting for a valid response until its deadline.
func (g *Gateway) settleRPC(requestID string, payload []byte) {
	if !json.Valid(payload) {
		g.logger.Warn("dropping non-JSON rpc response", "request_id", requestID)
		return
	}

	value, ok := g.pending.Load(requestID)
	if !ok {
		g.logger.Debug("dropping response for unknown rpc", "request_id", requestID)
		return
	}

	pending := value.(*pendingRPC)
	if !pending.settle(rpcOutcome{payload: payload}) {
		g.logger.Debug("dropping late rpc response", "request_id", requestID)
	}
}

// abortPendingRPCs settles every in-flight request with ErrRPCClosed.
func (g *Gateway) abortPendingRPCs() {
	g.pending.Range(func(key, value any) bool {
		pending := value.(*pendingRPC)
		pending.settle(rpcOutcome{err: ErrRPCClosed})
		return true
	})
}
