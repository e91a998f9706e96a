// Package broker provides the MQTT gateway between field devices and
// FieldLink Core.
//
// Devices and the core are co-tenants on a shared external broker, so
// the gateway cannot rely on CONNECT credentials: device sessions
// authenticate in-band instead. The first message a device publishes
// must carry a token field, verified against the device directory; once
// authenticated the session stands until the device disconnects.
//
// # Topic scheme
//
//	v1/devices/{deviceId}/telemetry              device -> core
//	v1/devices/{deviceId}/attributes             device -> core
//	v1/devices/{deviceId}/rpc/request/{reqId}    both directions
//	v1/devices/{deviceId}/rpc/response/{reqId}   device -> core
//	internal/system/...                          core only, never devices
//
// The internal/system prefix is the trust boundary: device-initiated
// RPC is forwarded there by the gateway, and nothing a device publishes
// reaches it directly.
//
// # Platform-initiated RPC
//
// SendRPC subscribes to a per-request response topic, publishes the
// request, and resolves with the first of response, timeout, or
// cancellation. Settlement is a compare-and-swap so a response racing a
// timeout settles exactly once, and the response subscription is
// removed on every path.
package broker
