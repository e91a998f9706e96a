package mqtt

import "fmt"

// Topic prefixes per the FieldLink transport contract.
//
// Device-facing topics live under v1/devices/{deviceId}/... and are the only
// namespace device principals may publish or subscribe to. Internal fan-out
// topics live under internal/system/... and are never exposed to devices.
const (
	// TopicPrefixDevices is the base for all device-facing topics.
	TopicPrefixDevices = "v1/devices"

	// TopicPrefixInternal is the base for internal system topics.
	TopicPrefixInternal = "internal/system"
)

// Topics provides builders for FieldLink MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	t := topics.DeviceTelemetry("meter-001")
//	// Returns: "v1/devices/meter-001/telemetry"
type Topics struct{}

// =============================================================================
// Device Topics
// =============================================================================

// DeviceTelemetry returns the topic devices publish telemetry on.
//
// Example: v1/devices/meter-001/telemetry
func (Topics) DeviceTelemetry(deviceID string) string {
	return fmt.Sprintf("%s/%s/telemetry", TopicPrefixDevices, deviceID)
}

// DeviceAttributes returns the topic devices publish attribute updates on.
//
// Example: v1/devices/meter-001/attributes
func (Topics) DeviceAttributes(deviceID string) string {
	return fmt.Sprintf("%s/%s/attributes", TopicPrefixDevices, deviceID)
}

// DeviceRPCRequest returns the topic for a platform-initiated RPC request.
//
// Example: v1/devices/meter-001/rpc/request/req-abc123
func (Topics) DeviceRPCRequest(deviceID, requestID string) string {
	return fmt.Sprintf("%s/%s/rpc/request/%s", TopicPrefixDevices, deviceID, requestID)
}

// DeviceRPCResponse returns the topic a device answers an RPC request on.
//
// Example: v1/devices/meter-001/rpc/response/req-abc123
func (Topics) DeviceRPCResponse(deviceID, requestID string) string {
	return fmt.Sprintf("%s/%s/rpc/response/%s", TopicPrefixDevices, deviceID, requestID)
}

// =============================================================================
// Internal System Topics
// =============================================================================

// SystemStatus returns the gateway status topic.
//
// Example: internal/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixInternal)
}

// InternalDeviceRPC returns the fan-out topic for device-initiated RPC.
// Inbound device requests are repackaged and forwarded here for downstream
// handlers; no correlation state is kept on this leg.
//
// Example: internal/system/rpc/meter-001
func (Topics) InternalDeviceRPC(deviceID string) string {
	return fmt.Sprintf("%s/rpc/%s", TopicPrefixInternal, deviceID)
}

// InternalRuleTrigger returns the topic rule evaluations are announced on.
//
// Example: internal/system/rules/meter-001
func (Topics) InternalRuleTrigger(deviceID string) string {
	return fmt.Sprintf("%s/rules/%s", TopicPrefixInternal, deviceID)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllDeviceTelemetry returns a pattern matching telemetry from any device.
//
// Pattern: v1/devices/+/telemetry
func (Topics) AllDeviceTelemetry() string {
	return fmt.Sprintf("%s/+/telemetry", TopicPrefixDevices)
}

// AllDeviceAttributes returns a pattern matching attributes from any device.
//
// Pattern: v1/devices/+/attributes
func (Topics) AllDeviceAttributes() string {
	return fmt.Sprintf("%s/+/attributes", TopicPrefixDevices)
}

// AllDeviceRPCRequests returns a pattern matching device-initiated RPC requests.
//
// Pattern: v1/devices/+/rpc/request/+
func (Topics) AllDeviceRPCRequests() string {
	return fmt.Sprintf("%s/+/rpc/request/+", TopicPrefixDevices)
}

// AllDeviceTopics returns a pattern matching every device-facing topic.
// Use with caution - this receives ALL device traffic.
//
// Pattern: v1/devices/#
func (Topics) AllDeviceTopics() string {
	return TopicPrefixDevices + "/#"
}
