// Package mqtt provides MQTT client connectivity for FieldLink Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// FieldLink uses MQTT as the device-facing publish/subscribe transport.
// Field devices publish telemetry and attributes and answer RPC requests
// under the v1/devices namespace; the broker gateway consumes that traffic
// and forwards internal fan-out under internal/system.
//
//	Field Devices ↔ MQTT Broker ↔ FieldLink Core
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s with jitter
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all device telemetry
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceTelemetry(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish an RPC request
//	topic := mqtt.Topics{}.DeviceRPCRequest("meter-001", "req-123")
//	client.Publish(topic, []byte(`{"method":"reboot"}`), 1, false)
package mqtt
