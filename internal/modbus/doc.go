// Package modbus provides Modbus TCP connectivity for FieldLink Core.
//
// This package manages:
//   - Pure register codec between wire words and engineering values
//   - Exclusive session ownership (one live session per device)
//   - Per-device periodic polling with per-register error capture
//   - A health sweep that detects and recovers degraded sessions
//
// # Architecture
//
// The Registry is the single arbiter of device session ownership. All
// register access goes through it; no component holds a session reference
// across a reconnect. The Poller drives periodic reads and emits one
// reading batch per tick to its sink (the telemetry ingestion pipeline).
//
//	Poller ──tick──▶ Registry ──session──▶ goburrow/modbus ──TCP──▶ device
//	   │
//	   └──batch──▶ BatchSink (telemetry ingestion)
//
// # Concurrency
//
// Sessions serialise register operations internally because the underlying
// goburrow client is not safe for concurrent use. Acquire is single-flight
// per device: concurrent callers for the same device wait for the first
// connection attempt rather than racing a duplicate connect.
//
// # Usage
//
//	registry := modbus.NewRegistry(modbus.RegistryConfig{...})
//	poller := modbus.NewPoller(registry, sink, modbus.PollerConfig{...})
//	poller.StartPolling("meter-001", 30*time.Second, params, registers)
//	defer poller.Stop()
package modbus
