package modbus

import (
	"fmt"
	"time"
)

// RegisterKind identifies the Modbus table a register lives in.
type RegisterKind string

// Register kinds per the Modbus specification.
const (
	KindHoldingRegister RegisterKind = "holding_register"
	KindInputRegister   RegisterKind = "input_register"
	KindCoil            RegisterKind = "coil"
	KindDiscreteInput   RegisterKind = "discrete_input"
)

// DataType identifies how raw register words are interpreted.
type DataType string

// Supported register data types.
const (
	TypeInt16   DataType = "int16"
	TypeUint16  DataType = "uint16"
	TypeInt32   DataType = "int32"
	TypeUint32  DataType = "uint32"
	TypeFloat   DataType = "float"
	TypeBoolean DataType = "boolean"
)

// RegisterDescriptor describes one addressable register on a device.
//
// Register values are only meaningful relative to the descriptor's
// DataType and Scaling. 32-bit and float types span two consecutive
// registers; Words reports the width the codec consumes.
type RegisterDescriptor struct {
	// Name is the telemetry key readings from this register are stored under.
	Name string `json:"name"`

	// Address is the zero-based register address.
	Address uint16 `json:"address"`

	// Kind selects the Modbus table (holding, input, coil, discrete input).
	Kind RegisterKind `json:"kind"`

	// DataType selects the wire interpretation.
	DataType DataType `json:"data_type"`

	// Scaling is the multiplicative factor converting raw wire integers to
	// engineering units. Zero is treated as 1 (no scaling).
	Scaling float64 `json:"scaling"`
}

// Words returns the number of consecutive 16-bit registers this
// descriptor consumes: two for 32-bit and float types, one otherwise.
func (d RegisterDescriptor) Words() uint16 {
	switch d.DataType {
	case TypeInt32, TypeUint32, TypeFloat:
		return 2
	default:
		return 1
	}
}

// scale returns the effective scaling factor (zero means no scaling).
func (d RegisterDescriptor) scale() float64 {
	if d.Scaling == 0 {
		return 1
	}
	return d.Scaling
}

// Validate checks the descriptor for obvious misconfiguration.
func (d RegisterDescriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("register name is required")
	}
	switch d.Kind {
	case KindHoldingRegister, KindInputRegister, KindCoil, KindDiscreteInput:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, d.Kind)
	}
	switch d.DataType {
	case TypeInt16, TypeUint16, TypeInt32, TypeUint32, TypeFloat, TypeBoolean:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedType, d.DataType)
	}
	// Coils and discrete inputs are single-bit; only boolean makes sense.
	if (d.Kind == KindCoil || d.Kind == KindDiscreteInput) && d.DataType != TypeBoolean {
		return fmt.Errorf("%s registers must be boolean, got %q", d.Kind, d.DataType)
	}
	return nil
}

// ConnectParams identifies a Modbus TCP endpoint.
type ConnectParams struct {
	// IPAddress is the device's IP address or hostname.
	IPAddress string `json:"ip_address"`

	// Port is the Modbus TCP port (conventionally 502).
	Port int `json:"port"`

	// UnitID is the Modbus unit/slave identifier (1-247, 0 for broadcast).
	UnitID byte `json:"unit_id"`
}

// Address returns the host:port string for dialing.
func (p ConnectParams) Address() string {
	return fmt.Sprintf("%s:%d", p.IPAddress, p.Port)
}

// SessionState is the lifecycle state of a device session.
type SessionState string

// Session lifecycle states. Exactly one non-closed session may exist per
// device identifier at any instant.
const (
	StateConnecting SessionState = "connecting"
	StateOpen       SessionState = "open"
	StateDegraded   SessionState = "degraded"
	StateClosed     SessionState = "closed"
)

// SessionInfo is a point-in-time snapshot of a session's health.
type SessionInfo struct {
	DeviceID            string
	State               SessionState
	LastActiveAt        time.Time
	ConsecutiveFailures int
}
