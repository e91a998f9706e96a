package device

import (
	"fmt"
	"time"

	"github.com/rowanvale/fieldlink-core/internal/modbus"
)

// Status represents the lifecycle state of a device record.
type Status string

// Status constants.
const (
	// StatusActive devices are polled and may send telemetry.
	StatusActive Status = "active"

	// StatusInactive devices are provisioned but not polled. Telemetry
	// arriving for them is accepted with a warning.
	StatusInactive Status = "inactive"

	// StatusError devices failed repeated health checks. The health sweep
	// keeps attempting reconnects; a successful poll restores them.
	StatusError Status = "error"
)

// AllStatuses returns all valid status values.
func AllStatuses() []Status {
	return []Status{StatusActive, StatusInactive, StatusError}
}

// Device is one provisioned field device in the directory.
//
// Address and Registers describe how to reach and read the device over
// Modbus TCP; Token is the shared secret the device presents when it
// connects over the broker instead of being polled.
type Device struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Token is the credential for broker-side authentication. Never
	// serialised outward.
	Token string `json:"-"`

	Status Status `json:"status"`

	// Polling configuration
	Address      modbus.ConnectParams        `json:"address"`
	PollInterval time.Duration               `json:"poll_interval"`
	Registers    []modbus.RegisterDescriptor `json:"registers"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pollable reports whether the device should have an active poll task.
func (d *Device) Pollable() bool {
	return d.Status == StatusActive && d.Address.IPAddress != "" && len(d.Registers) > 0
}

// Validate checks the device record for obvious misconfiguration.
func (d *Device) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDevice)
	}

	valid := false
	for _, s := range AllStatuses() {
		if d.Status == s {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidDevice, d.Status)
	}

	for _, reg := range d.Registers {
		if err := reg.Validate(); err != nil {
			return fmt.Errorf("%w: register %q: %v", ErrInvalidDevice, reg.Name, err)
		}
	}
	return nil
}
