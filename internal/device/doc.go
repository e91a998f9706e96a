// Package device provides the device directory for FieldLink Core.
//
// The directory is the catalogue of provisioned field devices: their
// connection parameters, register maps, credentials, and lifecycle
// status. Every other component resolves devices through it - the poller
// to know what to read, the broker gateway to authenticate connections,
// and the telemetry pipeline to soft-fail readings from inactive devices.
//
// # Key Types
//
//   - Device: One provisioned field device with address and register map
//   - Status: Lifecycle status (active, inactive, error)
//   - Repository: Persistence interface with a SQLite implementation
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db)
//
//	dev := &device.Device{
//	    ID:     "meter-001",
//	    Name:   "Main Incomer",
//	    Token:  "s3cret",
//	    Status: device.StatusActive,
//	    Address: modbus.ConnectParams{IPAddress: "192.168.1.50", Port: 502, UnitID: 1},
//	    Registers: []modbus.RegisterDescriptor{
//	        {Name: "voltage", Address: 0, Kind: modbus.KindHoldingRegister,
//	            DataType: modbus.TypeUint16, Scaling: 0.1},
//	    },
//	}
//	if err := repo.Create(ctx, dev); err != nil {
//	    return err
//	}
//
//	// Broker-side authentication
//	dev, err := repo.Authenticate(ctx, "meter-001", presentedToken)
//
// # Thread Safety
//
// The SQLite repository is safe for concurrent use; it holds no state
// beyond the database handle.
package device
