package device

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rowanvale/fieldlink-core/internal/modbus"
)

// Repository defines the interface for device directory operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// ListByStatus retrieves all devices in a specific lifecycle status.
	ListByStatus(ctx context.Context, status Status) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, device *Device) error

	// Update modifies an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// SetStatus updates only the lifecycle status of a device.
	SetStatus(ctx context.Context, id string, status Status) error

	// Authenticate verifies a device credential in constant time.
	// Returns ErrAuthFailed for unknown devices and wrong tokens alike.
	Authenticate(ctx context.Context, id, token string) (*Device, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, name, token, status, ip_address, port, unit_id, poll_interval, registers, created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY name`
	return r.queryDevices(ctx, query)
}

// ListByStatus retrieves all devices in a specific lifecycle status.
func (r *SQLiteRepository) ListByStatus(ctx context.Context, status Status) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE status = ? ORDER BY name`
	return r.queryDevices(ctx, query, string(status))
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	if err := device.Validate(); err != nil {
		return err
	}

	registersJSON, err := json.Marshal(device.Registers)
	if err != nil {
		return fmt.Errorf("marshalling registers: %w", err)
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (` + deviceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		device.ID, device.Name, device.Token, string(device.Status),
		device.Address.IPAddress, device.Address.Port, device.Address.UnitID,
		int64(device.PollInterval/time.Second), string(registersJSON),
		device.CreatedAt.Format(time.RFC3339), device.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	if err := device.Validate(); err != nil {
		return err
	}

	registersJSON, err := json.Marshal(device.Registers)
	if err != nil {
		return fmt.Errorf("marshalling registers: %w", err)
	}

	device.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices
		SET name = ?, token = ?, status = ?, ip_address = ?, port = ?,
			unit_id = ?, poll_interval = ?, registers = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		device.Name, device.Token, string(device.Status),
		device.Address.IPAddress, device.Address.Port, device.Address.UnitID,
		int64(device.PollInterval/time.Second), string(registersJSON),
		device.UpdatedAt.Format(time.RFC3339), device.ID)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if rows == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if rows == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// SetStatus updates only the lifecycle status of a device.
func (r *SQLiteRepository) SetStatus(ctx context.Context, id string, status Status) error {
	query := `UPDATE devices SET status = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(status), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating device status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking status update result: %w", err)
	}
	if rows == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// Authenticate verifies a device credential.
//
// The token comparison is constant-time. Unknown devices and wrong tokens
// both return ErrAuthFailed so a caller cannot probe for valid IDs.
func (r *SQLiteRepository) Authenticate(ctx context.Context, id, token string) (*Device, error) {
	device, err := r.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			// Burn a comparison anyway to keep timing uniform.
			subtle.ConstantTimeCompare([]byte(token), []byte(token))
			return nil, ErrAuthFailed
		}
		return nil, err
	}

	if device.Token == "" || subtle.ConstantTimeCompare([]byte(device.Token), []byte(token)) != 1 {
		return nil, ErrAuthFailed
	}
	return device, nil
}

// queryDevices runs a multi-row query and scans the results.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device rows: %w", err)
	}
	return devices, nil
}

// scanner abstracts over *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanDevice scans one device row into a Device.
func scanDevice(s scanner) (*Device, error) {
	var (
		d             Device
		status        string
		unitID        int
		pollSeconds   int64
		registersJSON string
		createdAt     string
		updatedAt     string
	)

	err := s.Scan(&d.ID, &d.Name, &d.Token, &status,
		&d.Address.IPAddress, &d.Address.Port, &unitID,
		&pollSeconds, &registersJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	d.Status = Status(status)
	d.Address.UnitID = byte(unitID)
	d.PollInterval = time.Duration(pollSeconds) * time.Second

	if registersJSON != "" {
		if err := json.Unmarshal([]byte(registersJSON), &d.Registers); err != nil {
			return nil, fmt.Errorf("unmarshalling registers: %w", err)
		}
	}
	if d.Registers == nil {
		d.Registers = []modbus.RegisterDescriptor{}
	}

	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &d, nil
}

// MarkError transitions a device to the error status. Satisfies the
// modbus registry's StatusReporter.
func (r *SQLiteRepository) MarkError(ctx context.Context, id string) error {
	return r.SetStatus(ctx, id, StatusError)
}
