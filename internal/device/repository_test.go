package device

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rowanvale/fieldlink-core/internal/modbus"
)

// openTestDB creates a throwaway SQLite database with the devices schema.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE devices (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			token         TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'active',
			ip_address    TEXT NOT NULL DEFAULT '',
			port          INTEGER NOT NULL DEFAULT 502,
			unit_id       INTEGER NOT NULL DEFAULT 1,
			poll_interval INTEGER NOT NULL DEFAULT 0,
			registers     TEXT NOT NULL DEFAULT '[]',
			created_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		)`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating devices table: %v", err)
	}
	return db
}

func testDevice(id string) *Device {
	return &Device{
		ID:     id,
		Name:   "Main Incomer",
		Token:  "s3cret-token",
		Status: StatusActive,
		Address: modbus.ConnectParams{
			IPAddress: "192.168.1.50",
			Port:      502,
			UnitID:    1,
		},
		PollInterval: 30 * time.Second,
		Registers: []modbus.RegisterDescriptor{
			{Name: "voltage", Address: 0, Kind: modbus.KindHoldingRegister, DataType: modbus.TypeUint16, Scaling: 0.1},
			{Name: "energy", Address: 10, Kind: modbus.KindHoldingRegister, DataType: modbus.TypeUint32},
		},
	}
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("meter-001")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "meter-001")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "Main Incomer" {
		t.Errorf("Name = %q, want Main Incomer", got.Name)
	}
	if got.Token != "s3cret-token" {
		t.Errorf("Token = %q, want s3cret-token", got.Token)
	}
	if got.Address.IPAddress != "192.168.1.50" || got.Address.Port != 502 || got.Address.UnitID != 1 {
		t.Errorf("Address = %+v", got.Address)
	}
	if got.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", got.PollInterval)
	}
	if len(got.Registers) != 2 {
		t.Fatalf("expected 2 registers, got %d", len(got.Registers))
	}
	if got.Registers[0].Name != "voltage" || got.Registers[0].Scaling != 0.1 {
		t.Errorf("register 0 = %+v", got.Registers[0])
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestRepository_CreateDuplicate(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("meter-001")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(ctx, testDevice("meter-001")); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("Create() error = %v, want ErrDeviceExists", err)
	}
}

func TestRepository_CreateInvalid(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))

	dev := testDevice("meter-001")
	dev.Status = "retired"
	if err := repo.Create(context.Background(), dev); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("Create() error = %v, want ErrInvalidDevice", err)
	}
}

func TestRepository_GetMissing(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))

	if _, err := repo.GetByID(context.Background(), "ghost"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRepository_ListByStatus(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	active := testDevice("meter-001")
	inactive := testDevice("meter-002")
	inactive.Status = StatusInactive

	if err := repo.Create(ctx, active); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(ctx, inactive); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("List() returned %d devices, want 2", len(all))
	}

	actives, err := repo.ListByStatus(ctx, StatusActive)
	if err != nil {
		t.Fatalf("ListByStatus() error = %v", err)
	}
	if len(actives) != 1 || actives[0].ID != "meter-001" {
		t.Errorf("ListByStatus(active) = %+v, want [meter-001]", actives)
	}
}

func TestRepository_Update(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	dev := testDevice("meter-001")
	if err := repo.Create(ctx, dev); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	dev.Name = "Sub Meter"
	dev.PollInterval = time.Minute
	if err := repo.Update(ctx, dev); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "meter-001")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "Sub Meter" || got.PollInterval != time.Minute {
		t.Errorf("updated device = %+v", got)
	}

	missing := testDevice("ghost")
	if err := repo.Update(ctx, missing); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Update() of missing device error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRepository_Delete(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("meter-001")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Delete(ctx, "meter-001"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByID(ctx, "meter-001"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrDeviceNotFound", err)
	}
	if err := repo.Delete(ctx, "meter-001"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second Delete() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRepository_SetStatus(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("meter-001")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.MarkError(ctx, "meter-001"); err != nil {
		t.Fatalf("MarkError() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "meter-001")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != StatusError {
		t.Errorf("Status = %s, want error", got.Status)
	}

	if err := repo.SetStatus(ctx, "ghost", StatusInactive); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetStatus() of missing device error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRepository_Authenticate(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("meter-001")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	tests := []struct {
		name    string
		id      string
		token   string
		wantErr error
	}{
		{name: "valid credential", id: "meter-001", token: "s3cret-token"},
		{name: "wrong token", id: "meter-001", token: "wrong", wantErr: ErrAuthFailed},
		{name: "empty token", id: "meter-001", token: "", wantErr: ErrAuthFailed},
		{name: "unknown device", id: "ghost", token: "s3cret-token", wantErr: ErrAuthFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, err := repo.Authenticate(ctx, tt.id, tt.token)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() unexpected error: %v", err)
			}
			if dev.ID != tt.id {
				t.Errorf("Authenticate() returned device %s, want %s", dev.ID, tt.id)
			}
		})
	}
}

func TestDevice_Pollable(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Device)
		want   bool
	}{
		{name: "active with address and registers", mutate: func(d *Device) {}, want: true},
		{name: "inactive", mutate: func(d *Device) { d.Status = StatusInactive }, want: false},
		{name: "errored", mutate: func(d *Device) { d.Status = StatusError }, want: false},
		{name: "no address", mutate: func(d *Device) { d.Address.IPAddress = "" }, want: false},
		{name: "no registers", mutate: func(d *Device) { d.Registers = nil }, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := testDevice("meter-001")
			tt.mutate(dev)
			if got := dev.Pollable(); got != tt.want {
				t.Errorf("Pollable() = %v, want %v", got, tt.want)
			}
		})
	}
}
