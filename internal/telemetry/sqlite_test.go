package telemetry

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// openTestDB creates a throwaway SQLite database with the telemetry schema.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE telemetry (
			id           TEXT PRIMARY KEY,
			device_id    TEXT NOT NULL,
			key          TEXT NOT NULL,
			value_type   TEXT NOT NULL,
			double_value REAL,
			bool_value   INTEGER,
			string_value TEXT,
			ts           INTEGER NOT NULL,
			metadata     TEXT,
			created_at   TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		)`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating telemetry table: %v", err)
	}
	return db
}

func TestSQLiteRepository_InsertAndFindRange(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	readings := []Reading{
		{DeviceID: "meter-001", Key: "voltage", Type: ValueDouble, Value: 230.5, Timestamp: base},
		{DeviceID: "meter-001", Key: "voltage", Type: ValueDouble, Value: 231.0, Timestamp: base.Add(time.Minute)},
		{DeviceID: "meter-001", Key: "running", Type: ValueBoolean, Value: true, Timestamp: base},
		{DeviceID: "meter-001", Key: "mode", Type: ValueString, Value: "auto", Timestamp: base},
		{DeviceID: "meter-002", Key: "voltage", Type: ValueDouble, Value: 9.9, Timestamp: base},
	}
	for _, r := range readings {
		if err := repo.Insert(ctx, r); err != nil {
			t.Fatalf("Insert(%s/%s) error = %v", r.DeviceID, r.Key, err)
		}
	}

	got, err := repo.FindRange(ctx, "meter-001", "voltage", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("FindRange() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("FindRange() returned %d readings, want 2", len(got))
	}
	if got[0].Value != 230.5 || got[1].Value != 231.0 {
		t.Errorf("values = %v, %v, want ascending 230.5, 231", got[0].Value, got[1].Value)
	}
	if !got[0].Timestamp.Equal(base) {
		t.Errorf("timestamp = %v, want %v", got[0].Timestamp, base)
	}

	// The window is inclusive on both ends: a reading stamped exactly at
	// the end time is returned.
	got, err = repo.FindRange(ctx, "meter-001", "voltage", base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("FindRange() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("FindRange() ending at last reading returned %d readings, want 2", len(got))
	}

	got, err = repo.FindRange(ctx, "meter-001", "voltage", base, base.Add(30*time.Second))
	if err != nil {
		t.Fatalf("FindRange() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("FindRange() ending mid-window returned %d readings, want 1", len(got))
	}
}

func TestSQLiteRepository_MetadataRoundTrip(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tagged := Reading{
		DeviceID:  "meter-001",
		Key:       "voltage",
		Type:      ValueDouble,
		Value:     230.5,
		Timestamp: base,
		Metadata:  map[string]any{"phase": "L1", "quality": 192.0},
	}
	bare := Reading{
		DeviceID:  "meter-001",
		Key:       "current",
		Type:      ValueDouble,
		Value:     5.2,
		Timestamp: base,
	}

	if err := repo.Insert(ctx, tagged); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := repo.Insert(ctx, bare); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	latest, err := repo.FindLatest(ctx, "meter-001", nil)
	if err != nil {
		t.Fatalf("FindLatest() error = %v", err)
	}
	byKey := make(map[string]Reading)
	for _, r := range latest {
		byKey[r.Key] = r
	}

	meta := byKey["voltage"].Metadata
	if meta == nil {
		t.Fatal("expected metadata on the tagged reading")
	}
	if meta["phase"] != "L1" {
		t.Errorf("metadata phase = %v, want L1", meta["phase"])
	}
	if meta["quality"] != 192.0 {
		t.Errorf("metadata quality = %v, want 192", meta["quality"])
	}
	if byKey["current"].Metadata != nil {
		t.Errorf("expected no metadata on the bare reading, got %v", byKey["current"].Metadata)
	}

	ranged, err := repo.FindRange(ctx, "meter-001", "voltage", base, base)
	if err != nil {
		t.Fatalf("FindRange() error = %v", err)
	}
	if len(ranged) != 1 || ranged[0].Metadata["phase"] != "L1" {
		t.Errorf("FindRange() metadata = %+v, want phase L1", ranged)
	}
}

func TestSQLiteRepository_TypedValuesRoundTrip(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	inserts := []Reading{
		{DeviceID: "meter-001", Key: "voltage", Type: ValueDouble, Value: 230.5, Timestamp: base},
		{DeviceID: "meter-001", Key: "running", Type: ValueBoolean, Value: false, Timestamp: base},
		{DeviceID: "meter-001", Key: "mode", Type: ValueString, Value: "eco", Timestamp: base},
	}
	for _, r := range inserts {
		if err := repo.Insert(ctx, r); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	latest, err := repo.FindLatest(ctx, "meter-001", nil)
	if err != nil {
		t.Fatalf("FindLatest() error = %v", err)
	}
	if len(latest) != 3 {
		t.Fatalf("FindLatest() returned %d readings, want 3", len(latest))
	}

	byKey := make(map[string]Reading)
	for _, r := range latest {
		byKey[r.Key] = r
	}
	if v, ok := byKey["voltage"].Value.(float64); !ok || v != 230.5 {
		t.Errorf("voltage = %#v, want float64 230.5", byKey["voltage"].Value)
	}
	if v, ok := byKey["running"].Value.(bool); !ok || v != false {
		t.Errorf("running = %#v, want bool false", byKey["running"].Value)
	}
	if v, ok := byKey["mode"].Value.(string); !ok || v != "eco" {
		t.Errorf("mode = %#v, want string eco", byKey["mode"].Value)
	}
}

func TestSQLiteRepository_FindLatestIgnoresInsertOrder(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// The newest timestamp is inserted first; a backfill arrives later.
	newest := Reading{DeviceID: "meter-001", Key: "voltage", Type: ValueDouble, Value: 231.0, Timestamp: base.Add(time.Hour)}
	backfill := Reading{DeviceID: "meter-001", Key: "voltage", Type: ValueDouble, Value: 229.0, Timestamp: base}

	if err := repo.Insert(ctx, newest); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := repo.Insert(ctx, backfill); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	latest, err := repo.FindLatest(ctx, "meter-001", []string{"voltage"})
	if err != nil {
		t.Fatalf("FindLatest() error = %v", err)
	}
	if len(latest) != 1 {
		t.Fatalf("FindLatest() returned %d readings, want 1", len(latest))
	}
	if latest[0].Value != 231.0 {
		t.Errorf("latest value = %v, want 231 (greatest timestamp wins)", latest[0].Value)
	}
}

func TestSQLiteRepository_FindLatestKeyFilter(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for _, key := range []string{"voltage", "current", "power"} {
		r := Reading{DeviceID: "meter-001", Key: key, Type: ValueDouble, Value: 1.0, Timestamp: base}
		if err := repo.Insert(ctx, r); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	latest, err := repo.FindLatest(ctx, "meter-001", []string{"voltage", "power"})
	if err != nil {
		t.Fatalf("FindLatest() error = %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("FindLatest() returned %d readings, want 2", len(latest))
	}
	// Ordered by key.
	if latest[0].Key != "power" || latest[1].Key != "voltage" {
		t.Errorf("keys = %s, %s, want power, voltage", latest[0].Key, latest[1].Key)
	}
}

func TestSQLiteRepository_Prune(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	old := Reading{DeviceID: "meter-001", Key: "voltage", Type: ValueDouble, Value: 1.0, Timestamp: base.AddDate(0, 0, -40)}
	recent := Reading{DeviceID: "meter-001", Key: "voltage", Type: ValueDouble, Value: 2.0, Timestamp: base}

	if err := repo.Insert(ctx, old); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := repo.Insert(ctx, recent); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	pruned, err := repo.Prune(ctx, base.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if pruned != 1 {
		t.Errorf("Prune() removed %d rows, want 1", pruned)
	}

	remaining, err := repo.FindRange(ctx, "meter-001", "voltage", base.AddDate(0, 0, -60), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("FindRange() error = %v", err)
	}
	if len(remaining) != 1 || remaining[0].Value != 2.0 {
		t.Errorf("remaining = %+v, want only the recent reading", remaining)
	}
}
