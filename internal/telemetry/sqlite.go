package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLiteRepository implements Repository using SQLite.
//
// Values are stored in typed columns (double_value, bool_value,
// string_value) selected by value_type, so numeric readings stay
// queryable without JSON extraction.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed telemetry repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Insert persists one reading.
func (r *SQLiteRepository) Insert(ctx context.Context, reading Reading) error {
	var (
		doubleValue sql.NullFloat64
		boolValue   sql.NullBool
		stringValue sql.NullString
	)

	switch reading.Type {
	case ValueDouble:
		f, ok := toNumber(reading.Value)
		if !ok {
			return fmt.Errorf("%w: non-numeric value for double reading %q", ErrInvalidItem, reading.Key)
		}
		doubleValue = sql.NullFloat64{Float64: f, Valid: true}
	case ValueBoolean:
		b, ok := reading.Value.(bool)
		if !ok {
			return fmt.Errorf("%w: non-bool value for boolean reading %q", ErrInvalidItem, reading.Key)
		}
		boolValue = sql.NullBool{Bool: b, Valid: true}
	case ValueString:
		s, ok := reading.Value.(string)
		if !ok {
			return fmt.Errorf("%w: non-string value for string reading %q", ErrInvalidItem, reading.Key)
		}
		stringValue = sql.NullString{String: s, Valid: true}
	default:
		return fmt.Errorf("%w: unknown value type %q", ErrInvalidItem, reading.Type)
	}

	var metadata sql.NullString
	if len(reading.Metadata) > 0 {
		encoded, err := json.Marshal(reading.Metadata)
		if err != nil {
			return fmt.Errorf("%w: unencodable metadata for reading %q: %v", ErrInvalidItem, reading.Key, err)
		}
		metadata = sql.NullString{String: string(encoded), Valid: true}
	}

	query := `
		INSERT INTO telemetry (id, device_id, key, value_type, double_value, bool_value, string_value, ts, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		uuid.NewString(),
		reading.DeviceID, reading.Key, string(reading.Type),
		doubleValue, boolValue, stringValue,
		reading.Timestamp.UnixMilli(),
		metadata,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}
	return nil
}

// FindLatest returns the newest reading per key for a device.
//
// Latest is defined by the reading timestamp, so a backfilled point with
// an older timestamp never displaces a newer one regardless of insert
// order. Ties break on insertion order.
func (r *SQLiteRepository) FindLatest(ctx context.Context, deviceID string, keys []string) ([]Reading, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT device_id, key, value_type, double_value, bool_value, string_value, ts, metadata
		FROM (
			SELECT device_id, key, value_type, double_value, bool_value, string_value, ts, metadata,
				ROW_NUMBER() OVER (PARTITION BY key ORDER BY ts DESC, rowid DESC) AS rn
			FROM telemetry
			WHERE device_id = ?`)

	args := []any{deviceID}
	if len(keys) > 0 {
		sb.WriteString(` AND key IN (?` + strings.Repeat(", ?", len(keys)-1) + `)`)
		for _, k := range keys {
			args = append(args, k)
		}
	}
	sb.WriteString(`
		)
		WHERE rn = 1
		ORDER BY key`)

	return r.queryReadings(ctx, sb.String(), args...)
}

// FindRange returns readings within the inclusive [from, to] window,
// ordered by ascending timestamp.
func (r *SQLiteRepository) FindRange(ctx context.Context, deviceID, key string, from, to time.Time) ([]Reading, error) {
	query := `
		SELECT device_id, key, value_type, double_value, bool_value, string_value, ts, metadata
		FROM telemetry
		WHERE device_id = ? AND key = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC, rowid ASC`

	return r.queryReadings(ctx, query, deviceID, key, from.UnixMilli(), to.UnixMilli())
}

// Prune deletes readings older than the cutoff.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM telemetry WHERE ts < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning telemetry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking prune result: %w", err)
	}
	return rows, nil
}

// queryReadings runs a multi-row query and scans the results.
func (r *SQLiteRepository) queryReadings(ctx context.Context, query string, args ...any) ([]Reading, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reading row: %w", err)
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reading rows: %w", err)
	}
	return readings, nil
}

// scanReading scans one telemetry row, restoring the typed value.
func scanReading(rows *sql.Rows) (Reading, error) {
	var (
		reading     Reading
		valueType   string
		doubleValue sql.NullFloat64
		boolValue   sql.NullBool
		stringValue sql.NullString
		ts          int64
		metadata    sql.NullString
	)

	err := rows.Scan(&reading.DeviceID, &reading.Key, &valueType,
		&doubleValue, &boolValue, &stringValue, &ts, &metadata)
	if err != nil {
		return Reading{}, err
	}

	reading.Type = ValueType(valueType)
	reading.Timestamp = time.UnixMilli(ts).UTC()

	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &reading.Metadata); err != nil {
			return Reading{}, fmt.Errorf("decoding metadata for %q: %w", reading.Key, err)
		}
	}

	switch reading.Type {
	case ValueDouble:
		reading.Value = doubleValue.Float64
	case ValueBoolean:
		reading.Value = boolValue.Bool
	case ValueString:
		reading.Value = stringValue.String
	default:
		return Reading{}, fmt.Errorf("unknown value type %q", valueType)
	}
	return reading, nil
}

// toNumber coerces native numeric types to float64.
func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
