package telemetry

import (
	"context"
	"time"
)

// Repository defines the interface for telemetry persistence.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Insert persists one reading.
	Insert(ctx context.Context, reading Reading) error

	// FindLatest returns the newest reading per key for a device, ordered
	// by key. Latest means greatest timestamp, not most recently inserted.
	// An empty keys slice means all keys.
	FindLatest(ctx context.Context, deviceID string, keys []string) ([]Reading, error)

	// FindRange returns readings for one device and key within the
	// inclusive [from, to] window, ordered by ascending timestamp.
	FindRange(ctx context.Context, deviceID, key string, from, to time.Time) ([]Reading, error)

	// Prune deletes readings older than the cutoff and reports how many
	// rows were removed.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}
