package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rowanvale/fieldlink-core/internal/device"
	"github.com/rowanvale/fieldlink-core/internal/events"
	"github.com/rowanvale/fieldlink-core/internal/modbus"
)

// Logger interface for service logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// DeviceDirectory is the slice of the device repository the service needs.
type DeviceDirectory interface {
	GetByID(ctx context.Context, id string) (*device.Device, error)
}

// EventPublisher fans saved readings out to in-process consumers.
type EventPublisher interface {
	Publish(event events.Event)
}

// RulesSink receives saved readings for asynchronous rule evaluation.
// Errors from the sink are logged and never surfaced to the ingestion
// caller.
type RulesSink interface {
	ProcessTelemetry(ctx context.Context, deviceID string, readings []Reading) error
}

// Mirror receives numeric readings for time-series mirroring. Satisfied
// by the InfluxDB client; delivery is fire-and-forget.
type Mirror interface {
	WriteReading(deviceID string, key string, value float64, timestamp time.Time)
}

// ServiceConfig configures a telemetry Service.
type ServiceConfig struct {
	// MaxBatchSize caps the item count of one ingestion call.
	MaxBatchSize int

	// Rules receives saved readings asynchronously. Optional.
	Rules RulesSink

	// Mirror receives numeric readings. Optional.
	Mirror Mirror

	// Logger for service operations. Defaults to a no-op logger.
	Logger Logger
}

// Service is the telemetry ingestion pipeline: validate each item,
// persist it, then fan out to the event bus, the rules sink, and the
// time-series mirror.
type Service struct {
	repo    Repository
	devices DeviceDirectory
	bus     EventPublisher

	maxBatchSize int
	rules        RulesSink
	mirror       Mirror
	logger       Logger
}

// NewService creates a telemetry service.
func NewService(repo Repository, devices DeviceDirectory, bus EventPublisher, cfg ServiceConfig) *Service {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	return &Service{
		repo:         repo,
		devices:      devices,
		bus:          bus,
		maxBatchSize: cfg.MaxBatchSize,
		rules:        cfg.Rules,
		mirror:       cfg.Mirror,
		logger:       cfg.Logger,
	}
}

// Save ingests a batch of telemetry items for one device.
//
// Items are processed independently and in order: an invalid item is
// recorded in the result and skipped, but items before and after it are
// persisted normally. There is no batch rollback.
//
// Telemetry for an inactive device is accepted with a warning - a
// provisioning mistake should not silently discard field data. Unknown
// devices are rejected outright.
//
// Returns:
//   - SaveResult: Counts of saved items and per-item errors
//   - error: ErrUnknownDevice, ErrBatchTooLarge, or a lookup failure
func (s *Service) Save(ctx context.Context, deviceID string, items []Item) (SaveResult, error) {
	var result SaveResult

	if len(items) == 0 {
		return result, nil
	}
	if len(items) > s.maxBatchSize {
		return result, fmt.Errorf("%w: %d items exceeds limit of %d",
			ErrBatchTooLarge, len(items), s.maxBatchSize)
	}

	dev, err := s.devices.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return result, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
		}
		return result, fmt.Errorf("resolving device %s: %w", deviceID, err)
	}

	if dev.Status != device.StatusActive {
		s.logger.Warn("accepting telemetry for non-active device",
			"device_id", deviceID, "status", dev.Status)
	}

	now := time.Now().UTC()
	var saved []Reading

	for i, item := range items {
		valueType, err := item.Validate()
		if err != nil {
			result.Errors = append(result.Errors, ItemError{Index: i, Key: item.Key, Err: err})
			s.logger.Warn("rejecting telemetry item",
				"device_id", deviceID, "index", i, "key", item.Key, "error", err)
			continue
		}

		reading := Reading{
			DeviceID:  deviceID,
			Key:       item.Key,
			Type:      valueType,
			Value:     normaliseValue(valueType, item.Value),
			Timestamp: item.Timestamp(now),
			Metadata:  item.Metadata,
		}

		if err := s.repo.Insert(ctx, reading); err != nil {
			result.Errors = append(result.Errors, ItemError{Index: i, Key: item.Key, Err: err})
			s.logger.Error("failed to persist telemetry item",
				"device_id", deviceID, "index", i, "key", item.Key, "error", err)
			continue
		}

		result.Saved++
		saved = append(saved, reading)
		s.fanOut(reading)
	}

	if len(saved) > 0 {
		s.handOffToRules(deviceID, saved)
	}
	return result, nil
}

// SavePayload decodes a raw wire payload and ingests it.
func (s *Service) SavePayload(ctx context.Context, deviceID string, payload []byte) (SaveResult, error) {
	items, err := ParsePayload(payload)
	if err != nil {
		return SaveResult{}, err
	}
	return s.Save(ctx, deviceID, items)
}

// HandleBatch ingests one poll batch. Satisfies the poller's BatchSink.
//
// Register-level errors travel alongside the readings; they are logged
// here and the successful readings ingest normally.
func (s *Service) HandleBatch(ctx context.Context, batch modbus.Batch) {
	for _, regErr := range batch.Errors {
		s.logger.Warn("poll batch carried register error",
			"device_id", batch.DeviceID, "key", regErr.Key, "error", regErr.Err)
	}

	if len(batch.Readings) == 0 {
		return
	}

	items := make([]Item, 0, len(batch.Readings))
	for _, reading := range batch.Readings {
		items = append(items, Item{
			Key:   reading.Key,
			Value: reading.Value,
			TS:    batch.Timestamp.UnixMilli(),
		})
	}

	result, err := s.Save(ctx, batch.DeviceID, items)
	if err != nil {
		s.logger.Error("failed to ingest poll batch",
			"device_id", batch.DeviceID, "error", err)
		return
	}
	if len(result.Errors) > 0 {
		s.logger.Warn("poll batch partially ingested",
			"device_id", batch.DeviceID,
			"saved", result.Saved,
			"failed", len(result.Errors))
	}
}

// GetLatest returns the newest reading per key for a device. An empty
// keys slice means all keys.
func (s *Service) GetLatest(ctx context.Context, deviceID string, keys []string) ([]Reading, error) {
	return s.repo.FindLatest(ctx, deviceID, keys)
}

// Prune deletes readings older than the retention cutoff.
func (s *Service) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	return s.repo.Prune(ctx, olderThan)
}

// fanOut publishes one saved reading to the event bus and the mirror.
func (s *Service) fanOut(reading Reading) {
	s.bus.Publish(events.Event{
		Type:      events.TypeReadingSaved,
		DeviceID:  reading.DeviceID,
		Key:       reading.Key,
		Value:     reading.Value,
		Timestamp: reading.Timestamp,
	})

	if s.mirror != nil && reading.Type == ValueDouble {
		if f, ok := toNumber(reading.Value); ok {
			s.mirror.WriteReading(reading.DeviceID, reading.Key, f, reading.Timestamp)
		}
	}
}

// handOffToRules delivers saved readings to the rules sink on a separate
// goroutine. Rule evaluation failures never affect ingestion.
func (s *Service) handOffToRules(deviceID string, readings []Reading) {
	if s.rules == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.rules.ProcessTelemetry(ctx, deviceID, readings); err != nil {
			s.logger.Warn("rules hand-off failed",
				"device_id", deviceID, "readings", len(readings), "error", err)
		}
	}()
}

// normaliseValue coerces native numerics to float64 so persisted doubles
// round-trip with one representation.
func normaliseValue(valueType ValueType, value any) any {
	if valueType != ValueDouble {
		return value
	}
	if f, ok := toNumber(value); ok {
		return f
	}
	return value
}
