package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// ValueType classifies how a reading's value is stored.
type ValueType string

// Value types for persisted readings.
const (
	ValueDouble  ValueType = "double"
	ValueBoolean ValueType = "boolean"
	ValueString  ValueType = "string"
)

// Reading is one persisted telemetry data point.
type Reading struct {
	DeviceID  string         `json:"device_id"`
	Key       string         `json:"key"`
	Type      ValueType      `json:"type"`
	Value     any            `json:"value"`
	Timestamp time.Time      `json:"ts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Item is one telemetry data point on the wire, before validation.
//
// TS carries the device-reported timestamp in epoch milliseconds; zero
// means the server stamps receipt time. Metadata is an optional bag of
// device-supplied context carried through to the stored reading as-is.
type Item struct {
	Key      string         `json:"key"`
	Value    any            `json:"value"`
	TS       int64          `json:"ts,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Validate checks an item and classifies its value.
//
// JSON numbers arrive as float64; booleans and strings map to their own
// storage types. Nested objects and arrays are rejected.
func (it Item) Validate() (ValueType, error) {
	if it.Key == "" {
		return "", fmt.Errorf("%w: key is required", ErrInvalidItem)
	}
	if it.TS < 0 {
		return "", fmt.Errorf("%w: negative timestamp for key %q", ErrInvalidItem, it.Key)
	}

	switch v := it.Value.(type) {
	case float64:
		return ValueDouble, nil
	case bool:
		return ValueBoolean, nil
	case string:
		if v == "" {
			return "", fmt.Errorf("%w: empty string value for key %q", ErrInvalidItem, it.Key)
		}
		return ValueString, nil
	case int, int64, float32:
		// Non-JSON sources (the poller) hand over native numerics.
		return ValueDouble, nil
	case nil:
		return "", fmt.Errorf("%w: missing value for key %q", ErrInvalidItem, it.Key)
	default:
		return "", fmt.Errorf("%w: unsupported value type %T for key %q", ErrInvalidItem, it.Value, it.Key)
	}
}

// Timestamp resolves the item's effective timestamp, falling back to now
// when the device did not report one.
func (it Item) Timestamp(now time.Time) time.Time {
	if it.TS > 0 {
		return time.UnixMilli(it.TS).UTC()
	}
	return now.UTC()
}

// ParsePayload decodes a telemetry payload into items.
//
// Three forms are accepted: a single JSON object is a one-item batch, a
// JSON array is a multi-item batch, and an object carrying a "values"
// array is a batch envelope.
func ParsePayload(payload []byte) ([]Item, error) {
	trimmed := firstNonSpace(payload)

	switch trimmed {
	case '{':
		var envelope struct {
			Values json.RawMessage `json:"values"`
		}
		if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Values != nil {
			var items []Item
			if err := json.Unmarshal(envelope.Values, &items); err != nil {
				return nil, fmt.Errorf("%w: values must be an array: %v", ErrMalformedPayload, err)
			}
			return items, nil
		}

		var item Item
		if err := json.Unmarshal(payload, &item); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return []Item{item}, nil

	case '[':
		var items []Item
		if err := json.Unmarshal(payload, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return items, nil

	default:
		return nil, fmt.Errorf("%w: expected object or array", ErrMalformedPayload)
	}
}

// firstNonSpace returns the first non-whitespace byte, or zero.
func firstNonSpace(payload []byte) byte {
	for _, b := range payload {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b
		}
	}
	return 0
}

// ItemError pairs a failed batch item with its error.
type ItemError struct {
	Index int    `json:"index"`
	Key   string `json:"key"`
	Err   error  `json:"-"`
}

// SaveResult summarises one ingestion call. Saved and Errors sit side by
// side: a batch with a bad item still persists the good ones.
type SaveResult struct {
	Saved  int
	Errors []ItemError
}
