package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteReading mirrors a numeric telemetry reading to InfluxDB.
//
// This is the primary method used by the ingestion pipeline. The write is
// non-blocking; data is batched and sent asynchronously. The SQLite store
// remains the canonical record - losing mirror writes is acceptable.
//
// Parameters:
//   - deviceID: Unique identifier for the device (e.g., "meter-001")
//   - key: The telemetry key (e.g., "temperature_c", "line_voltage")
//   - value: The numeric value to record
//   - timestamp: The reading's own timestamp (not the ingest time)
//
// Example:
//
//	client.WriteReading("meter-001", "line_voltage", 229.8, reading.Timestamp)
func (c *Client) WriteReading(deviceID string, key string, value float64, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"telemetry",
		map[string]string{
			"device_id": deviceID,
			"key":       key,
		},
		map[string]interface{}{
			"value": value,
		},
		timestamp,
	)

	c.writeAPI.WritePoint(point)
}

// WritePollBatchStats records polling batch outcomes for a device.
//
// Used for monitoring register poll health: how many registers decoded
// cleanly versus failed in each batch.
//
// Parameters:
//   - deviceID: Device identifier
//   - succeeded: Number of registers read and decoded in the batch
//   - failed: Number of per-register errors in the batch
func (c *Client) WritePollBatchStats(deviceID string, succeeded int, failed int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"poll_batches",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"succeeded": succeeded,
			"failed":    failed,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("gateway_stats",
//	    map[string]string{"host": "core-01"},
//	    map[string]interface{}{"sessions": 12, "pending_rpc": 3})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
