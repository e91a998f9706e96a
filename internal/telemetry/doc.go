// Package telemetry provides the ingestion and query pipeline for
// FieldLink Core.
//
// Readings enter from two directions - the Modbus poller hands over
// batches, and the broker gateway forwards device-published payloads -
// and both converge on the same Service. Each item is validated and
// persisted independently: a bad item in a batch is reported but never
// rolls back or blocks its siblings.
//
// After persistence each reading fans out to the in-process event bus,
// the rules engine (asynchronously, failures swallowed), and the
// optional InfluxDB mirror.
//
// # Architecture
//
//	poller batches ──┐
//	                 ├──▶ Service ──▶ SQLite (source of truth)
//	broker payloads ─┘        │
//	                          ├──▶ events.Bus
//	                          ├──▶ rules (async, best effort)
//	                          └──▶ InfluxDB mirror (numeric only)
//
// # Queries
//
// GetLatest returns the newest reading per key, where newest is decided
// by the reading timestamp rather than insert order. Aggregate computes
// avg/min/max/sum/count over calendar-aligned buckets (UTC, weeks start
// Monday) or a fixed bucket count, ascending, with empty buckets
// omitted.
package telemetry
