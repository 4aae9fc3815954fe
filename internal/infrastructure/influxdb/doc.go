// Package influxdb provides time-series metric storage for hubwire.
//
// It wraps the InfluxDB v2 Go client with connection lifecycle management
// and typed write helpers for the metrics hubwire cares about: connection
// state transitions, reconnection attempts, delivery queue drops and
// residency latency.
//
// # Architecture
//
//	hub client ──> influxdb.Client ──> WriteAPI (batched) ──> InfluxDB
//
// Writes are non-blocking: points are buffered and flushed in batches on
// an interval. Write failures surface asynchronously through the
// SetOnError callback, never to the caller of a Write* method. A client
// that is closed or disconnected silently drops points, so instrumented
// code paths never need to guard their metric calls.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//		// ErrDisabled when cfg.InfluxDB.Enabled is false
//	}
//	defer client.Close()
//
//	client.WriteConnectionState(sessionID, "connected")
//	client.WriteReconnect(3, "success")
package influxdb
