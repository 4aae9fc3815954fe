package influxdb

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names used by hubwire.
const (
	measurementConnection = "connection"
	measurementReconnect  = "reconnects"
	measurementQueueDrop  = "queue_drops"
	measurementDelivery   = "delivery_latency"
	measurementQueueDepth = "queue_depth"
)

// WriteConnectionState records a hub connection state transition.
//
// The point is queued for batched, non-blocking writing. Errors are
// delivered asynchronously via the SetOnError callback.
//
// Parameters:
//   - sessionID: Session identifier, empty when no session is live
//   - state: Connection state name (connected, connecting, disconnected)
func (c *Client) WriteConnectionState(sessionID, state string) {
	p := influxdb2.NewPoint(
		measurementConnection,
		map[string]string{
			"session": sessionID,
			"state":   state,
		},
		map[string]interface{}{
			"value": 1,
		},
		time.Now(),
	)

	c.writePoint(p)
}

// WriteReconnect records a reconnection attempt.
//
// Parameters:
//   - attempt: 1-based attempt number within the current episode
//   - outcome: "success", "failure" or "given_up"
func (c *Client) WriteReconnect(attempt int, outcome string) {
	p := influxdb2.NewPoint(
		measurementReconnect,
		map[string]string{
			"outcome": outcome,
		},
		map[string]interface{}{
			"attempt": attempt,
		},
		time.Now(),
	)

	c.writePoint(p)
}

// WriteDrop records a frame evicted from the delivery queue under overload.
//
// Parameters:
//   - sessionID: Session the frame belonged to
//   - dropped: Number of frames evicted in this event
func (c *Client) WriteDrop(sessionID string, dropped int) {
	p := influxdb2.NewPoint(
		measurementQueueDrop,
		map[string]string{
			"session": sessionID,
		},
		map[string]interface{}{
			"dropped": dropped,
		},
		time.Now(),
	)

	c.writePoint(p)
}

// WriteDeliveryLatency records how long a frame waited between receipt
// and callback dispatch.
//
// Parameters:
//   - sessionID: Session the frame belonged to
//   - latency: Queue residency time
func (c *Client) WriteDeliveryLatency(sessionID string, latency time.Duration) {
	p := influxdb2.NewPoint(
		measurementDelivery,
		map[string]string{
			"session": sessionID,
		},
		map[string]interface{}{
			"ms": float64(latency.Microseconds()) / 1000.0,
		},
		time.Now(),
	)

	c.writePoint(p)
}

// WriteQueueDepth records the current delivery queue occupancy.
//
// Parameters:
//   - sessionID: Session the queue belongs to
//   - depth: Frames currently queued
//   - capacity: Queue capacity
func (c *Client) WriteQueueDepth(sessionID string, depth, capacity int) {
	p := influxdb2.NewPoint(
		measurementQueueDepth,
		map[string]string{
			"session": sessionID,
		},
		map[string]interface{}{
			"depth":    depth,
			"capacity": capacity,
		},
		time.Now(),
	)

	c.writePoint(p)
}

// WritePoint writes a custom point with arbitrary measurement, tags and fields.
//
// Use the typed helpers above for standard hubwire metrics; this exists
// for ad-hoc instrumentation.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time) {
	p := influxdb2.NewPoint(measurement, tags, fields, ts)
	c.writePoint(p)
}

// writePoint queues a point if the client is connected.
func (c *Client) writePoint(p *write.Point) {
	if c == nil || c.writeAPI == nil {
		return
	}

	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()

	if !connected {
		return
	}

	c.writeAPI.WritePoint(p)
}
