package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	Hub           HubMetrics       `json:"hub"`
	Delivery      DeliveryMetrics  `json:"delivery"`
	Transport     TransportMetrics `json:"transport"`
	Retry         RetryMetrics     `json:"retry"`
	MQTT          MQTTMetrics      `json:"mqtt"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// HubMetrics contains hub protocol statistics.
type HubMetrics struct {
	State       string `json:"state"`
	SessionID   string `json:"session_id,omitempty"`
	MessagesRx  uint64 `json:"messages_rx"`
	PingsRx     uint64 `json:"pings_rx"`
	PingsTx     uint64 `json:"pings_tx"`
	MalformedRx uint64 `json:"malformed_rx"`
}

// DeliveryMetrics contains delivery bridge statistics.
type DeliveryMetrics struct {
	FramesDelivered uint64 `json:"frames_delivered"`
	FramesEvicted   uint64 `json:"frames_evicted"`
	FramesRequeued  uint64 `json:"frames_requeued"`
	InlineRuns      uint64 `json:"inline_runs"`
	QueueLen        int    `json:"queue_len"`
	Permits         int    `json:"permits"`
}

// TransportMetrics contains transport-level statistics.
type TransportMetrics struct {
	Connected   bool   `json:"connected"`
	MessagesRx  uint64 `json:"messages_rx"`
	MessagesTx  uint64 `json:"messages_tx"`
	BytesRx     uint64 `json:"bytes_rx"`
	BytesTx     uint64 `json:"bytes_tx"`
	ErrorsTotal uint64 `json:"errors_total"`
}

// RetryMetrics contains reconnection supervisor statistics.
type RetryMetrics struct {
	State         string `json:"state"`
	Attempt       int    `json:"attempt"`
	EpisodesTotal uint64 `json:"episodes_total"`
	RecoveryTotal uint64 `json:"recovery_total"`
	AttemptsTotal uint64 `json:"attempts_total"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := s.hub.Stats()

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Hub: HubMetrics{
			State:       stats.State.String(),
			SessionID:   stats.SessionID,
			MessagesRx:  stats.MessagesRx,
			PingsRx:     stats.PingsRx,
			PingsTx:     stats.PingsTx,
			MalformedRx: stats.MalformedRx,
		},
		Delivery: DeliveryMetrics{
			FramesDelivered: stats.Bridge.FramesDelivered,
			FramesEvicted:   stats.Bridge.FramesEvicted,
			FramesRequeued:  stats.Bridge.FramesRequeued,
			InlineRuns:      stats.Bridge.InlineRuns,
			QueueLen:        stats.Bridge.QueueLen,
			Permits:         stats.Bridge.Permits,
		},
		Transport: TransportMetrics{
			Connected:   stats.Transport.Connected,
			MessagesRx:  stats.Transport.MessagesRx,
			MessagesTx:  stats.Transport.MessagesTx,
			BytesRx:     stats.Transport.BytesRx,
			BytesTx:     stats.Transport.BytesTx,
			ErrorsTotal: stats.Transport.ErrorsTotal,
		},
		Retry: RetryMetrics{
			State:         stats.Retry.State.String(),
			Attempt:       stats.Retry.Attempt,
			EpisodesTotal: stats.Retry.EpisodesTotal,
			RecoveryTotal: stats.Retry.RecoveryTotal,
			AttemptsTotal: stats.Retry.AttemptsTotal,
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}

	writeJSON(w, http.StatusOK, metrics)
}
