package api

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// ComponentHealth reports one component's health probe result.
type ComponentHealth struct {
	Status string `json:"status"` // "ok", "error", "disabled"
	Error  string `json:"error,omitempty"`
}

// HealthResponse is the aggregate health report.
type HealthResponse struct {
	Status     string                     `json:"status"` // "ok" or "degraded"
	Version    string                     `json:"version"`
	Components map[string]ComponentHealth `json:"components"`
}

// StatusResponse summarises the hub connection.
type StatusResponse struct {
	State          string    `json:"state"`
	SessionID      string    `json:"session_id,omitempty"`
	RetryState     string    `json:"retry_state"`
	RetryAttempt   int       `json:"retry_attempt"`
	EpisodesTotal  uint64    `json:"episodes_total"`
	RecoveryTotal  uint64    `json:"recovery_total"`
	AttemptsTotal  uint64    `json:"attempts_total"`
	LastFailure    string    `json:"last_failure,omitempty"`
	LastRecoveryAt time.Time `json:"last_recovery_at,omitzero"`
}

// EventResponse is one journal entry.
type EventResponse struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
}

// healthProbeTimeout bounds each component health probe.
const healthProbeTimeout = 3 * time.Second

// withProbeTimeout derives a bounded context from the request.
func withProbeTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), healthProbeTimeout)
}

// handleHealth probes each component and returns the aggregate status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withProbeTimeout(r)
	defer cancel()

	components := make(map[string]ComponentHealth)
	degraded := false

	record := func(name string, err error) {
		if err != nil {
			components[name] = ComponentHealth{Status: "error", Error: err.Error()}
			degraded = true
			return
		}
		components[name] = ComponentHealth{Status: "ok"}
	}

	components["hub"] = ComponentHealth{Status: s.hub.State().String()}

	if s.journal != nil {
		record("journal", s.journal.HealthCheck(ctx))
	} else {
		components["journal"] = ComponentHealth{Status: "disabled"}
	}

	if s.mqtt != nil {
		record("mqtt", s.mqtt.HealthCheck(ctx))
	} else {
		components["mqtt"] = ComponentHealth{Status: "disabled"}
	}

	if s.influx != nil {
		record("influxdb", s.influx.HealthCheck(ctx))
	} else {
		components["influxdb"] = ComponentHealth{Status: "disabled"}
	}

	status := "ok"
	if degraded {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     status,
		Version:    s.version,
		Components: components,
	})
}

// handleStatus returns the hub connection and reconnection state.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	stats := s.hub.Stats()

	writeJSON(w, http.StatusOK, StatusResponse{
		State:          stats.State.String(),
		SessionID:      stats.SessionID,
		RetryState:     stats.Retry.State.String(),
		RetryAttempt:   stats.Retry.Attempt,
		EpisodesTotal:  stats.Retry.EpisodesTotal,
		RecoveryTotal:  stats.Retry.RecoveryTotal,
		AttemptsTotal:  stats.Retry.AttemptsTotal,
		LastFailure:    stats.Retry.LastFailure,
		LastRecoveryAt: stats.Retry.LastRecoveryAt,
	})
}

// defaultEventLimit is the number of journal events returned when no
// limit parameter is given.
const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// handleEvents returns recent journal events, newest first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusOK, []EventResponse{})
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	ctx, cancel := withProbeTimeout(r)
	defer cancel()

	events, err := s.journal.Recent(ctx, limit)
	if err != nil {
		s.logger.Error("failed to read journal events", "error", err)
		writeInternalError(w, "failed to read journal")
		return
	}

	out := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, EventResponse{
			ID:        ev.ID,
			SessionID: ev.SessionID,
			At:        ev.At,
			Kind:      ev.Kind,
			Detail:    ev.Detail,
		})
	}

	writeJSON(w, http.StatusOK, out)
}
