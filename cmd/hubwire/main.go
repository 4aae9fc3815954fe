// hubwire - resilient hub connection bridge
//
// This is the main entry point for the hubwire daemon. hubwire holds a
// single long-lived WebSocket connection to a message hub and keeps it
// alive across network failures:
//   - Bounded inbound delivery with overload shedding
//   - Automatic reconnection with table-driven backoff
//   - Local republishing to MQTT for downstream consumers
//   - SQLite connection journal and InfluxDB metrics
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ferrule-io/hubwire/internal/api"
	"github.com/ferrule-io/hubwire/internal/budget"
	"github.com/ferrule-io/hubwire/internal/hub"
	"github.com/ferrule-io/hubwire/internal/infrastructure/config"
	"github.com/ferrule-io/hubwire/internal/infrastructure/influxdb"
	"github.com/ferrule-io/hubwire/internal/infrastructure/logging"
	"github.com/ferrule-io/hubwire/internal/infrastructure/mqtt"
	"github.com/ferrule-io/hubwire/internal/journal"
	"github.com/ferrule-io/hubwire/internal/retry"
	"github.com/ferrule-io/hubwire/internal/schedule"
	"github.com/ferrule-io/hubwire/internal/transport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// callbackTimeout bounds journal writes made from connection callbacks.
const callbackTimeout = 5 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting hubwire",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open the connection journal (optional)
	var jrnl *journal.Journal
	if cfg.Journal.Enabled {
		jrnl, err = journal.Open(journal.Config{
			Path:        cfg.Journal.Path,
			WALMode:     cfg.Journal.WALMode,
			BusyTimeout: cfg.Journal.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer func() {
			log.Info("closing journal")
			if closeErr := jrnl.Close(); closeErr != nil {
				log.Error("error closing journal", "error", closeErr)
			}
		}()
		log.Info("journal opened", "path", cfg.Journal.Path)
	} else {
		log.Info("journal disabled")
	}

	// Connect to the local MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		mqttClient.SetLogger(log)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Scheduler: one fixed worker pool shared by delivery, keepalive and
	// backoff waits.
	sched := schedule.New(schedule.Config{
		Workers: cfg.Hub.Delivery.Workers,
		Budget:  budget.NewPolicy(cfg.Budget),
		Logger:  log,
	})
	defer func() {
		log.Info("closing scheduler")
		if closeErr := sched.Close(); closeErr != nil {
			log.Error("error closing scheduler", "error", closeErr)
		}
	}()

	// Build the hub client
	hubClient, err := buildHubClient(cfg, sched, log, jrnl, mqttClient, influxClient)
	if err != nil {
		return fmt.Errorf("creating hub client: %w", err)
	}

	// Start the local status API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Hub:     hubClient,
			Journal: jrnl,
			MQTT:    mqttClient,
			Influx:  influxClient,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if apiErr := apiServer.Start(ctx); apiErr != nil {
			return fmt.Errorf("starting API server: %w", apiErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)
	} else {
		log.Info("API server disabled")
	}

	// Connect to the hub. A failed first connect is fatal; automatic
	// reconnection only guards established sessions.
	if err := hubClient.Start(ctx); err != nil {
		return fmt.Errorf("connecting to hub: %w", err)
	}
	defer func() {
		log.Info("stopping hub client")
		hubClient.Stop()
	}()
	log.Info("hub connected", "url", cfg.Hub.URL, "session", hubClient.SessionID())

	// Periodic sampling of delivery queue metrics.
	if influxClient != nil || jrnl != nil {
		startQueueSampling(ctx, sched, hubClient, cfg, log, jrnl, influxClient)
	}

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, jrnl, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Hub client
	// 2. API server (if enabled)
	// 3. Scheduler
	// 4. InfluxDB (if enabled)
	// 5. MQTT (if enabled)
	// 6. Journal (if enabled)

	log.Info("hubwire stopped")
	return nil
}

// buildHubClient assembles the hub client with journal, MQTT and InfluxDB
// observers wired into its callbacks. Any of jrnl, mqttClient and
// influxClient may be nil.
func buildHubClient(
	cfg *config.Config,
	sched *schedule.Scheduler,
	log *logging.Logger,
	jrnl *journal.Journal,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
) (*hub.Client, error) {
	// Declared before hub.New so callbacks can close over it; callbacks
	// only fire after Start, by which time the client is assigned.
	var client *hub.Client

	// lastAttempt remembers the most recent reconnect attempt number so
	// recovery can be journalled with its attempt count. Written only from
	// the supervisor's episode goroutine.
	var lastAttempt int

	sessionID := func() string {
		if client == nil {
			return ""
		}
		return client.SessionID()
	}

	hubClient, err := hub.New(hub.Config{
		Transport: func(events transport.Events) (transport.Transport, error) {
			return transport.NewWebSocket(transport.Config{
				URL:    cfg.Hub.URL,
				Events: events,
				Logger: log,
			})
		},
		Scheduler:         sched,
		Budget:            budget.NewPolicy(cfg.Budget),
		HandshakeTimeout:  cfg.Hub.GetHandshakeTimeout(),
		KeepAliveInterval: cfg.Hub.GetKeepAliveInterval(),
		ServerTimeout:     cfg.Hub.GetServerTimeout(),
		Reconnect: hub.ReconnectConfig{
			Enabled:     cfg.Hub.Reconnect.Enabled,
			Delays:      cfg.Hub.BackoffDelays(),
			MaxAttempts: cfg.Hub.Reconnect.MaxAttempts,
		},
		Delivery: hub.DeliveryConfig{
			QueueCapacity:    cfg.Hub.Delivery.QueueCapacity,
			Permits:          cfg.Hub.Delivery.Workers,
			AdmissionTimeout: cfg.Hub.Delivery.GetAdmissionTimeout(),
			InlineFallback:   cfg.Hub.Delivery.InlineFallback,
		},
		OnMessage: func(msg hub.Message) {
			if mqttClient == nil {
				return
			}
			payload, marshalErr := json.Marshal(msg.Arguments)
			if marshalErr != nil {
				log.Error("failed to encode hub message", "target", msg.Target, "error", marshalErr)
				return
			}
			if pubErr := mqttClient.PublishMessage(msg.Target, payload); pubErr != nil {
				log.Warn("failed to republish hub message", "target", msg.Target, "error", pubErr)
			}
		},
		OnStateChange: func(state hub.ConnState) {
			log.Info("hub connection state", "state", state.String())

			if influxClient != nil {
				influxClient.WriteConnectionState(sessionID(), state.String())
			}
			if mqttClient != nil {
				payload := fmt.Sprintf(`{"state":%q,"session":%q}`, state.String(), sessionID())
				if pubErr := mqttClient.PublishConnectionState([]byte(payload)); pubErr != nil {
					log.Warn("failed to publish connection state", "error", pubErr)
				}
			}
			if jrnl != nil && state == hub.ConnConnected {
				cbCtx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
				defer cancel()
				if jErr := jrnl.SessionStarted(cbCtx, sessionID()); jErr != nil {
					log.Error("failed to journal session start", "error", jErr)
				}
			}
		},
		OnSessionEnd: func(endedID string, reason error) {
			if jrnl == nil {
				return
			}
			detail := ""
			if reason != nil {
				detail = reason.Error()
			}
			cbCtx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
			defer cancel()
			if jErr := jrnl.SessionEnded(cbCtx, endedID, detail); jErr != nil {
				log.Error("failed to journal session end", "error", jErr)
			}
		},
		OnRetryState: func(state retry.State, attempt int) {
			switch state {
			case retry.StateConnecting:
				lastAttempt = attempt
				log.Info("reconnecting to hub", "attempt", attempt)
				if jrnl != nil {
					cbCtx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
					defer cancel()
					detail := fmt.Sprintf("attempt %d", attempt)
					if jErr := jrnl.Record(cbCtx, "", journal.EventReconnectAttempt, detail); jErr != nil {
						log.Error("failed to journal reconnect attempt", "error", jErr)
					}
				}
				if influxClient != nil {
					influxClient.WriteReconnect(attempt, "attempt")
				}
			case retry.StateConnected:
				if lastAttempt > 0 {
					log.Info("hub connection recovered", "attempts", lastAttempt)
					if jrnl != nil {
						cbCtx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
						defer cancel()
						detail := fmt.Sprintf("after %d attempts", lastAttempt)
						if jErr := jrnl.Record(cbCtx, sessionID(), journal.EventRecovered, detail); jErr != nil {
							log.Error("failed to journal recovery", "error", jErr)
						}
					}
					if influxClient != nil {
						influxClient.WriteReconnect(lastAttempt, "success")
					}
					lastAttempt = 0
				}
			}
		},
		OnDisconnected: func(reason error) {
			detail := ""
			if reason != nil {
				detail = reason.Error()
			}
			log.Warn("hub connection is terminal", "reason", detail)

			if jrnl != nil {
				cbCtx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
				defer cancel()
				if jErr := jrnl.Record(cbCtx, "", journal.EventGivenUp, detail); jErr != nil {
					log.Error("failed to journal give-up", "error", jErr)
				}
			}
			if influxClient != nil {
				influxClient.WriteReconnect(0, "given_up")
			}
			if mqttClient != nil {
				payload := fmt.Sprintf(`{"kind":"given_up","reason":%q}`, detail)
				if pubErr := mqttClient.PublishEvent(journal.EventGivenUp, []byte(payload)); pubErr != nil {
					log.Warn("failed to publish give-up event", "error", pubErr)
				}
			}
		},
		Logger: log,
	})
	if err != nil {
		return nil, err
	}

	client = hubClient
	return hubClient, nil
}

// queueSampleInterval is how often delivery queue depth and drop counts
// are sampled.
const queueSampleInterval = 30 * time.Second

// startQueueSampling polls the hub client's delivery statistics on the
// shared scheduler, recording queue depth to InfluxDB and newly evicted
// frames to both InfluxDB and the journal. The poll stops on context
// cancellation; scheduler close also ends it at shutdown.
func startQueueSampling(
	ctx context.Context,
	sched *schedule.Scheduler,
	hubClient *hub.Client,
	cfg *config.Config,
	log *logging.Logger,
	jrnl *journal.Journal,
	influxClient *influxdb.Client,
) {
	var lastEvicted uint64

	err := sched.Timer(queueSampleInterval, func(_ time.Duration) bool {
		select {
		case <-ctx.Done():
			return true
		default:
		}

		stats := hubClient.Stats()

		if influxClient != nil {
			influxClient.WriteQueueDepth(stats.SessionID, stats.Bridge.QueueLen, cfg.Hub.Delivery.QueueCapacity)
		}

		if dropped := stats.Bridge.FramesEvicted - lastEvicted; dropped > 0 {
			lastEvicted = stats.Bridge.FramesEvicted
			log.Warn("delivery queue dropped frames", "dropped", dropped)

			if influxClient != nil {
				influxClient.WriteDrop(stats.SessionID, int(dropped))
			}
			if jrnl != nil {
				cbCtx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
				detail := fmt.Sprintf("%d frames evicted", dropped)
				if jErr := jrnl.Record(cbCtx, stats.SessionID, journal.EventFrameDropped, detail); jErr != nil {
					log.Error("failed to journal frame drop", "error", jErr)
				}
				cancel()
			}
		}

		return false
	})
	if err != nil {
		log.Warn("failed to start queue sampling", "error", err)
	}
}

// getConfigPath returns the configuration file path.
// Uses HUBWIRE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HUBWIRE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - jrnl: Journal to check (may be nil if disabled)
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, jrnl *journal.Journal, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if jrnl != nil {
		if err := jrnl.HealthCheck(ctx); err != nil {
			return fmt.Errorf("journal: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
