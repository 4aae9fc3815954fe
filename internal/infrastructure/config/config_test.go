package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes a config file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
hub:
  url: "wss://hub.example.com/stream"
  keepalive_interval: 20
  reconnect:
    enabled: true
    delays_ms: [0, 1000, 5000]
    max_attempts: 5
  delivery:
    queue_capacity: 50
    workers: 4
mqtt:
  enabled: true
  broker:
    host: "localhost"
    port: 1883
    client_id: "hubwire-test"
  qos: 1
  topic_prefix: "hubwire"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hub.URL != "wss://hub.example.com/stream" {
		t.Errorf("Hub.URL = %q, want %q", cfg.Hub.URL, "wss://hub.example.com/stream")
	}
	if cfg.Hub.KeepAliveInterval != 20 {
		t.Errorf("Hub.KeepAliveInterval = %d, want 20", cfg.Hub.KeepAliveInterval)
	}
	if cfg.Hub.Delivery.QueueCapacity != 50 {
		t.Errorf("Delivery.QueueCapacity = %d, want 50", cfg.Hub.Delivery.QueueCapacity)
	}
	if cfg.Hub.Delivery.Workers != 4 {
		t.Errorf("Delivery.Workers = %d, want 4", cfg.Hub.Delivery.Workers)
	}
	if cfg.Hub.Reconnect.MaxAttempts != 5 {
		t.Errorf("Reconnect.MaxAttempts = %d, want 5", cfg.Hub.Reconnect.MaxAttempts)
	}
	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "hub: [unbalanced"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_Defaults(t *testing.T) {
	content := `
hub:
  url: "ws://localhost:5000/stream"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hub.Delivery.QueueCapacity != 20 {
		t.Errorf("default QueueCapacity = %d, want 20", cfg.Hub.Delivery.QueueCapacity)
	}
	if cfg.Hub.Delivery.Workers != 2 {
		t.Errorf("default Workers = %d, want 2", cfg.Hub.Delivery.Workers)
	}
	if !cfg.Hub.Reconnect.Enabled {
		t.Error("default Reconnect.Enabled = false, want true")
	}
	if len(cfg.Hub.Reconnect.DelaysMs) != 4 {
		t.Errorf("default DelaysMs length = %d, want 4", len(cfg.Hub.Reconnect.DelaysMs))
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Budget.SecondaryThreshold != 4096 {
		t.Errorf("default SecondaryThreshold = %d, want 4096", cfg.Budget.SecondaryThreshold)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	content := `
hub:
  url: "ws://localhost:5000/stream"
mqtt:
  broker:
    host: "original"
`
	t.Setenv("HUBWIRE_HUB_URL", "wss://override.example.com/stream")
	t.Setenv("HUBWIRE_MQTT_HOST", "override-host")

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hub.URL != "wss://override.example.com/stream" {
		t.Errorf("Hub.URL = %q, want env override", cfg.Hub.URL)
	}
	if cfg.MQTT.Broker.Host != "override-host" {
		t.Errorf("MQTT.Broker.Host = %q, want env override", cfg.MQTT.Broker.Host)
	}
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing hub url",
			mutate:  func(c *Config) { c.Hub.URL = "" },
			wantErr: "hub.url is required",
		},
		{
			name:    "wrong url scheme",
			mutate:  func(c *Config) { c.Hub.URL = "https://hub.example.com" },
			wantErr: "hub.url must use ws or wss scheme",
		},
		{
			name:    "zero queue capacity",
			mutate:  func(c *Config) { c.Hub.Delivery.QueueCapacity = 0 },
			wantErr: "queue_capacity",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Hub.Delivery.Workers = 0 },
			wantErr: "workers",
		},
		{
			name:    "negative max attempts",
			mutate:  func(c *Config) { c.Hub.Reconnect.MaxAttempts = -1 },
			wantErr: "max_attempts",
		},
		{
			name:    "negative backoff delay",
			mutate:  func(c *Config) { c.Hub.Reconnect.DelaysMs = []int{0, -50} },
			wantErr: "delays_ms",
		},
		{
			name:    "empty backoff table with reconnect enabled",
			mutate:  func(c *Config) { c.Hub.Reconnect.DelaysMs = nil },
			wantErr: "delays_ms must not be empty",
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name: "api port out of range",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.API.Port = 70000
			},
			wantErr: "api.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Hub.URL = "wss://hub.example.com/stream"
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_Valid(t *testing.T) {
	cfg := defaultConfig()
	cfg.Hub.URL = "ws://localhost:5000/stream"

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

// =============================================================================
// Duration Helper Tests
// =============================================================================

func TestDurationHelpers(t *testing.T) {
	cfg := defaultConfig()
	cfg.Hub.KeepAliveInterval = 20
	cfg.Hub.HandshakeTimeout = 10
	cfg.Hub.Delivery.AdmissionTimeoutMs = 300

	if got := cfg.Hub.GetKeepAliveInterval(); got != 20*time.Second {
		t.Errorf("GetKeepAliveInterval() = %v, want 20s", got)
	}
	if got := cfg.Hub.GetHandshakeTimeout(); got != 10*time.Second {
		t.Errorf("GetHandshakeTimeout() = %v, want 10s", got)
	}
	if got := cfg.Hub.Delivery.GetAdmissionTimeout(); got != 300*time.Millisecond {
		t.Errorf("GetAdmissionTimeout() = %v, want 300ms", got)
	}
}

func TestBackoffDelays(t *testing.T) {
	cfg := HubConfig{
		Reconnect: ReconnectConfig{DelaysMs: []int{0, 2000, 10000}},
	}

	delays := cfg.BackoffDelays()
	want := []time.Duration{0, 2 * time.Second, 10 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("BackoffDelays() length = %d, want %d", len(delays), len(want))
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("BackoffDelays()[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}
