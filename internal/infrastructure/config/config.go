package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for hubwire.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Hub      HubConfig      `yaml:"hub"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Journal  JournalConfig  `yaml:"journal"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
	Budget   BudgetConfig   `yaml:"budget"`
}

// HubConfig contains hub connection settings.
type HubConfig struct {
	// URL is the hub endpoint (ws:// or wss://).
	URL string `yaml:"url"`

	// HandshakeTimeout is the maximum time to wait for the hub handshake
	// response (seconds).
	HandshakeTimeout int `yaml:"handshake_timeout"`

	// KeepAliveInterval is how often a ping frame is sent (seconds).
	KeepAliveInterval int `yaml:"keepalive_interval"`

	// ServerTimeout is how long the connection may be silent before it is
	// considered lost (seconds).
	ServerTimeout int `yaml:"server_timeout"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
}

// ReconnectConfig contains automatic reconnection settings.
type ReconnectConfig struct {
	// Enabled turns the reconnection supervisor on or off. When false an
	// abnormal disconnection is terminal.
	Enabled bool `yaml:"enabled"`

	// DelaysMs is the backoff delay table in milliseconds. Attempt k waits
	// DelaysMs[k-1]; attempts beyond the table repeat the last entry.
	DelaysMs []int `yaml:"delays_ms"`

	// MaxAttempts limits reconnection attempts per episode. 0 means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// DeliveryConfig contains inbound message delivery settings.
type DeliveryConfig struct {
	// QueueCapacity is the inbound frame queue size. On overflow the oldest
	// frame is evicted.
	QueueCapacity int `yaml:"queue_capacity"`

	// Workers is the number of delivery workers, bounding concurrent
	// callback execution.
	Workers int `yaml:"workers"`

	// AdmissionTimeoutMs is the maximum time to wait for a free delivery
	// worker before the fallback path is taken (milliseconds).
	AdmissionTimeoutMs int `yaml:"admission_timeout_ms"`

	// InlineFallback permits executing a callback on the arrival context
	// when admission times out. Only enable when that context has adequate
	// stack headroom; otherwise the frame is re-queued.
	InlineFallback bool `yaml:"inline_fallback"`
}

// MQTTConfig contains local republish broker settings.
type MQTTConfig struct {
	Enabled     bool             `yaml:"enabled"`
	Broker      MQTTBrokerConfig `yaml:"broker"`
	Auth        MQTTAuthConfig   `yaml:"auth"`
	QoS         int              `yaml:"qos"`
	TopicPrefix string           `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// JournalConfig contains SQLite connection journal settings.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection metrics settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the local HTTP status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// BudgetConfig contains resource budgeting settings.
type BudgetConfig struct {
	// SecondaryPool indicates a secondary larger memory region is available
	// for buffers above SecondaryThreshold bytes.
	SecondaryPool bool `yaml:"secondary_pool"`

	// SecondaryThreshold is the buffer size (bytes) above which the
	// secondary pool is preferred. Default: 4096.
	SecondaryThreshold int `yaml:"secondary_threshold"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HUBWIRE_SECTION_KEY
// For example: HUBWIRE_HUB_URL, HUBWIRE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			HandshakeTimeout:  15,
			KeepAliveInterval: 15,
			ServerTimeout:     30,
			Reconnect: ReconnectConfig{
				Enabled:     true,
				DelaysMs:    []int{0, 2000, 10000, 30000},
				MaxAttempts: 0,
			},
			Delivery: DeliveryConfig{
				QueueCapacity:      20,
				Workers:            2,
				AdmissionTimeoutMs: 250,
				InlineFallback:     false,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "hubwire",
			},
			QoS:         1,
			TopicPrefix: "hubwire",
		},
		Journal: JournalConfig{
			Path:        "./data/hubwire.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8087,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Budget: BudgetConfig{
			SecondaryThreshold: 4096,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HUBWIRE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Hub
	if v := os.Getenv("HUBWIRE_HUB_URL"); v != "" {
		cfg.Hub.URL = v
	}

	// MQTT
	if v := os.Getenv("HUBWIRE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HUBWIRE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HUBWIRE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Journal
	if v := os.Getenv("HUBWIRE_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}

	// InfluxDB
	if v := os.Getenv("HUBWIRE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Hub validation
	if c.Hub.URL == "" {
		errs = append(errs, "hub.url is required")
	} else if u, err := url.Parse(c.Hub.URL); err != nil {
		errs = append(errs, fmt.Sprintf("hub.url is invalid: %v", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, "hub.url must use ws or wss scheme")
	}

	if c.Hub.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "hub.reconnect.max_attempts must not be negative")
	}
	for i, d := range c.Hub.Reconnect.DelaysMs {
		if d < 0 {
			errs = append(errs, fmt.Sprintf("hub.reconnect.delays_ms[%d] must not be negative", i))
		}
	}
	if c.Hub.Reconnect.Enabled && len(c.Hub.Reconnect.DelaysMs) == 0 {
		errs = append(errs, "hub.reconnect.delays_ms must not be empty when reconnect is enabled")
	}

	if c.Hub.Delivery.QueueCapacity < 1 {
		errs = append(errs, "hub.delivery.queue_capacity must be at least 1")
	}
	if c.Hub.Delivery.Workers < 1 {
		errs = append(errs, "hub.delivery.workers must be at least 1")
	}
	if c.Hub.Delivery.AdmissionTimeoutMs < 0 {
		errs = append(errs, "hub.delivery.admission_timeout_ms must not be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	// Journal validation
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when journal is enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BackoffDelays returns the reconnect delay table as Durations.
func (c *HubConfig) BackoffDelays() []time.Duration {
	delays := make([]time.Duration, len(c.Reconnect.DelaysMs))
	for i, ms := range c.Reconnect.DelaysMs {
		delays[i] = time.Duration(ms) * time.Millisecond
	}
	return delays
}

// GetHandshakeTimeout returns the hub handshake timeout as a Duration.
func (c *HubConfig) GetHandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeout) * time.Second
}

// GetKeepAliveInterval returns the keepalive interval as a Duration.
func (c *HubConfig) GetKeepAliveInterval() time.Duration {
	return time.Duration(c.KeepAliveInterval) * time.Second
}

// GetServerTimeout returns the server silence timeout as a Duration.
func (c *HubConfig) GetServerTimeout() time.Duration {
	return time.Duration(c.ServerTimeout) * time.Second
}

// GetAdmissionTimeout returns the delivery admission timeout as a Duration.
func (c *DeliveryConfig) GetAdmissionTimeout() time.Duration {
	return time.Duration(c.AdmissionTimeoutMs) * time.Millisecond
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
