package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ferrule-io/hubwire/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "hubwire-test",
			TLS:      false,
		},
		QoS:         1,
		TopicPrefix: "hubwire",
	}
}

// ====== Topic Tests ======

func TestTopics(t *testing.T) {
	topics := NewTopics("hubwire")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"status", topics.Status(), "hubwire/status"},
		{"message", topics.Message("stateChanged"), "hubwire/message/stateChanged"},
		{"connection", topics.Connection(), "hubwire/connection"},
		{"event", topics.Event("reconnect"), "hubwire/event/reconnect"},
		{"all messages", topics.AllMessages(), "hubwire/message/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTopicsDefaultPrefix(t *testing.T) {
	topics := NewTopics("")
	if got := topics.Status(); got != "hubwire/status" {
		t.Errorf("Status() with empty prefix = %q, want hubwire/status", got)
	}
}

// ====== Options Tests ======

func TestBuildClientOptionsBrokerURL(t *testing.T) {
	cfg := testConfig()
	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("Servers count = %d, want 1", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "tcp://127.0.0.1:1883" {
		t.Errorf("broker URL = %q, want tcp://127.0.0.1:1883", got)
	}
	if opts.ClientID != "hubwire-test" {
		t.Errorf("ClientID = %q, want hubwire-test", opts.ClientID)
	}
}

func TestBuildClientOptionsTLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	opts := buildClientOptions(cfg)

	if got := opts.Servers[0].Scheme; got != "ssl" {
		t.Errorf("scheme = %q, want ssl", got)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set with TLS enabled")
	}
}

func TestBuildClientOptionsAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "bridge"
	cfg.Auth.Password = "secret"
	opts := buildClientOptions(cfg)

	if opts.Username != "bridge" {
		t.Errorf("Username = %q, want bridge", opts.Username)
	}
	if opts.Password != "secret" {
		t.Errorf("Password not carried")
	}
}

// ====== Payload Tests ======

func TestStatusPayloads(t *testing.T) {
	for name, payload := range map[string]string{
		"online":  buildOnlinePayload("hubwire-test"),
		"offline": buildOfflinePayload("hubwire-test"),
	} {
		t.Run(name, func(t *testing.T) {
			var doc map[string]string
			if err := json.Unmarshal([]byte(payload), &doc); err != nil {
				t.Fatalf("payload not valid JSON: %v", err)
			}
			if doc["status"] != name {
				t.Errorf("status = %q, want %q", doc["status"], name)
			}
			if doc["client_id"] != "hubwire-test" {
				t.Errorf("client_id = %q, want hubwire-test", doc["client_id"])
			}
		})
	}

	if !strings.Contains(buildOfflinePayload("x"), "graceful_shutdown") {
		t.Error("offline payload missing graceful_shutdown reason")
	}
}

// ====== Publish Validation Tests ======

func TestPublishValidation(t *testing.T) {
	c := &Client{cfg: testConfig(), topics: NewTopics("hubwire")}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{name: "empty topic", topic: "", qos: 1, wantErr: ErrInvalidTopic},
		{name: "invalid qos", topic: "hubwire/status", qos: 3, wantErr: ErrInvalidQoS},
		{name: "oversized payload", topic: "hubwire/status", payload: make([]byte, maxPayloadSize+1), qos: 1, wantErr: ErrPublishFailed},
		{name: "not connected", topic: "hubwire/status", payload: []byte("{}"), qos: 1, wantErr: ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// ====== Lifecycle Tests ======

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v, want nil", err)
	}
}
