package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// ====== Test Helpers ======

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// newTestHub starts an httptest WebSocket server whose handler receives each
// upgraded connection. Returns the ws:// URL.
func newTestHub(t *testing.T, handler func(conn *websocket.Conn)) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

// ====== Construction Tests ======

func TestNewWebSocketValidation(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "valid ws", url: "ws://hub.local:8080/connect", wantErr: false},
		{name: "valid wss", url: "wss://hub.example.com/connect", wantErr: false},
		{name: "empty url", url: "", wantErr: true},
		{name: "http scheme", url: "http://hub.local/connect", wantErr: true},
		{name: "garbage", url: "://nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWebSocket(Config{URL: tt.url})
			if (err != nil) != tt.wantErr {
				t.Errorf("NewWebSocket(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if tt.wantErr && err != nil && !errors.Is(err, ErrConnectFailed) {
				t.Errorf("error = %v, want ErrConnectFailed", err)
			}
		})
	}
}

func TestStartDialFailure(t *testing.T) {
	tr, err := NewWebSocket(Config{
		URL:              "ws://127.0.0.1:1/connect",
		HandshakeTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewWebSocket() error = %v", err)
	}

	if err := tr.Start(context.Background()); !errors.Is(err, ErrConnectFailed) {
		t.Errorf("Start() error = %v, want ErrConnectFailed", err)
	}
	if tr.IsConnected() {
		t.Error("IsConnected() = true after failed dial")
	}
}

func TestStartTwice(t *testing.T) {
	url := newTestHub(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	tr, err := NewWebSocket(Config{URL: url})
	if err != nil {
		t.Fatalf("NewWebSocket() error = %v", err)
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tr.Stop()

	if err := tr.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

// ====== Data Path Tests ======

func TestReceiveForwardsData(t *testing.T) {
	url := newTestHub(t, func(conn *websocket.Conn) {
		for _, msg := range []string{"alpha", "beta", "gamma"} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// Hold the connection open until the client leaves.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	var mu sync.Mutex
	var received []string

	tr, err := NewWebSocket(Config{
		URL: url,
		Events: Events{
			OnData: func(data []byte) {
				mu.Lock()
				received = append(received, string(data))
				mu.Unlock()
			},
		},
	})
	if err != nil {
		t.Fatalf("NewWebSocket() error = %v", err)
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tr.Stop()

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	want := []string{"alpha", "beta", "gamma"}
	for i := range want {
		if received[i] != want[i] {
			t.Errorf("received[%d] = %q, want %q", i, received[i], want[i])
		}
	}

	if stats := tr.Stats(); stats.MessagesRx != 3 {
		t.Errorf("Stats().MessagesRx = %d, want 3", stats.MessagesRx)
	}
}

func TestSendReachesServer(t *testing.T) {
	got := make(chan string, 1)
	url := newTestHub(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		got <- string(data)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	tr, err := NewWebSocket(Config{URL: url})
	if err != nil {
		t.Fatalf("NewWebSocket() error = %v", err)
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tr.Stop()

	if err := tr.Send(context.Background(), []byte("hello hub")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case msg := <-got:
		if msg != "hello hub" {
			t.Errorf("server received %q, want %q", msg, "hello hub")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for server to receive message")
	}

	if stats := tr.Stats(); stats.MessagesTx != 1 {
		t.Errorf("Stats().MessagesTx = %d, want 1", stats.MessagesTx)
	}
}

func TestSendNotConnected(t *testing.T) {
	tr, err := NewWebSocket(Config{URL: "ws://hub.local/connect"})
	if err != nil {
		t.Fatalf("NewWebSocket() error = %v", err)
	}

	if err := tr.Send(context.Background(), []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}

// ====== Disconnect Tests ======

func TestStopFiresNilReasonOnce(t *testing.T) {
	url := newTestHub(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	var mu sync.Mutex
	var reasons []error

	tr, err := NewWebSocket(Config{
		URL: url,
		Events: Events{
			OnDisconnect: func(reason error) {
				mu.Lock()
				reasons = append(reasons, reason)
				mu.Unlock()
			},
		},
	})
	if err != nil {
		t.Fatalf("NewWebSocket() error = %v", err)
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := tr.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reasons) != 1 {
		t.Fatalf("disconnect fired %d times, want exactly 1", len(reasons))
	}
	if reasons[0] != nil {
		t.Errorf("disconnect reason = %v, want nil for intentional stop", reasons[0])
	}
}

func TestAbnormalClosureFiresReason(t *testing.T) {
	url := newTestHub(t, func(conn *websocket.Conn) {
		// Drop the socket without a close handshake.
		conn.NetConn().Close()
	})

	reasonCh := make(chan error, 1)

	tr, err := NewWebSocket(Config{
		URL: url,
		Events: Events{
			OnDisconnect: func(reason error) { reasonCh <- reason },
		},
	})
	if err != nil {
		t.Fatalf("NewWebSocket() error = %v", err)
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case reason := <-reasonCh:
		if !errors.Is(reason, ErrAbnormalClosure) {
			t.Errorf("disconnect reason = %v, want ErrAbnormalClosure", reason)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for disconnect notification")
	}

	if tr.IsConnected() {
		t.Error("IsConnected() = true after abnormal closure")
	}
}
