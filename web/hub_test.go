package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/mgrossu/home-surveillance-system/events"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	return msg
}

// TestCheckOrigin tests origin filtering
func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"wildcard allows all", []string{"*"}, "http://evil.com", true},
		{"exact match", []string{"http://nvr.local"}, "http://nvr.local", true},
		{"mismatch", []string{"http://nvr.local"}, "http://evil.com", false},
		{"no origin header", []string{"http://nvr.local"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub(tt.allowed, 0, zaptest.NewLogger(t))
			req := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := hub.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestHubSendsStatusOnConnect tests the initial snapshot and ping handling
func TestHubSendsStatusOnConnect(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t, &fakeControl{camera: true}).Handler())
	defer srv.Close()

	conn := dialHub(t, srv)

	msg := readMessage(t, conn)
	if msg["type"] != "status" {
		t.Fatalf("First message = %v, want status", msg)
	}
	if data := msg["data"].(map[string]any); data["camera_enabled"] != true {
		t.Errorf("status data = %v", data)
	}

	if err := conn.WriteJSON(Message{Type: "ping"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if msg := readMessage(t, conn); msg["type"] != "pong" {
		t.Errorf("Reply = %v, want pong", msg)
	}

	if err := conn.WriteJSON(Message{Type: "bogus"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if msg := readMessage(t, conn); msg["type"] != "error" {
		t.Errorf("Reply = %v, want error", msg)
	}
}

// TestHubForwardsBusEvents tests that published events reach the socket
func TestHubForwardsBusEvents(t *testing.T) {
	bus := events.New()
	cfg := newTestServer(t, &fakeControl{}).config
	s := NewServer(cfg, &fakeControl{}, bus, zaptest.NewLogger(t))

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialHub(t, srv)
	readMessage(t, conn) // status

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	bus.Publish(events.RecordingStarted{SessionID: "abc", Path: "recordings/x.mp4", Timestamp: events.Now()})

	msg := readMessage(t, conn)
	if msg["type"] != "recording_started" {
		t.Fatalf("Event = %v", msg)
	}
	if data := msg["data"].(map[string]any); data["session_id"] != "abc" {
		t.Errorf("Event data = %v", data)
	}
}

// TestHubCloseDisconnectsClients tests shutdown
func TestHubCloseDisconnectsClients(t *testing.T) {
	s := newTestServer(t, &fakeControl{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialHub(t, srv)
	readMessage(t, conn)

	s.hub.Close()

	if s.hub.ClientCount() != 0 {
		t.Errorf("ClientCount = %d after Close", s.hub.ClientCount())
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected the connection to be closed")
	}
}
