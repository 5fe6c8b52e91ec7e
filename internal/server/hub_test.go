package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
)

const testOriginURL = "http://localhost:8080"

func connectObserver(t *testing.T, url, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	conn, resp, err := dialer.Dial(url, headers)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func waitForObservers(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() != n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Len() != n {
		t.Fatalf("hub has %d observers, want %d", hub.Len(), n)
	}
}

func startTestHub(t *testing.T, origins []string) (*Hub, *Registry, *httptest.Server) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	hub := NewHub(logger, origins)
	go hub.Run()

	registry := NewRegistry()
	ts := httptest.NewServer(NewMonitorMux(hub, registry))
	t.Cleanup(func() {
		ts.Close()
		if err := hub.Shutdown(2 * time.Second); err != nil {
			t.Errorf("hub.Shutdown() error = %v", err)
		}
	})
	return hub, registry, ts
}

// TestHubPublishReachesObservers verifies every observer receives published frames.
func TestHubPublishReachesObservers(t *testing.T) {
	hub, _, ts := startTestHub(t, []string{testOriginURL})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	first, _, err := connectObserver(t, wsURL, testOriginURL)
	if err != nil {
		t.Fatalf("connect first observer: %v", err)
	}
	second, _, err := connectObserver(t, wsURL, testOriginURL)
	if err != nil {
		t.Fatalf("connect second observer: %v", err)
	}
	waitForObservers(t, hub, 2)

	ids := map[string]bool{}
	for _, o := range hub.snapshot() {
		if _, err := uuid.Parse(o.ID()); err != nil {
			t.Errorf("observer id %q is not a uuid: %v", o.ID(), err)
		}
		ids[o.ID()] = true
	}
	if len(ids) != 2 {
		t.Errorf("observer ids = %v, want 2 distinct", ids)
	}

	hub.Publish([]byte("alice: hi"))

	for i, conn := range []*websocket.Conn{first, second} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("observer %d read: %v", i, err)
		}
		if msgType != websocket.TextMessage || string(data) != "alice: hi" {
			t.Errorf("observer %d got (%d, %q)", i, msgType, data)
		}
	}
}

// TestHubObserverDisconnect verifies a closed observer is unregistered.
func TestHubObserverDisconnect(t *testing.T) {
	hub, _, ts := startTestHub(t, []string{"*"})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	conn, _, err := connectObserver(t, wsURL, "http://anything.example")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForObservers(t, hub, 1)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
	waitForObservers(t, hub, 0)

	// Publishing with no observers is a no-op.
	hub.Publish([]byte("nobody: listening"))
}

// TestHubRejectsDisallowedOrigin verifies the origin policy.
func TestHubRejectsDisallowedOrigin(t *testing.T) {
	_, _, ts := startTestHub(t, []string{testOriginURL})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	tests := []struct {
		name   string
		origin string
	}{
		{name: "foreign origin", origin: "http://evil.example"},
		{name: "missing origin", origin: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := connectObserver(t, wsURL, tt.origin)
			if err == nil {
				t.Fatal("connection was accepted")
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Errorf("expected 403 response, got %v", resp)
			}
		})
	}
}

// TestMonitorStatus verifies the status endpoint reports registry contents.
func TestMonitorStatus(t *testing.T) {
	_, registry, ts := startTestHub(t, nil)
	seen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	registry.Upsert(testAddr(t, "10.0.0.2:9000"), seen)
	registry.Upsert(testAddr(t, "10.0.0.1:9000"), seen)

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 2 || len(body.Clients) != 2 {
		t.Fatalf("status = %+v", body)
	}
	if body.Clients[0].Addr != "10.0.0.1:9000" || !body.Clients[0].LastSeen.Equal(seen) {
		t.Errorf("first client = %+v", body.Clients[0])
	}

	post, err := http.Post(ts.URL+"/status", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /status = %d, want 405", post.StatusCode)
	}
}

// TestMonitorHealth verifies the plain-text health endpoint.
func TestMonitorHealth(t *testing.T) {
	_, _, ts := startTestHub(t, nil)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Content-Type = %q", ct)
	}
}

// TestServerMonitorTap verifies relayed messages reach monitor observers.
func TestServerMonitorTap(t *testing.T) {
	cfg := NewConfig()
	cfg.MonitorAddr = "127.0.0.1:0"
	cfg.AllowedOrigins = []string{testOriginURL}
	srv := startTestServer(t, cfg)

	observer, _, err := connectObserver(t, "ws://"+srv.MonitorAddr()+"/ws", testOriginURL)
	if err != nil {
		t.Fatalf("connect observer: %v", err)
	}
	waitForObservers(t, srv.hub, 1)

	sender := dialRelay(t, srv)
	sendFrame(t, sender, "alice", "watched")

	_ = observer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := observer.ReadMessage()
	if err != nil {
		t.Fatalf("observer read: %v", err)
	}
	if string(data) != "alice: watched" {
		t.Errorf("observer got %q", data)
	}
}

// TestHubShutdownWithConnectedObserver verifies Shutdown stops both pumps of
// a live observer and closes its connection.
func TestHubShutdownWithConnectedObserver(t *testing.T) {
	logger, _ := test.NewNullLogger()
	hub := NewHub(logger, []string{"*"})
	go hub.Run()

	ts := httptest.NewServer(NewMonitorMux(hub, NewRegistry()))
	defer ts.Close()

	conn, _, err := connectObserver(t, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", testOriginURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForObservers(t, hub, 1)

	start := time.Now()
	if err := hub.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Shutdown() took %v", elapsed)
	}
	if hub.Len() != 0 {
		t.Errorf("Len() after shutdown = %d", hub.Len())
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("observer connection still open after shutdown")
	}
}

// TestServeStopsWithObserverConnected verifies cancelling Serve is prompt
// while a monitor observer is attached.
func TestServeStopsWithObserverConnected(t *testing.T) {
	cfg := NewConfig()
	cfg.MonitorAddr = "127.0.0.1:0"
	cfg.AllowedOrigins = []string{testOriginURL}
	srv := newTestServer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	if _, _, err := connectObserver(t, "ws://"+srv.MonitorAddr()+"/ws", testOriginURL); err != nil {
		t.Fatalf("connect observer: %v", err)
	}
	waitForObservers(t, srv.hub, 1)

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("Serve() took %v to stop", elapsed)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
