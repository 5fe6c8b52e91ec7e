// Package server exposes the monitor HTTP handlers: health, registry status
// and the WebSocket observer endpoint.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

type monitor struct {
	hub      *Hub
	registry *Registry
	upgrader websocket.Upgrader
}

type statusClient struct {
	Addr     string    `json:"addr"`
	LastSeen time.Time `json:"last_seen"`
}

type statusResponse struct {
	Count     int            `json:"count"`
	Observers int            `json:"observers"`
	Clients   []statusClient `json:"clients"`
}

// NewMonitorMux returns the monitor routes backed by hub and registry.
func NewMonitorMux(hub *Hub, registry *Registry) *http.ServeMux {
	m := &monitor{
		hub:      hub,
		registry: registry,
	}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     m.checkOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", m.health)
	mux.HandleFunc("/status", m.status)
	mux.HandleFunc("/ws", m.webSocket)
	return mux
}

func (m *monitor) checkOrigin(r *http.Request) bool {
	if m.hub.origins.allows(r) {
		return true
	}
	m.hub.log.Warnf("Blocked monitor connection from disallowed origin: %q", r.Header.Get("Origin"))
	return false
}

func (m *monitor) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Relay is running with %d active clients", m.registry.Len())
}

func (m *monitor) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries := m.registry.Entries()
	resp := statusResponse{
		Count:     len(entries),
		Observers: m.hub.Len(),
		Clients:   make([]statusClient, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Clients = append(resp.Clients, statusClient{Addr: e.Addr.String(), LastSeen: e.LastSeen})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		m.hub.log.Warnf("Error writing status response: %v", err)
	}
}

// webSocket upgrades the request and registers a read-only observer.
func (m *monitor) webSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.hub.log.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	o := NewObserver(conn, m.hub, r.RemoteAddr)
	if !m.hub.join(o) {
		_ = conn.Close()
	}
}
