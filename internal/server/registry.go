// Package server tracks active relay clients in a Registry keyed by their
// source address.
package server

import (
	"net/netip"
	"sort"
	"sync"
	"time"
)

// Entry is a copy of one registry record.
type Entry struct {
	Addr     netip.AddrPort
	LastSeen time.Time
}

// Registry maps client addresses to the time a message was last received
// from them. All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	clients map[netip.AddrPort]time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[netip.AddrPort]time.Time),
	}
}

// Upsert inserts addr or refreshes its last-seen time. A refresh never moves
// lastSeen backwards, so handlers finishing out of order keep the newest time.
func (r *Registry) Upsert(addr netip.AddrPort, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.clients[addr]; ok && prev.After(now) {
		return
	}
	r.clients[addr] = now
}

// Snapshot returns a copy of all registered addresses.
func (r *Registry) Snapshot() []netip.AddrPort {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addrs := make([]netip.AddrPort, 0, len(r.clients))
	for addr := range r.clients {
		addrs = append(addrs, addr)
	}
	return addrs
}

// Entries returns a copy of every record, ordered by address.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.clients))
	for addr, seen := range r.clients {
		entries = append(entries, Entry{Addr: addr, LastSeen: seen})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Addr.Compare(entries[j].Addr) < 0
	})
	return entries
}

// LastSeen reports when addr was last refreshed.
func (r *Registry) LastSeen(addr netip.AddrPort) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen, ok := r.clients[addr]
	return seen, ok
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Remove deletes addr and reports whether it was present.
func (r *Registry) Remove(addr netip.AddrPort) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[addr]; !ok {
		return false
	}
	delete(r.clients, addr)
	return true
}

// SweepExpired deletes and returns every entry with now-lastSeen > timeout.
//
// Candidates are collected under the read lock and each one is re-checked
// under a short write lock before deletion, so upserts are never blocked for
// a full pass and an entry refreshed in between is kept.
func (r *Registry) SweepExpired(now time.Time, timeout time.Duration) []netip.AddrPort {
	r.mu.RLock()
	var stale []netip.AddrPort
	for addr, seen := range r.clients {
		if now.Sub(seen) > timeout {
			stale = append(stale, addr)
		}
	}
	r.mu.RUnlock()

	evicted := stale[:0]
	for _, addr := range stale {
		if r.removeIfExpired(addr, now, timeout) {
			evicted = append(evicted, addr)
		}
	}
	return evicted
}

func (r *Registry) removeIfExpired(addr netip.AddrPort, now time.Time, timeout time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen, ok := r.clients[addr]
	if !ok || now.Sub(seen) <= timeout {
		return false
	}
	delete(r.clients, addr)
	return true
}
