// Package server defines shared error values and utility helpers that are
// reused across the relay, the UDP loop and the monitor.
package server

import (
	"errors"
	"net/netip"
	"strings"
)

var (
	// ErrBind is returned when the relay cannot acquire its listening socket.
	ErrBind = errors.New("bind failure")
	// ErrTargetUnreachable wraps a failed send to a single relay target.
	ErrTargetUnreachable = errors.New("relay target unreachable")
)

// normalizeAddr unmaps IPv4-mapped IPv6 addresses so a client has exactly one
// registry key regardless of the socket family it arrived on.
func normalizeAddr(addr netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
