// Package server implements the UDP broadcast relay for gorelay.
//
// The implementation is organized into specialized files for configuration,
// the client registry, the relay engine, the expiry sweeper, the UDP server
// loop, and the optional WebSocket monitor to keep the codebase maintainable
// and testable as the project grows.
package server
