// Package server decodes inbound datagrams and fans relay frames out to
// every other registered client via the Engine type.
package server

import (
	"fmt"
	"net/netip"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

// SendFunc delivers one relay frame to one client address.
type SendFunc func(frame []byte, dst netip.AddrPort) error

// Outcome describes what happened to a single inbound datagram.
type Outcome struct {
	Username  string
	Message   string
	Delivered int
	Evicted   []netip.AddrPort
	// Err is the decode error for a dropped datagram, nil otherwise.
	Err error
}

// Engine runs the per-datagram relay pipeline against a Registry.
type Engine struct {
	registry *Registry
	log      log.FieldLogger
	now      func() time.Time
	tap      func(frame []byte)
}

// NewEngine creates an Engine. A nil logger falls back to the standard logrus logger.
func NewEngine(registry *Registry, logger log.FieldLogger) *Engine {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Engine{
		registry: registry,
		log:      logger,
		now:      time.Now,
	}
}

// SetClock replaces the time source used for registry refreshes.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// SetTap registers fn to receive a copy of every relay frame. Call before
// the engine starts handling datagrams.
func (e *Engine) SetTap(fn func(frame []byte)) {
	e.tap = fn
}

// HandleInbound decodes raw, refreshes src in the registry and relays the
// message to every other registered client. Failures never propagate: bad
// frames are logged and dropped, unreachable targets are logged and removed.
func (e *Engine) HandleInbound(raw []byte, src netip.AddrPort, send SendFunc) Outcome {
	username, message, err := protocol.DecodeInbound(raw)
	if err != nil {
		e.log.WithFields(log.Fields{
			"addr":  src.String(),
			"bytes": len(raw),
		}).Warnf("Dropping datagram: %v", err)
		return Outcome{Err: err}
	}

	e.registry.Upsert(src, e.now())

	e.log.WithFields(log.Fields{
		"addr": src.String(),
		"user": username,
	}).Infof("Received message: %s", message)

	frame := protocol.EncodeRelay(username, message)
	out := Outcome{Username: username, Message: message}

	for _, target := range e.registry.Snapshot() {
		if target == src {
			continue
		}
		if err := send(frame, target); err != nil {
			err = fmt.Errorf("%w: %w", ErrTargetUnreachable, err)
			e.log.WithField("addr", target.String()).Warnf("Removing client: %v", err)
			if e.registry.Remove(target) {
				out.Evicted = append(out.Evicted, target)
			}
			continue
		}
		out.Delivered++
	}

	if e.tap != nil {
		e.tap(frame)
	}

	e.log.WithFields(log.Fields{
		"addr":      src.String(),
		"delivered": out.Delivered,
		"evicted":   len(out.Evicted),
	}).Debug("Relay complete")

	return out
}
