// Package server coordinates monitor observer registration, relay frame
// fan-out and observer cleanup via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const publishBuffer = 256

// Hub manages WebSocket observers of the relay and forwards every relay frame
// to them. Observers are read-only; they never inject messages into the relay.
type Hub struct {
	observers  map[*Observer]bool
	broadcast  chan []byte
	register   chan *Observer
	unregister chan *Observer
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        log.FieldLogger
	origins    originPolicy
}

// NewHub creates a Hub that accepts observers from the given origins.
// A nil logger falls back to the standard logrus logger.
func NewHub(logger log.FieldLogger, allowedOrigins []string) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		observers:  make(map[*Observer]bool),
		broadcast:  make(chan []byte, publishBuffer),
		register:   make(chan *Observer),
		unregister: make(chan *Observer),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        logger,
		origins:    newOriginPolicy(allowedOrigins, logger),
	}
}

// Publish queues a relay frame for every observer. It never blocks the
// caller; frames are dropped when the queue is full or the hub is stopped.
func (h *Hub) Publish(frame []byte) {
	payload := append([]byte(nil), frame...)
	select {
	case <-h.ctx.Done():
	case h.broadcast <- payload:
	default:
		h.log.Debug("Monitor queue full; dropping frame")
	}
}

// Len returns the number of connected observers.
func (h *Hub) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.observers)
}

func (h *Hub) join(o *Observer) bool {
	select {
	case h.register <- o:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) leave(o *Observer) {
	select {
	case h.unregister <- o:
	case <-h.ctx.Done():
	}
}

func (h *Hub) safeSend(o *Observer, message []byte) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.observers[o]
	if !exists || o.closed {
		return false
	}

	select {
	case o.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling observer registration,
// unregistration and frame fan-out until Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownObservers()
			return

		case o := <-h.register:
			h.mutex.Lock()
			o.closed = false
			h.observers[o] = true
			count := len(h.observers)
			h.mutex.Unlock()
			h.log.WithFields(log.Fields{"observer": o.id, "addr": o.addr}).
				Infof("Observer registered. Total observers: %d", count)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				o.writePump()
			}()
			go func() {
				defer h.wg.Done()
				o.readPump()
			}()

		case o := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.observers[o]; ok {
				delete(h.observers, o)
				o.closed = true
				count := len(h.observers)
				h.mutex.Unlock()
				close(o.send)
				h.log.WithField("observer", o.id).Infof("Observer unregistered. Total observers: %d", count)
			} else {
				h.mutex.Unlock()
			}

		case frame := <-h.broadcast:
			h.handleBroadcast(frame)
		}
	}
}

func (h *Hub) handleBroadcast(frame []byte) {
	var failed []*Observer
	for _, o := range h.snapshot() {
		if !h.safeSend(o, frame) {
			failed = append(failed, o)
		}
	}
	h.removeFailedObservers(failed)
}

func (h *Hub) snapshot() []*Observer {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	observers := make([]*Observer, 0, len(h.observers))
	for o := range h.observers {
		observers = append(observers, o)
	}
	return observers
}

// removeFailedObservers drops observers whose send buffer is full.
func (h *Hub) removeFailedObservers(failed []*Observer) {
	if len(failed) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, o := range failed {
		if _, exists := h.observers[o]; exists {
			delete(h.observers, o)
			o.closed = true
			channelsToClose = append(channelsToClose, o.send)
			h.log.WithField("observer", o.id).Warn("Observer removed due to full send buffer")
		}
	}
	h.mutex.Unlock()

	for _, ch := range channelsToClose {
		close(ch)
	}
}

// shutdownObservers unregisters every observer and closes its send channel
// and connection so both pumps return.
func (h *Hub) shutdownObservers() {
	h.mutex.Lock()
	observers := make([]*Observer, 0, len(h.observers))
	for o := range h.observers {
		delete(h.observers, o)
		o.closed = true
		observers = append(observers, o)
	}
	h.mutex.Unlock()

	for _, o := range observers {
		close(o.send)
		if o.conn == nil {
			continue
		}
		if err := o.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.log.WithField("observer", o.id).Warnf("Error closing observer connection: %v", err)
		}
	}
	h.log.Infof("Closed %d observer connections", len(observers))
}

// Shutdown stops Run and waits for observer goroutines, up to timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Debug("Hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some observers may still be running")
		return context.DeadlineExceeded
	}
}
