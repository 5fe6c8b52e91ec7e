// Package server manages individual monitor observers, handling read/write
// pumps and lifecycle control for each WebSocket connection.
package server

import (
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	observerReadLimit = 512
	observerPongWait  = 60 * time.Second
	observerPingEvery = 54 * time.Second
	observerWriteWait = 10 * time.Second
)

// Observer is a WebSocket connection that receives every relay frame.
type Observer struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	addr   string
	closed bool
	log    log.FieldLogger
}

// NewObserver creates an Observer for conn with a fresh id. The send channel
// is buffered so a briefly slow observer does not lose frames.
func NewObserver(conn *websocket.Conn, hub *Hub, addr string) *Observer {
	if conn != nil {
		conn.SetReadLimit(observerReadLimit)
	}
	id := uuid.NewString()
	return &Observer{
		id:   id,
		conn: conn,
		send: make(chan []byte, 256),
		hub:  hub,
		addr: addr,
		log:  hub.log.WithFields(log.Fields{"observer": id, "addr": addr}),
	}
}

// ID returns the observer's unique id.
func (o *Observer) ID() string {
	return o.id
}

func (o *Observer) setupReadConnection() {
	if err := o.conn.SetReadDeadline(time.Now().Add(observerPongWait)); err != nil {
		o.log.Warnf("Error setting initial read deadline: %v", err)
	}
	o.conn.SetPongHandler(func(string) error {
		if err := o.conn.SetReadDeadline(time.Now().Add(observerPongWait)); err != nil {
			o.log.Warnf("Error setting read deadline in pong handler: %v", err)
		}
		return nil
	})
}

// logReadError logs why the read loop is ending.
func (o *Observer) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		o.log.Infof("Observer message exceeded maximum size of %d bytes", observerReadLimit)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		o.log.Infof("Observer disconnected: %v", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		o.log.Debugf("Observer connection closed: %v", err)
	default:
		o.log.Warnf("Observer read error: %v", err)
	}
}

// readPump discards anything the observer sends and detects disconnects.
func (o *Observer) readPump() {
	defer func() {
		o.hub.leave(o)
		if err := o.conn.Close(); err != nil && !isExpectedCloseError(err) {
			o.log.Warnf("Error closing connection in readPump: %v", err)
		}
	}()

	o.setupReadConnection()

	for {
		if _, _, err := o.conn.ReadMessage(); err != nil {
			o.logReadError(err)
			return
		}
	}
}

func (o *Observer) writePump() {
	ticker := time.NewTicker(observerPingEvery)
	defer func() {
		ticker.Stop()
		if err := o.conn.Close(); err != nil && !isExpectedCloseError(err) {
			o.log.Warnf("Error closing connection in writePump: %v", err)
		}
	}()

	for {
		select {
		case frame, ok := <-o.send:
			if !o.writeFrame(frame, ok) {
				return
			}
		case <-ticker.C:
			if !o.writePing() {
				return
			}
		case <-o.hub.ctx.Done():
			return
		}
	}
}

// writeFrame writes one relay frame, or a close message once send is closed.
func (o *Observer) writeFrame(frame []byte, ok bool) bool {
	if err := o.conn.SetWriteDeadline(time.Now().Add(observerWriteWait)); err != nil {
		o.log.Warnf("Error setting write deadline: %v", err)
		return false
	}

	if !ok {
		if err := o.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			o.log.Warnf("Error writing close message: %v", err)
		}
		return false
	}

	if err := o.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		o.log.Warnf("Error writing frame: %v", err)
		return false
	}
	return true
}

func (o *Observer) writePing() bool {
	if err := o.conn.SetWriteDeadline(time.Now().Add(observerWriteWait)); err != nil {
		o.log.Warnf("Error setting write deadline for ping: %v", err)
		return false
	}
	if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		o.log.Warnf("Error writing ping message: %v", err)
		return false
	}
	return true
}
