// Package client implements the sending side of the relay protocol: it frames
// messages for the relay and hands back the plain-text frames it relays.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

// Client is a UDP chat participant bound to one relay server.
type Client struct {
	conn     *net.UDPConn
	server   *net.UDPAddr
	username string
}

// Dial opens a local UDP socket for talking to the relay at server.
func Dial(server, username string) (*Client, error) {
	if len(username) == 0 {
		return nil, errors.New("username is required")
	}
	if len(username) > protocol.MaxUsernameLen {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", protocol.ErrUsernameTooLong, len(username), protocol.MaxUsernameLen)
	}

	addr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		conn:     conn,
		server:   addr,
		username: username,
	}, nil
}

// Username returns the name frames are sent under.
func (c *Client) Username() string {
	return c.username
}

// LocalAddr returns the client's local socket address.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Send frames message and sends it to the relay.
func (c *Client) Send(message string) error {
	frame, err := protocol.EncodeClientFrame(c.username, message)
	if err != nil {
		return err
	}
	_, err = c.conn.WriteToUDP(frame, c.server)
	return err
}

// Join announces the client to the relay, which registers it as active.
func (c *Client) Join(text string) error {
	return c.Send(protocol.JoinMessage(text))
}

// Receive calls fn with every relay frame until ctx is cancelled or the
// socket is closed.
func (c *Client) Receive(ctx context.Context, fn func(text string)) error {
	buf := make([]byte, protocol.MaxFrameSize)
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			return err
		}
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		fn(string(buf[:n]))
	}
}

// Close releases the socket.
func (c *Client) Close() error {
	return c.conn.Close()
}
