// Package server implements the UDP relay: it owns the listening socket, the
// client registry, the expiry sweeper and the optional monitor.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const monitorShutdownTimeout = 5 * time.Second

// Server receives client datagrams and relays them to every other active client.
type Server struct {
	cfg      Config
	log      log.FieldLogger
	conn     *net.UDPConn
	registry *Registry
	engine   *Engine
	sweeper  *Sweeper

	hub       *Hub
	monitor   *http.Server
	monitorLn net.Listener

	// slots bounds concurrent handlers when MaxWorkers > 0.
	slots     chan struct{}
	handlers  sync.WaitGroup
	sendFn    SendFunc
	closeOnce sync.Once
}

// New binds the relay socket (and the monitor listener when configured).
// Any failure to acquire a listening address is reported as ErrBind.
func New(cfg *Config, logger log.FieldLogger) (*Server, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	c := sanitizeConfig(*cfg)

	udpAddr, err := net.ResolveUDPAddr("udp", c.Addr())
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %w", ErrBind, c.Addr(), err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: listen %s: %w", ErrBind, c.Addr(), err)
	}

	registry := NewRegistry()
	s := &Server{
		cfg:      c,
		log:      logger,
		conn:     conn,
		registry: registry,
		engine:   NewEngine(registry, logger),
		sweeper:  NewSweeper(registry, c.SweepInterval, c.ClientTimeout, logger),
	}
	s.sendFn = s.send
	if c.MaxWorkers > 0 {
		s.slots = make(chan struct{}, c.MaxWorkers)
	}

	if c.MonitorAddr != "" {
		ln, err := net.Listen("tcp", c.MonitorAddr)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: monitor %s: %w", ErrBind, c.MonitorAddr, err)
		}
		s.hub = NewHub(logger, c.AllowedOrigins)
		s.monitor = CreateServer(c.MonitorAddr, NewMonitorMux(s.hub, registry))
		s.monitorLn = ln
		s.engine.SetTap(s.hub.Publish)
	}

	return s, nil
}

// LocalAddr returns the bound UDP address.
func (s *Server) LocalAddr() netip.AddrPort {
	return s.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// MonitorAddr returns the bound monitor address, or "" when the monitor is disabled.
func (s *Server) MonitorAddr() string {
	if s.monitorLn == nil {
		return ""
	}
	return s.monitorLn.Addr().String()
}

// Registry returns the server's client registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// Close releases the listening sockets. Serve returns once they are closed.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
		if s.monitorLn != nil {
			if lerr := s.monitorLn.Close(); lerr != nil && !errors.Is(lerr, net.ErrClosed) && err == nil {
				err = lerr
			}
		}
	})
	return err
}

// Serve runs the relay until ctx is cancelled. On return the sweeper, the
// monitor and every in-flight handler have stopped.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var background sync.WaitGroup

	background.Add(1)
	go func() {
		defer background.Done()
		s.sweeper.Run(ctx)
	}()

	if s.monitor != nil {
		go s.hub.Run()
		background.Add(1)
		go func() {
			defer background.Done()
			if err := s.monitor.Serve(s.monitorLn); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
				s.log.Errorf("Monitor HTTP server stopped: %v", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	s.logStartup()

	err := s.readLoop(ctx)

	cancel()
	s.handlers.Wait()
	if s.monitor != nil {
		_ = ShutdownServer(s.monitor, monitorShutdownTimeout, s.log)
		_ = s.hub.Shutdown(monitorShutdownTimeout)
	}
	background.Wait()

	s.log.Info("Relay stopped")
	return err
}

func (s *Server) logStartup() {
	s.log.WithFields(log.Fields{
		"timeout":     s.cfg.ClientTimeout,
		"sweep":       s.cfg.SweepInterval,
		"max_workers": s.cfg.MaxWorkers,
	}).Infof("Relay listening on %s", s.conn.LocalAddr())

	if isUnspecifiedHost(s.cfg.BindAddress) {
		if addr, err := lanAddress(int(s.LocalAddr().Port())); err == nil {
			s.log.Infof("Reachable on the local network at %s", addr)
		} else {
			s.log.Debugf("Local network address discovery failed: %v", err)
		}
	}

	if s.monitorLn != nil {
		s.log.Infof("Monitor listening on http://%s", s.monitorLn.Addr())
	}
}

func (s *Server) readLoop(ctx context.Context) error {
	buf := make([]byte, s.cfg.MaxDatagramSize)
	for {
		n, addr, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warnf("Error reading datagram: %v", err)
			continue
		}

		data := append([]byte(nil), buf[:n]...)
		if !s.dispatch(ctx, data, normalizeAddr(addr)) {
			return nil
		}
	}
}

// dispatch hands a datagram to its own goroutine, waiting for a free slot
// first when the worker count is bounded. It returns false once ctx is done.
func (s *Server) dispatch(ctx context.Context, data []byte, src netip.AddrPort) bool {
	if s.slots != nil {
		select {
		case s.slots <- struct{}{}:
		case <-ctx.Done():
			return false
		}
	}

	s.handlers.Add(1)
	go func() {
		defer s.handlers.Done()
		if s.slots != nil {
			defer func() { <-s.slots }()
		}
		s.handle(data, src)
	}()
	return true
}

func (s *Server) handle(data []byte, src netip.AddrPort) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("addr", src.String()).Errorf("Recovered from panic while relaying: %v", r)
		}
	}()

	s.engine.HandleInbound(data, src, s.sendFn)
}

func (s *Server) send(frame []byte, dst netip.AddrPort) error {
	_, err := s.conn.WriteToUDPAddrPort(frame, dst)
	return err
}
