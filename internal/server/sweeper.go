package server

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Sweeper periodically evicts registry entries that have been silent for
// longer than the client timeout.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	log      log.FieldLogger
	now      func() time.Time
}

// NewSweeper creates a Sweeper. A nil logger falls back to the standard logrus logger.
func NewSweeper(registry *Registry, interval, timeout time.Duration, logger log.FieldLogger) *Sweeper {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Sweeper{
		registry: registry,
		interval: interval,
		timeout:  timeout,
		log:      logger,
		now:      time.Now,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("Sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs a single eviction pass and returns the number of evicted clients.
func (s *Sweeper) Sweep() int {
	evicted := s.registry.SweepExpired(s.now(), s.timeout)
	for _, addr := range evicted {
		s.log.WithField("addr", addr.String()).Infof("Client removed after %s of inactivity", s.timeout)
	}
	return len(evicted)
}
