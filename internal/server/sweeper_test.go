package server

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

// TestSweeperSweep verifies a single pass evicts stale clients and logs each one.
func TestSweeperSweep(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := NewRegistry()
	now := time.Unix(100_000, 0)

	stale := testAddr(t, "10.0.0.1:1000")
	fresh := testAddr(t, "10.0.0.2:1000")
	r.Upsert(stale, now.Add(-11*time.Minute))
	r.Upsert(fresh, now.Add(-9*time.Minute))

	s := NewSweeper(r, time.Minute, 10*time.Minute, logger)
	s.now = func() time.Time { return now }

	if n := s.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if _, ok := r.LastSeen(stale); ok {
		t.Error("stale client still registered")
	}
	if _, ok := r.LastSeen(fresh); !ok {
		t.Error("fresh client was evicted")
	}
	if len(hook.AllEntries()) != 1 || hook.LastEntry().Data["addr"] != stale.String() {
		t.Errorf("expected one eviction log for %v, got %d entries", stale, len(hook.AllEntries()))
	}
}

// TestSweeperRunStopsOnCancel verifies the periodic loop evicts on its own
// and exits once the context is cancelled.
func TestSweeperRunStopsOnCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	r := NewRegistry()
	r.Upsert(testAddr(t, "10.0.0.1:1000"), time.Now().Add(-time.Hour))

	s := NewSweeper(r, 5*time.Millisecond, time.Minute, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for r.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.Len() != 0 {
		t.Error("sweeper did not evict the stale client")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
