package vault

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

// countingStore counts Sweep calls.
type countingStore struct {
	MemoryStore
	sweeps atomic.Int64
}

func (s *countingStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.sweeps.Add(1)
	return 0, nil
}

func TestSweeper_RunsPeriodically(t *testing.T) {
	store := &countingStore{}
	sw := NewSweeper(store, 10*time.Millisecond, zap.NewNop())
	sw.Start()

	deadline := time.Now().Add(2 * time.Second)
	for store.sweeps.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	sw.Close()

	if got := store.sweeps.Load(); got < 3 {
		t.Fatalf("expected at least 3 sweeps, got %d", got)
	}
}

func TestSweeper_CloseStopsLoop(t *testing.T) {
	store := &countingStore{}
	sw := NewSweeper(store, time.Millisecond, zap.NewNop())
	sw.Start()
	time.Sleep(10 * time.Millisecond)
	sw.Close()

	after := store.sweeps.Load()
	time.Sleep(20 * time.Millisecond)
	if got := store.sweeps.Load(); got != after {
		t.Fatalf("sweeper kept running after Close: %d -> %d", after, got)
	}
}
