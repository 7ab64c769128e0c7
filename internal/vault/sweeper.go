package vault

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper runs the periodic retention sweep in a background goroutine.
// Explicit purges after a response are best-effort; the sweep is the
// durable guarantee that no record outlives its namespace window.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *zap.Logger
	done     chan struct{}
	stopped  chan struct{}
}

// NewSweeper creates a sweeper over the given store. Call Start to begin
// sweeping and Close to stop.
func NewSweeper(store Store, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	go s.loop()
}

func (s *Sweeper) loop() {
	defer close(s.stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			removed, err := s.store.Sweep(ctx, time.Now())
			cancel()
			if err != nil {
				s.logger.Warn("retention sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Info("retention sweep removed expired mappings",
					zap.Int("removed", removed),
				)
			}
		case <-s.done:
			return
		}
	}
}

// Close stops the sweep loop and waits for it to exit. Safe to call once.
func (s *Sweeper) Close() {
	close(s.done)
	<-s.stopped
}
