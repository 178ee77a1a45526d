package engine

import (
	"context"
	"time"
)

// TickLoop drives the simulation: it invokes fn once per interval until
// its context is cancelled. fn is expected to run one engine tick and fan
// the snapshot out to whoever listens; the loop itself knows nothing about
// persistence or transport.
type TickLoop struct {
	interval time.Duration
	fn       func()
}

// NewTickLoop creates a tick loop with the given cadence.
func NewTickLoop(interval time.Duration, fn func()) *TickLoop {
	return &TickLoop{interval: interval, fn: fn}
}

// Start launches a background goroutine that ticks at the configured
// interval. It stops when ctx is cancelled.
func (l *TickLoop) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.fn()
			}
		}
	}()
}
