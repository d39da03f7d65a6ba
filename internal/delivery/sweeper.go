package delivery

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper runs Cleanup on a fixed interval until its context is cancelled.
type Sweeper struct {
	pipeline *Pipeline
	interval time.Duration
	done     chan struct{}
}

func NewSweeper(p *Pipeline, interval time.Duration) *Sweeper {
	return &Sweeper{
		pipeline: p,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the periodic sweep ticker.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		defer close(s.done)
		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until the sweeper goroutine has exited.
func (s *Sweeper) Wait() {
	<-s.done
}

func (s *Sweeper) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := s.pipeline.Cleanup(ctx); err != nil {
		slog.Error("scheduled cleanup failed", "error", err)
	}
}
