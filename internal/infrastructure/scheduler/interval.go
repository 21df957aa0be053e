package scheduler

import (
	"context"
	"sync"
	"time"

	"UnrestWatch/internal/ports"
)

// IntervalScheduler runs a job on a fixed interval, firing once immediately
// on start.
type IntervalScheduler struct {
	every time.Duration

	mu   sync.Mutex
	stop chan struct{}
}

var _ ports.Scheduler = (*IntervalScheduler)(nil)

// NewIntervalScheduler builds a scheduler with the given period; a
// non-positive period defaults to 24 hours.
func NewIntervalScheduler(every time.Duration) *IntervalScheduler {
	if every <= 0 {
		every = 24 * time.Hour
	}
	return &IntervalScheduler{every: every}
}

// Start begins ticking until Stop or context cancellation. Starting an
// already running scheduler is a no-op.
func (s *IntervalScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	s.stop = stop
	s.mu.Unlock()

	// The goroutine only touches its captured channel, never s.stop.
	go func() {
		ticker := time.NewTicker(s.every)
		defer ticker.Stop()
		job(time.Now())
		for {
			select {
			case t := <-ticker.C:
				job(t)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	return nil
}

// Stop halts the ticker goroutine. Safe to call more than once.
func (s *IntervalScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop == nil {
		return nil
	}
	close(s.stop)
	s.stop = nil
	return nil
}
