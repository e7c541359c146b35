// Package rate provides the pacing primitives used by client sessions.
package rate

import (
	"context"
	"sync/atomic"
	"time"
)

// Pacer enforces a fixed delay between consecutive messages of one session.
//
// Unlike a leaky bucket, a Pacer keeps no schedule: every call to Wait
// sleeps for the full interval from the moment it is called. Time spent
// publishing is therefore added to the period, and a slow broker is never
// "caught up" with a burst.
//
// # Thread Safety
//
// A Pacer is owned by the goroutine of a single session. Stats may be read
// from other goroutines.
//
// # Example
//
//	p := NewPacer(100 * time.Millisecond)
//
//	for i := 1; i <= n; i++ {
//	    publish(i)
//	    if err := p.Wait(ctx); err != nil {
//	        return err // shut down
//	    }
//	}
type Pacer struct {
	interval time.Duration

	waits     atomic.Int64
	waited    atomic.Int64 // nanoseconds
	cancelled atomic.Int64
}

// NewPacer creates a pacer with the given inter-message interval.
// Negative intervals are treated as zero.
func NewPacer(interval time.Duration) *Pacer {
	if interval < 0 {
		interval = 0
	}
	return &Pacer{interval: interval}
}

// Interval returns the configured delay.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// Wait suspends the caller for the configured interval.
//
// Returns:
//   - nil if the full interval elapsed
//   - ctx.Err() if the context was cancelled first (or already was)
func (p *Pacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		p.cancelled.Add(1)
		return err
	}
	p.waits.Add(1)
	if p.interval == 0 {
		return nil
	}

	start := time.Now()
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		p.waited.Add(int64(time.Since(start)))
		p.cancelled.Add(1)
		return ctx.Err()
	case <-timer.C:
		p.waited.Add(int64(time.Since(start)))
		return nil
	}
}

// Stats returns statistics about the pacer's operation.
func (p *Pacer) Stats() PacerStats {
	return PacerStats{
		Interval:    p.interval,
		Waits:       p.waits.Load(),
		TotalWaited: time.Duration(p.waited.Load()),
		Cancelled:   p.cancelled.Load(),
	}
}

// PacerStats contains statistics about a pacer.
type PacerStats struct {
	Interval    time.Duration `json:"interval"`    // Configured delay
	Waits       int64         `json:"waits"`       // Wait calls that started sleeping
	TotalWaited time.Duration `json:"totalWaited"` // Time spent inside Wait
	Cancelled   int64         `json:"cancelled"`   // Waits cut short by cancellation
}
