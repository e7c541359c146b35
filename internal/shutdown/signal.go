// Package shutdown provides the run-wide cooperative cancellation signal.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
)

// Signal is a set-once cancellation flag shared by every task of a run.
//
// The zero value is not usable; create one with New. Set may be called from
// any goroutine any number of times; only the first call has an effect.
type Signal struct {
	once   sync.Once
	ch     chan struct{}
	mu     sync.RWMutex
	reason string
}

// New creates an unset Signal.
func New() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Set transitions the signal from unset to set.
//
// Returns true if this call performed the transition, false if the signal
// was already set.
func (s *Signal) Set(reason string) bool {
	fired := false
	s.once.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.ch)
		fired = true
	})
	return fired
}

// IsSet reports whether the signal has been set.
func (s *Signal) IsSet() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once the signal is set.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Reason returns the reason passed to the first Set call.
func (s *Signal) Reason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// Context returns a context that is cancelled when either parent is done or
// the signal is set. A parent cancellation also sets the signal.
func (s *Signal) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-s.ch:
			cancel()
		case <-ctx.Done():
			if parent.Err() != nil {
				s.Set("context cancelled")
			}
		}
	}()
	return ctx, cancel
}

// NotifyOnInterrupt sets the signal on SIGINT or SIGTERM.
//
// The returned stop function releases the OS signal registration.
func (s *Signal) NotifyOnInterrupt(logger zerolog.Logger) (stop func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-quit:
			logger.Warn().
				Str("signal", sig.String()).
				Msg("Received interrupt, shutting down")
			s.Set("interrupt")
		case <-s.ch:
		case <-done:
		}
	}()

	var stopOnce sync.Once
	return func() {
		stopOnce.Do(func() {
			signal.Stop(quit)
			close(done)
		})
	}
}
