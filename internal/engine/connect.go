package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/wesleyorama2/surge/internal/rate"
	"github.com/wesleyorama2/surge/internal/session"
)

// ErrBreakerOpen is wrapped into the ConnectError of attempts rejected by an
// open connect circuit breaker.
var ErrBreakerOpen = errors.New("connect circuit breaker open")

// connectParams are the broker coordinates every session connects to.
type connectParams struct {
	address string
	port    int
	timeout time.Duration
}

// connectGate is the single path through which sessions connect. It applies
// the run-wide connect rate and, when enabled, a circuit breaker that fails
// attempts fast after repeated consecutive failures.
type connectGate struct {
	params  connectParams
	limiter *rate.ConnectLimiter
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

func newConnectGate(params connectParams, limiter *rate.ConnectLimiter, threshold int, resetAfter time.Duration, logger zerolog.Logger) *connectGate {
	g := &connectGate{
		params:  params,
		limiter: limiter,
		logger:  logger,
	}
	if threshold <= 0 {
		return g
	}

	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "connect",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     resetAfter,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		IsSuccessful: func(err error) bool {
			// a shutdown is not the broker's fault
			return err == nil || errors.Is(err, session.ErrShutdown)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Connect circuit breaker state changed")
		},
	})
	return g
}

// connect waits for a connect slot and then connects s. Every failure is
// returned as a *session.ConnectError.
func (g *connectGate) connect(ctx context.Context, s *session.Session) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return &session.ConnectError{ClientID: s.ID, Err: session.ErrShutdown}
	}

	attempt := func() (interface{}, error) {
		return nil, s.Connect(ctx, g.params.address, g.params.port, g.params.timeout)
	}
	if g.breaker == nil {
		_, err := attempt()
		return err
	}

	_, err := g.breaker.Execute(attempt)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &session.ConnectError{
			ClientID: s.ID,
			Err:      fmt.Errorf("%w: %v", ErrBreakerOpen, err),
		}
	}
	return err
}

// breakerState reports the breaker state, or "disabled".
func (g *connectGate) breakerState() string {
	if g.breaker == nil {
		return "disabled"
	}
	return g.breaker.State().String()
}
