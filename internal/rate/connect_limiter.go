package rate

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// ConnectLimiter caps how many connection attempts the whole run may start
// per second. It is shared by every session.
//
// A limiter created with a non-positive rate lets every attempt through.
type ConnectLimiter struct {
	limiter *rate.Limiter
	granted atomic.Int64
}

// NewConnectLimiter creates a limiter allowing perSecond attempts per second
// with the given burst. A burst below 1 is raised to 1.
func NewConnectLimiter(perSecond float64, burst int) *ConnectLimiter {
	if perSecond <= 0 {
		return &ConnectLimiter{}
	}
	if burst < 1 {
		burst = 1
	}
	return &ConnectLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Enabled reports whether attempts are actually being limited.
func (c *ConnectLimiter) Enabled() bool {
	return c.limiter != nil
}

// Wait blocks until an attempt may start or ctx is done.
func (c *ConnectLimiter) Wait(ctx context.Context) error {
	if c.limiter == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.granted.Add(1)
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	c.granted.Add(1)
	return nil
}

// Granted returns the number of attempts allowed so far.
func (c *ConnectLimiter) Granted() int64 {
	return c.granted.Load()
}
