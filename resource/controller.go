// Package resource bounds what the distributed coordinator may have in
// flight on the transport at once.
package resource

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrInflightBudgetExceeded is returned when a single reservation is larger
// than the configured in-flight limit and could never be granted.
var ErrInflightBudgetExceeded = errors.New("resource: reservation exceeds in-flight limit")

// Config holds transport resource limits.
type Config struct {
	// InflightLimitBytes is the hard limit for request bytes handed to the
	// transport but not yet answered. The budget reserves request bytes only;
	// response frames are not counted against it. A single reservation larger
	// than the limit fails fast with ErrInflightBudgetExceeded. If 0, no hard
	// limit is enforced (only tracking).
	InflightLimitBytes int64

	// SendLimitBytesPerSec is the maximum outbound throughput.
	// If 0, unlimited.
	SendLimitBytesPerSec int64
}

// Controller manages the transport budget for one coordinator.
type Controller struct {
	cfg Config

	inflightSem  *semaphore.Weighted // nil if unlimited
	inflightUsed atomic.Int64

	sendLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	c := &Controller{cfg: cfg}

	if cfg.InflightLimitBytes > 0 {
		c.inflightSem = semaphore.NewWeighted(cfg.InflightLimitBytes)
	}

	if cfg.SendLimitBytesPerSec > 0 {
		c.sendLimiter = rate.NewLimiter(rate.Limit(cfg.SendLimitBytesPerSec), int(cfg.SendLimitBytesPerSec))
	}

	return c
}

// AcquireInflight reserves in-flight capacity for a frame. If a hard limit
// is configured and usage would exceed it, this blocks until capacity is
// released or ctx is canceled. Reservations that could never be granted
// fail immediately instead of parking forever.
func (c *Controller) AcquireInflight(ctx context.Context, bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.inflightSem != nil {
		if bytes > c.cfg.InflightLimitBytes {
			return fmt.Errorf("%w: %d bytes against a %d byte limit", ErrInflightBudgetExceeded, bytes, c.cfg.InflightLimitBytes)
		}
		if err := c.inflightSem.Acquire(ctx, bytes); err != nil {
			return err
		}
	}

	c.inflightUsed.Add(bytes)
	return nil
}

// ReleaseInflight releases reserved in-flight capacity.
func (c *Controller) ReleaseInflight(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.inflightSem != nil {
		c.inflightSem.Release(bytes)
	}
	c.inflightUsed.Add(-bytes)
}

// InflightBytes returns the bytes currently in flight.
func (c *Controller) InflightBytes() int64 {
	if c == nil {
		return 0
	}
	return c.inflightUsed.Load()
}

// AcquireSend waits until the send limiter allows the specified number of
// bytes onto the wire.
func (c *Controller) AcquireSend(ctx context.Context, bytes int) error {
	if c == nil || c.sendLimiter == nil {
		return nil
	}
	return c.sendLimiter.WaitN(ctx, bytes)
}
