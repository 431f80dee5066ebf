package profilesync

import (
	"context"
	"time"
)

// Run syncs on a timer until ctx is done. The period is recomputed after every
// tick so it grows with consecutive failures.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("profile sync loop started", "base_period", c.cfg.BasePeriod, "max_period", c.cfg.MaxPeriod)
	defer c.logger.Info("profile sync loop stopped")

	if c.cfg.SyncOnStart {
		c.Sync(ctx, false)
	}

	timer := time.NewTimer(c.Period())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			c.Sync(ctx, false)
			timer.Reset(c.Period())
		}
	}
}
