package cache

import (
	"context"
	"log/slog"

	"github.com/PolycarpusTack/papin-sub003/internal/domain/ports"
)

// StartCleanup starts the periodic expiry sweep. On the first start of a
// persistent cache the snapshot file is loaded. Calling it while the sweep
// is running does nothing.
func (c *Cache[K, V]) StartCleanup(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.sweeping() {
		return
	}

	if !c.loaded {
		c.loaded = true
		if n, err := c.Load(); err != nil {
			c.logger.Warn("Cache snapshot ignored, starting empty", slog.String("error", err.Error()))
		} else if n > 0 {
			c.logger.Info("Cache snapshot loaded", slog.Int("entries", n))
		}
	}

	// Drain a stale reschedule request left by a config update while stopped.
	select {
	case <-c.reschedule:
	default:
	}

	ticker := c.clock.NewTicker(c.Config().CleanupInterval())
	stop := make(chan struct{})
	done := make(chan struct{})
	c.stop = stop
	c.done = done

	go c.sweepLoop(ctx, ticker, stop, done)

	c.logger.Debug("Cache cleanup started", slog.Duration("interval", c.Config().CleanupInterval()))
}

// sweeping reports whether a sweep goroutine is alive. Must be called with
// runMu held.
func (c *Cache[K, V]) sweeping() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		// exited on its own after its context was cancelled
		return false
	default:
		return true
	}
}

// StopCleanup stops the sweep, waits for it to exit and flushes the
// snapshot. Stored entries are kept. The returned error is the snapshot
// error, if any.
func (c *Cache[K, V]) StopCleanup() error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.done == nil {
		return nil
	}

	close(c.stop)
	<-c.done
	c.stop = nil
	c.done = nil

	c.logger.Debug("Cache cleanup stopped")

	if err := c.Save(); err != nil {
		c.logger.Warn("Cache snapshot save failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (c *Cache[K, V]) sweepLoop(ctx context.Context, ticker ports.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-c.reschedule:
			ticker.Reset(c.Config().CleanupInterval())
		case <-ticker.C():
			c.sweep()
		}
	}
}

func (c *Cache[K, V]) sweep() {
	if removed := c.PurgeExpired(); removed > 0 {
		c.logger.Debug("Expired cache entries removed", slog.Int("removed", removed))
	}

	if !c.dirty.Load() {
		return
	}
	if err := c.Save(); err != nil {
		c.logger.Warn("Cache snapshot save failed", slog.String("error", err.Error()))
	}
}
