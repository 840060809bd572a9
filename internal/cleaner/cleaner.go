// Package cleaner implements the periodic cleanup loop that removes old,
// terminal-state notifications (and their delivery attempts) from the
// store to prevent unbounded growth of the notifications/delivery_attempts
// tables.
package cleaner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bakerapps/notifyd/internal/config"
	"github.com/bakerapps/notifyd/internal/delivery"
	"github.com/bakerapps/notifyd/internal/metrics"
)

// Cleaner periodically removes notifications that reached a terminal status
// (delivered, failed, bounced) older than the configured retention period.
type Cleaner struct {
	store   delivery.Store
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewCleaner creates a new Cleaner with the provided dependencies.
func NewCleaner(store delivery.Store, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *Cleaner {
	return &Cleaner{
		store:   store,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// Start begins the cleanup loop, running at the configured cleanup interval.
// The loop stops when ctx is cancelled.
func (c *Cleaner) Start(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Retention.CleanupInterval.Duration)
	defer ticker.Stop()

	c.logger.Info("cleaner started",
		zap.Duration("cleanup_interval", c.cfg.Retention.CleanupInterval.Duration),
		zap.Duration("retention_period", c.cfg.Retention.RetentionPeriod.Duration),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cleaner stopping", zap.Error(ctx.Err()))
			return
		case <-ticker.C:
			if err := c.Cleanup(ctx); err != nil {
				c.logger.Error("cleanup failed", zap.Error(err))
			}
		}
	}
}

// Cleanup performs a single cleanup pass. It removes notifications in a
// terminal status created before the retention cutoff, runs an incremental
// vacuum to reclaim space, and updates metrics.
func (c *Cleaner) Cleanup(ctx context.Context) error {
	start := time.Now()

	select {
	case <-ctx.Done():
		c.metrics.CleanupRunsTotal.WithLabelValues("interrupted").Inc()
		return ctx.Err()
	default:
	}

	cutoff := time.Now().UTC().Add(-c.cfg.Retention.RetentionPeriod.Duration)
	deleted, err := c.store.DeleteOlderThan(cutoff)
	if err != nil {
		c.metrics.CleanupRunsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("deleting notifications older than %s: %w", cutoff, err)
	}

	c.metrics.CleanupRecordsDeleted.Add(float64(deleted))

	if deleted == 0 {
		c.logger.Debug("no notifications eligible for cleanup")
		c.metrics.CleanupRunsTotal.WithLabelValues("success").Inc()
		c.metrics.CleanupDuration.Observe(time.Since(start).Seconds())
		return nil
	}

	// Run incremental vacuum to reclaim disk space.
	if err := c.store.RunIncrementalVacuum(); err != nil {
		c.logger.Error("incremental vacuum failed", zap.Error(err))
		// Not a fatal error; cleanup was still successful.
	}

	duration := time.Since(start)
	c.metrics.CleanupDuration.Observe(duration.Seconds())
	c.metrics.CleanupRunsTotal.WithLabelValues("success").Inc()

	c.logger.Info("cleanup completed",
		zap.Int("deleted", deleted),
		zap.Duration("duration", duration),
	)

	return nil
}
