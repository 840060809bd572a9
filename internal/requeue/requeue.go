// Package requeue re-admits notifications left stranded in the "sending"
// state by a process restart back onto the delivery pipeline's queue.
package requeue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bakerapps/notifyd/internal/delivery"
	"github.com/bakerapps/notifyd/internal/metrics"
	"github.com/bakerapps/notifyd/internal/models"
)

// Readmitter is the subset of *pipeline.Pipeline the requeue loop needs:
// place an already-persisted notification back on the queue.
type Readmitter interface {
	Readmit(priority models.Priority, trackingID string)
}

// Requeue periodically (and optionally on startup) re-admits notifications
// stuck in "sending" with no recent attempt, recovering from a crash or
// restart that dropped them off the in-memory queue.
type Requeue struct {
	store      delivery.Store
	readmitter Readmitter
	interval   time.Duration
	onStartup  bool
	stuckAfter time.Duration
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// New constructs a Requeue loop.
func New(store delivery.Store, readmitter Readmitter, interval time.Duration, onStartup bool, stuckAfter time.Duration, m *metrics.Metrics, logger *zap.Logger) *Requeue {
	return &Requeue{
		store:      store,
		readmitter: readmitter,
		interval:   interval,
		onStartup:  onStartup,
		stuckAfter: stuckAfter,
		metrics:    m,
		logger:     logger,
	}
}

// Start runs the periodic re-admission loop until ctx is cancelled,
// performing an immediate pass first if configured to run on startup.
func (r *Requeue) Start(ctx context.Context) {
	r.logger.Info("requeue started",
		zap.Duration("interval", r.interval),
		zap.Bool("on_startup", r.onStartup),
	)

	if r.onStartup {
		if err := r.Run(); err != nil {
			r.logger.Error("startup requeue pass failed", zap.Error(err))
		}
	}

	if r.interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("requeue stopping", zap.Error(ctx.Err()))
			return
		case <-ticker.C:
			if err := r.Run(); err != nil {
				r.logger.Error("requeue pass failed", zap.Error(err))
			}
		}
	}
}

// Run performs a single re-admission pass: notifications in "sending" whose
// last attempt (or creation, if none was ever recorded) is older than
// stuckAfter are placed back on the queue at their stored priority. A
// re-admitted notification keeps accumulating attempts against its existing
// retry budget; this does not reset any counter.
func (r *Requeue) Run() error {
	stuck, err := r.store.ListStuck(r.stuckAfter)
	if err != nil {
		r.metrics.RequeueRunsTotal.WithLabelValues("error").Inc()
		return err
	}

	for _, n := range stuck {
		r.readmitter.Readmit(n.Priority, n.TrackingID)
		r.metrics.RequeueReadmittedTotal.Inc()
		r.logger.Warn("re-admitted stuck notification",
			zap.String("tracking_id", n.TrackingID),
			zap.String("priority", string(n.Priority)),
		)
	}

	r.metrics.RequeueRunsTotal.WithLabelValues("success").Inc()
	return nil
}
