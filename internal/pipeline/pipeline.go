// Package pipeline wires the priority queue, worker pool, circuit breaker,
// rate limiter, renderer, and channel adapters into the end-to-end delivery
// path: admit a notification, queue it, and drive it to a terminal state.
package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bakerapps/notifyd/internal/breaker"
	"github.com/bakerapps/notifyd/internal/channel"
	"github.com/bakerapps/notifyd/internal/delivery"
	"github.com/bakerapps/notifyd/internal/metrics"
	"github.com/bakerapps/notifyd/internal/models"
	"github.com/bakerapps/notifyd/internal/queue"
	"github.com/bakerapps/notifyd/internal/ratelimit"
	"github.com/bakerapps/notifyd/internal/render"
	"github.com/bakerapps/notifyd/internal/retry"
)

// rateLimitRetryDelay is how long a worker sleeps before re-enqueuing an
// entry denied by the rate limiter, rather than busy-looping on it.
const rateLimitRetryDelay = 500 * time.Millisecond

// Pipeline owns the in-memory queue, the delay wheel feeding it, and the
// worker goroutines that drain it.
type Pipeline struct {
	store    delivery.Store
	breakers *breaker.Registry
	limiter  *ratelimit.Limiter // nil disables rate limiting
	channels *channel.Registry
	metrics  *metrics.Metrics
	logger   *zap.Logger

	queue   *queue.Queue
	delayed *queue.DelayWheel
	workers int

	wg sync.WaitGroup
}

// Config bundles the dependencies a Pipeline needs beyond the worker count.
type Config struct {
	Workers  int
	Store    delivery.Store
	Breakers *breaker.Registry
	Limiter  *ratelimit.Limiter
	Channels *channel.Registry
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// New constructs a Pipeline with a fresh queue and delay wheel. Start must
// be called to begin draining it.
func New(cfg Config) *Pipeline {
	q := queue.New()
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		store:    cfg.Store,
		breakers: cfg.Breakers,
		limiter:  cfg.Limiter,
		channels: cfg.Channels,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		queue:    q,
		delayed:  queue.NewDelayWheel(q),
		workers:  workers,
	}
}

// Admit persists a new notification and places it on the queue at its
// priority rank.
func (p *Pipeline) Admit(n *models.Notification) error {
	if err := p.store.CreateNotification(n); err != nil {
		return err
	}
	p.metrics.NotificationsAcceptedTotal.WithLabelValues(string(n.Channel), string(n.Priority)).Inc()
	p.enqueue(n.Priority.Rank(), n.TrackingID)
	return nil
}

// Readmit places an already-persisted notification back on the queue,
// without re-creating it. Used by the requeue component to recover
// notifications stuck in "sending" across a restart.
func (p *Pipeline) Readmit(priority models.Priority, trackingID string) {
	p.enqueue(priority.Rank(), trackingID)
}

func (p *Pipeline) enqueue(rank int, trackingID string) {
	p.queue.Push(rank, trackingID)
	p.reportDepth()
}

func (p *Pipeline) reportDepth() {
	for rank, depth := range p.queue.DepthByPriority() {
		p.metrics.QueueDepth.WithLabelValues(priorityLabel(rank)).Set(float64(depth))
	}
}

func priorityLabel(rank int) string {
	switch rank {
	case 0:
		return "critical"
	case 1:
		return "high"
	case 3:
		return "low"
	default:
		return "normal"
	}
}

// Start launches the worker goroutines. It returns immediately; workers run
// until ctx is cancelled or Stop is called.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}
}

// Stop closes the queue and delay wheel and waits for every worker to drain
// and exit.
func (p *Pipeline) Stop() {
	p.queue.Close()
	p.delayed.Stop()
	p.wg.Wait()
}

func (p *Pipeline) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()
	label := strconv.Itoa(id)

	for {
		entry, ok := p.queue.Pop(ctx)
		if !ok {
			return
		}
		p.reportDepth()

		p.metrics.WorkerBusy.WithLabelValues(label).Set(1)
		start := time.Now()
		p.process(ctx, entry)
		p.metrics.WorkerProcessingDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
		p.metrics.WorkerBusy.WithLabelValues(label).Set(0)
	}
}

// process implements the per-entry worker algorithm: breaker check, rate
// limit check, render, dispatch, and outcome recording with retry
// scheduling on transient failure.
func (p *Pipeline) process(ctx context.Context, entry queue.Entry) {
	n, _, err := p.store.GetNotification(entry.TrackingID)
	if err != nil {
		p.logger.Error("loading notification for dispatch", zap.String("tracking_id", entry.TrackingID), zap.Error(err))
		return
	}
	if n == nil {
		p.logger.Warn("queue entry referenced unknown notification", zap.String("tracking_id", entry.TrackingID))
		return
	}

	attemptNumber := n.Attempts + 1
	plan := retry.PlanFor(n.Priority)

	done, err := p.breakers.Allow(n.Recipient)
	if err != nil {
		p.metrics.BreakerRejectionsTotal.WithLabelValues(n.Recipient).Inc()
		p.recordAttempt(n.TrackingID, attemptNumber, models.AttemptFailed, "circuit_open", nil, 0)
		p.metrics.RecordDelivery(string(n.Channel), "circuit_open", 0)
		return
	}

	if p.limiter != nil && !p.limiter.Allow("recipient:"+n.Recipient, 1) {
		p.metrics.RateLimiterDeniedTotal.WithLabelValues(n.Recipient).Inc()
		time.Sleep(rateLimitRetryDelay)
		p.enqueue(entry.PriorityRank, entry.TrackingID)
		return
	}

	if err := p.store.UpdateStatus(n.TrackingID, models.StatusSending); err != nil {
		p.logger.Error("marking notification sending", zap.String("tracking_id", n.TrackingID), zap.Error(err))
	}

	req := n.ToRequest()
	rendered, err := p.render(req)
	if err != nil {
		done(false)
		p.metrics.RenderErrorsTotal.WithLabelValues(string(n.Channel)).Inc()
		p.recordAttempt(n.TrackingID, attemptNumber, models.AttemptFailed, err.Error(), nil, 0)
		p.metrics.RecordDelivery(string(n.Channel), "failed", 0)
		return
	}

	adapter, err := p.channels.Get(n.Channel)
	if err != nil {
		done(false)
		p.recordAttempt(n.TrackingID, attemptNumber, models.AttemptFailed, err.Error(), nil, 0)
		p.metrics.RecordDelivery(string(n.Channel), "failed", 0)
		return
	}

	sendStart := time.Now()
	meta, sendErr := adapter.Send(ctx, req, rendered)
	latency := time.Since(sendStart)

	if sendErr == nil {
		done(true)
		p.recordAttempt(n.TrackingID, attemptNumber, models.AttemptDelivered, "", responseCode(meta), latency.Milliseconds())
		p.metrics.RecordDelivery(string(n.Channel), "delivered", latency.Seconds())
		p.metrics.DeliveryAttemptsPerNotification.WithLabelValues(string(n.Channel)).Observe(float64(attemptNumber))
		return
	}

	done(false)
	p.recordAttempt(n.TrackingID, attemptNumber, models.AttemptFailed, sendErr.Error(), responseCode(meta), latency.Milliseconds())
	p.metrics.RecordDelivery(string(n.Channel), "failed", latency.Seconds())

	var permErr *channel.PermanentError
	if errors.As(sendErr, &permErr) {
		p.metrics.DeliveryAttemptsPerNotification.WithLabelValues(string(n.Channel)).Observe(float64(attemptNumber))
		return
	}

	if attemptNumber >= plan.MaxAttempts {
		p.metrics.RetriesExhaustedTotal.WithLabelValues(string(n.Channel), string(n.Priority)).Inc()
		p.metrics.DeliveryAttemptsPerNotification.WithLabelValues(string(n.Channel)).Observe(float64(attemptNumber))
		return
	}

	delay := plan.NextDelay(attemptNumber + 1)
	p.metrics.DelayedReenqueueTotal.WithLabelValues(string(n.Channel), string(n.Priority)).Inc()
	p.delayed.Schedule(entry.PriorityRank, entry.TrackingID, delay)
}

// render resolves the notification's content, either via its template
// (identity lookup falling back to name lookup) or its inline content, and
// renders it. Any failure here is treated as a permanent error: a broken
// template or missing variable will not be fixed by retrying.
func (p *Pipeline) render(req *models.NotificationRequest) (*models.RenderedContent, error) {
	if req.TemplateID != "" {
		tmpl, err := p.store.GetTemplateByID(req.TemplateID)
		if err != nil {
			return nil, err
		}
		if tmpl == nil {
			tmpl, err = p.store.GetTemplateByName(req.TemplateID)
			if err != nil {
				return nil, err
			}
		}
		if tmpl == nil {
			return nil, channel.NewPermanentError("unknown template: %s", req.TemplateID)
		}
		rendered, err := render.Render(tmpl, req.Variables)
		if err != nil {
			return nil, channel.NewPermanentError("render failed: %v", err)
		}
		return rendered, nil
	}

	if req.Content == nil {
		return nil, channel.NewPermanentError("notification has neither template_id nor inline content")
	}
	inline := &models.Template{Channel: req.Channel, Content: *req.Content}
	rendered, err := render.Render(inline, req.Variables)
	if err != nil {
		return nil, channel.NewPermanentError("render failed: %v", err)
	}
	return rendered, nil
}

func (p *Pipeline) recordAttempt(trackingID string, attemptNumber int, status models.AttemptStatus, errMsg string, responseCode *int, latencyMs int64) {
	attempt := &models.DeliveryAttempt{
		TrackingID:    trackingID,
		AttemptNumber: attemptNumber,
		Status:        status,
		ErrorMessage:  errMsg,
		ResponseCode:  responseCode,
		AttemptedAt:   time.Now().UTC(),
		LatencyMs:     latencyMs,
	}
	if err := p.store.RecordAttempt(attempt); err != nil {
		p.logger.Error("recording delivery attempt", zap.String("tracking_id", trackingID), zap.Error(err))
	}
}

func responseCode(meta channel.Metadata) *int {
	if meta == nil {
		return nil
	}
	v, ok := meta["response_code"]
	if !ok {
		return nil
	}
	switch n := v.(type) {
	case int:
		return &n
	case int64:
		c := int(n)
		return &c
	default:
		return nil
	}
}
