// Package scheduler implements the due-time polling loop that admits
// scheduled notifications into the delivery pipeline, handling per-schedule
// timezones and five-field cron recurrence.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bakerapps/notifyd/internal/delivery"
	"github.com/bakerapps/notifyd/internal/metrics"
	"github.com/bakerapps/notifyd/internal/models"
)

// Admitter is the subset of *pipeline.Pipeline the scheduler needs: persist
// and enqueue a new notification built from a schedule's stored request.
type Admitter interface {
	Admit(n *models.Notification) error
}

// TrackingIDFunc generates a new tracking ID for each notification admitted
// from a fired schedule, substitutable in tests.
type TrackingIDFunc func() string

// Scheduler polls the store for due scheduled notifications and admits them
// to the pipeline, one dedicated goroutine per SPEC_FULL.md's scheduling
// model.
type Scheduler struct {
	store        delivery.Store
	admitter     Admitter
	pollInterval time.Duration
	newTrackingID TrackingIDFunc
	metrics      *metrics.Metrics
	logger       *zap.Logger
	cronParser   cron.Parser
}

// New constructs a Scheduler. pollInterval defaults to 1 second if zero.
func New(store delivery.Store, admitter Admitter, pollInterval time.Duration, newTrackingID TrackingIDFunc, m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Scheduler{
		store:         store,
		admitter:      admitter,
		pollInterval:  pollInterval,
		newTrackingID: newTrackingID,
		metrics:       m,
		logger:        logger,
		cronParser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Start runs the poll loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started", zap.Duration("poll_interval", s.pollInterval))

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", zap.Error(ctx.Err()))
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// pollOnce runs a single due-schedule scan. Per-schedule failures are
// logged and do not abort the pass.
func (s *Scheduler) pollOnce(_ context.Context) {
	now := time.Now().UTC()
	due, err := s.store.ListDueSchedules(now)
	if err != nil {
		s.logger.Error("listing due schedules", zap.Error(err))
		s.metrics.SchedulerRunsTotal.WithLabelValues("error").Inc()
		return
	}

	for _, sched := range due {
		if err := s.fire(sched, now); err != nil {
			s.logger.Error("firing scheduled notification",
				zap.String("schedule_id", sched.ScheduleID),
				zap.Error(err),
			)
		}
	}

	s.metrics.SchedulerRunsTotal.WithLabelValues("success").Inc()
}

// fire admits one due schedule's notification request and advances (or
// deactivates) the schedule.
func (s *Scheduler) fire(sched *models.ScheduledNotification, now time.Time) error {
	req := sched.Request
	n := &models.Notification{
		TrackingID: s.newTrackingID(),
		Channel:    req.Channel,
		Recipient:  req.Recipient,
		TemplateID: req.TemplateID,
		Content:    req.Content,
		Variables:  req.Variables,
		Priority:   req.EffectivePriority(),
		Metadata:   req.Metadata,
		Status:     models.StatusQueued,
		CreatedAt:  now,
	}

	if err := s.admitter.Admit(n); err != nil {
		return err
	}
	s.metrics.SchedulerFiredTotal.WithLabelValues(string(req.Channel)).Inc()

	sched.LastRun = &now

	if sched.Recurrence != "" {
		next, err := s.nextOccurrence(sched, now)
		if err != nil {
			s.logger.Error("computing next occurrence, deactivating schedule",
				zap.String("schedule_id", sched.ScheduleID), zap.Error(err))
			sched.Active = false
		} else {
			sched.SendAt = next
		}
	} else {
		sched.Active = false
	}

	return s.store.UpdateSchedule(sched)
}

// nextOccurrence parses sched's recurrence as a standard five-field cron
// expression and evaluates it in sched's timezone, returning the next
// occurrence converted back to UTC.
func (s *Scheduler) nextOccurrence(sched *models.ScheduledNotification, after time.Time) (time.Time, error) {
	schedule, err := s.cronParser.Parse(sched.Recurrence)
	if err != nil {
		return time.Time{}, err
	}

	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		loc = time.UTC
	}

	next := schedule.Next(after.In(loc))
	return next.UTC(), nil
}
