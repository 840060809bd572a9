// Package delivery defines the storage interface and implementations for
// notifications, their delivery attempts, templates, and scheduled sends.
package delivery

import (
	"time"

	"github.com/bakerapps/notifyd/internal/models"
)

// TemplateFilter narrows a template listing.
type TemplateFilter struct {
	Channel models.Channel
	Active  *bool
}

// AnalyticsWindow is the aggregated result of Store.AnalyticsWindow.
type AnalyticsWindow struct {
	ByChannelDelivered map[string]int
	ByChannelTotal     map[string]int
	AvgDeliveryTimeMs  float64
	FailureReasons     map[string]int
}

// Store defines the contract for persistent storage of notifications,
// delivery attempts, templates, and scheduled notifications. Implementations
// must be safe for concurrent use by multiple goroutines.
type Store interface {
	// Close releases any resources held by the store.
	Close() error

	// Ping verifies the underlying connection is still alive.
	Ping() error

	// CreateNotification persists a new notification in the queued state
	// with attempts=0.
	CreateNotification(n *models.Notification) error

	// GetNotification returns a notification and its delivery attempts,
	// ordered by attempt_number ascending. Returns nil, nil if not found.
	GetNotification(trackingID string) (*models.Notification, []*models.DeliveryAttempt, error)

	// RecordAttempt appends a delivery attempt and updates the parent
	// notification's attempts counter, last_attempt_at, status, delivered_at
	// and failure_reason as appropriate.
	RecordAttempt(attempt *models.DeliveryAttempt) error

	// UpdateStatus sets a notification's status directly, used to mark a
	// notification "sending" before dispatch.
	UpdateStatus(trackingID string, status models.Status) error

	// ListStuck returns notifications in "sending" state whose last attempt
	// (or creation, if no attempt was ever recorded) is older than olderThan.
	ListStuck(olderThan time.Duration) ([]*models.Notification, error)

	// CreateTemplate persists a new template. Returns a validation error if
	// the name is already in use.
	CreateTemplate(t *models.Template) error

	// GetTemplateByID returns a template by its identity, or nil if unknown.
	GetTemplateByID(templateID string) (*models.Template, error)

	// GetTemplateByName returns a template by its unique name, or nil if
	// unknown.
	GetTemplateByName(name string) (*models.Template, error)

	// ListTemplates returns a page of templates matching filter, newest
	// first, plus the total matching count.
	ListTemplates(page, size int, filter TemplateFilter) ([]*models.Template, int, error)

	// SetTemplateActive flips a template's active flag.
	SetTemplateActive(templateID string, active bool) error

	// CreateSchedule persists a new scheduled notification.
	CreateSchedule(s *models.ScheduledNotification) error

	// ListDueSchedules returns active schedules whose send_at (converted to
	// UTC) is at or before now and whose last_run is unset or before send_at.
	ListDueSchedules(now time.Time) ([]*models.ScheduledNotification, error)

	// UpdateSchedule persists a schedule's next send_at, last_run and active
	// flag after it fires.
	UpdateSchedule(s *models.ScheduledNotification) error

	// AnalyticsWindow aggregates delivery attempts between start and end.
	AnalyticsWindow(start, end time.Time) (*AnalyticsWindow, error)

	// DatabaseSizeBytes returns the current on-disk size of the store.
	DatabaseSizeBytes() (int64, error)

	// DeleteOlderThan permanently removes notifications (and their attempts)
	// in a terminal status whose created_at is older than cutoff. Returns
	// the number of notifications removed.
	DeleteOlderThan(cutoff time.Time) (int, error)

	// RunIncrementalVacuum triggers an incremental vacuum to reclaim unused
	// pages.
	RunIncrementalVacuum() error
}
