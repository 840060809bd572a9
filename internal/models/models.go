// Package models defines the data structures used throughout the notifyd service.
package models

import (
	"encoding/json"
	"time"
)

// Channel identifies the delivery mechanism for a notification.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelWebhook Channel = "webhook"
	ChannelPush    Channel = "push"
)

// Priority controls queue ordering and the retry budget applied to a notification.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Rank returns the queue ordering rank for a priority: lower sorts first.
// Unknown priorities rank as normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Status is the lifecycle state of a Notification.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusSending   Status = "sending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusBounced   Status = "bounced"
)

// Content is the inline subject/body pair a caller may supply instead of a template.
type Content struct {
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`
}

// NotificationRequest is the caller-supplied payload accepted at intake, embedded
// unchanged in scheduled notifications.
type NotificationRequest struct {
	Channel    Channel                `json:"channel" binding:"required"`
	Recipient  string                 `json:"recipient" binding:"required"`
	TemplateID string                 `json:"template_id,omitempty"`
	Content    *Content               `json:"content,omitempty"`
	Variables  map[string]interface{} `json:"variables,omitempty"`
	Priority   Priority               `json:"priority,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// EffectivePriority returns Priority, defaulting to PriorityNormal when unset.
func (r *NotificationRequest) EffectivePriority() Priority {
	if r.Priority == "" {
		return PriorityNormal
	}
	return r.Priority
}

// Notification is the persisted record of a single intake, including its
// current delivery status.
type Notification struct {
	TrackingID    string
	Channel       Channel
	Recipient     string
	TemplateID    string
	Content       *Content
	Variables     map[string]interface{}
	Priority      Priority
	Metadata      map[string]interface{}
	Status        Status
	Attempts      int
	CreatedAt     time.Time
	LastAttemptAt *time.Time
	DeliveredAt   *time.Time
	FailureReason string
}

// ToRequest reconstructs the original NotificationRequest shape from a stored
// notification; this is the shape queue workers re-render from on every pop.
func (n *Notification) ToRequest() *NotificationRequest {
	return &NotificationRequest{
		Channel:    n.Channel,
		Recipient:  n.Recipient,
		TemplateID: n.TemplateID,
		Content:    n.Content,
		Variables:  n.Variables,
		Priority:   n.Priority,
		Metadata:   n.Metadata,
	}
}

// AttemptStatus is the outcome of a single delivery attempt.
type AttemptStatus string

const (
	AttemptDelivered AttemptStatus = "delivered"
	AttemptFailed    AttemptStatus = "failed"
)

// DeliveryAttempt is one dispatch of a notification to its channel adapter.
type DeliveryAttempt struct {
	TrackingID    string
	AttemptNumber int
	Status        AttemptStatus
	ErrorMessage  string
	ResponseCode  *int
	AttemptedAt   time.Time
	LatencyMs     int64
}

// RenderedContent is the output of the template renderer, ready for dispatch.
type RenderedContent struct {
	Subject string
	Body    string
}

// Template is a reusable, named content definition bound to a channel.
type Template struct {
	TemplateID string    `json:"template_id"`
	Name       string    `json:"name" binding:"required"`
	Channel    Channel   `json:"channel" binding:"required"`
	Content    Content   `json:"content"`
	Variables  []string  `json:"variables,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ScheduledNotification is a notification whose admission is deferred to a
// future, and possibly recurring, send time.
type ScheduledNotification struct {
	ScheduleID string
	Request    NotificationRequest
	SendAt     time.Time
	Timezone   string
	Recurrence string
	LastRun    *time.Time
	Active     bool
}

// AnalyticsSummary is the aggregated delivery performance over a time window.
type AnalyticsSummary struct {
	WindowStart          time.Time          `json:"window_start"`
	WindowEnd            time.Time          `json:"window_end"`
	ByChannelDeliveryRate map[string]float64 `json:"by_channel_delivery_rate"`
	AvgDeliveryTimeMs    float64            `json:"avg_delivery_time_ms"`
	FailureReasons       map[string]int     `json:"failure_reasons"`
}

// MarshalMetadata serialises an arbitrary metadata map for storage; nil maps
// serialise to an empty JSON object so stored rows never contain NULL JSON.
func MarshalMetadata(m map[string]interface{}) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
