// Package api implements the HTTP intake surface: notification send,
// scheduling, status lookup, batching, template management, and analytics,
// built on gin-gonic/gin per the teacher's own HTTP-handler conventions.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bakerapps/notifyd/internal/analytics"
	"github.com/bakerapps/notifyd/internal/delivery"
	"github.com/bakerapps/notifyd/internal/models"
	"github.com/bakerapps/notifyd/internal/validation"
)

// maxBatchItems is the largest batch the /notifications/batch endpoint
// accepts in one request.
const maxBatchItems = 100

var knownChannels = map[models.Channel]bool{
	models.ChannelEmail:   true,
	models.ChannelSMS:     true,
	models.ChannelWebhook: true,
	models.ChannelPush:    true,
}

// Admitter is the subset of *pipeline.Pipeline the API needs to hand off a
// freshly validated notification for delivery.
type Admitter interface {
	Admit(n *models.Notification) error
}

// Router builds and owns the gin engine serving the notification API.
type Router struct {
	store    delivery.Store
	pipeline Admitter
	logger   *zap.Logger
	engine   *gin.Engine

	ready atomic.Bool
}

// New constructs a Router with all routes registered.
func New(store delivery.Store, pipeline Admitter, logger *zap.Logger) *Router {
	gin.SetMode(gin.ReleaseMode)
	r := &Router{store: store, pipeline: pipeline, logger: logger, engine: gin.New()}
	r.engine.Use(gin.Recovery())
	r.routes()
	return r
}

// Engine exposes the underlying http.Handler for the HTTP server to serve.
func (r *Router) Engine() http.Handler { return r.engine }

// SetReady marks the API ready (or not) to serve traffic, reflected by
// GET /readyz.
func (r *Router) SetReady(ready bool) { r.ready.Store(ready) }

func (r *Router) routes() {
	r.engine.POST("/notifications/send", r.handleSend)
	r.engine.POST("/notifications/schedule", r.handleSchedule)
	r.engine.GET("/notifications/:tracking_id/status", r.handleStatus)
	r.engine.POST("/notifications/batch", r.handleBatch)
	r.engine.POST("/templates", r.handleCreateTemplate)
	r.engine.GET("/templates", r.handleListTemplates)
	r.engine.GET("/analytics/summary", r.handleAnalyticsSummary)
	r.engine.GET("/healthz", r.handleHealthz)
	r.engine.GET("/readyz", r.handleReadyz)
}

// sendRequest is the /notifications/send body: a single-recipient
// NotificationRequest, or a bulk variant carrying Recipients.
type sendRequest struct {
	models.NotificationRequest `json:",inline"`
	Recipients                 []string `json:"recipients,omitempty"`
}

func (r *Router) handleSend(c *gin.Context) {
	var body sendRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, validation.New("malformed request body"))
		return
	}

	if len(body.Recipients) > 0 {
		ids := make([]string, 0, len(body.Recipients))
		for _, recipient := range body.Recipients {
			req := body.NotificationRequest
			req.Recipient = recipient
			id, err := r.admitOne(&req)
			if err != nil {
				respondError(c, err)
				return
			}
			ids = append(ids, id)
		}
		c.JSON(http.StatusOK, gin.H{"tracking_ids": ids, "count": len(ids)})
		return
	}

	id, err := r.admitOne(&body.NotificationRequest)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracking_id": id})
}

func (r *Router) admitOne(req *models.NotificationRequest) (string, error) {
	if err := validateRequest(req); err != nil {
		return "", err
	}

	n := &models.Notification{
		TrackingID: uuid.NewString(),
		Channel:    req.Channel,
		Recipient:  req.Recipient,
		TemplateID: req.TemplateID,
		Content:    req.Content,
		Variables:  req.Variables,
		Priority:   req.EffectivePriority(),
		Metadata:   req.Metadata,
		Status:     models.StatusQueued,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.pipeline.Admit(n); err != nil {
		return "", err
	}
	return n.TrackingID, nil
}

func validateRequest(req *models.NotificationRequest) error {
	if !knownChannels[req.Channel] {
		return validation.New("unknown channel: " + string(req.Channel))
	}
	if req.Recipient == "" {
		return validation.New("recipient is required")
	}
	if req.TemplateID == "" && req.Content == nil {
		return validation.New("either template_id or content is required")
	}
	return nil
}

type scheduleRequest struct {
	Notification models.NotificationRequest `json:"notification" binding:"required"`
	SendAt       string                     `json:"send_at" binding:"required"`
	Timezone     string                     `json:"timezone"`
	Recurrence   string                     `json:"recurrence,omitempty"`
	Active       *bool                      `json:"active,omitempty"`
}

// naiveDateTimeLayouts are the wall-clock formats send_at is accepted in,
// tried in order; none carry a UTC offset since send_at is naive local time
// interpreted through the separate timezone field.
var naiveDateTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// parseNaiveSendAt parses a naive wall-clock send_at string as a moment in
// loc, mirroring the original service's _to_utc: a timezone-free timestamp is
// treated as local time in the schedule's timezone, not UTC.
func parseNaiveSendAt(value string, loc *time.Location) (time.Time, error) {
	var firstErr error
	for _, layout := range naiveDateTimeLayouts {
		t, err := time.ParseInLocation(layout, value, loc)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

func (r *Router) handleSchedule(c *gin.Context) {
	var body scheduleRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, validation.New("malformed request body"))
		return
	}
	if err := validateRequest(&body.Notification); err != nil {
		respondError(c, err)
		return
	}

	timezone := body.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		respondError(c, validation.New("invalid timezone: "+timezone))
		return
	}
	sendAt, err := parseNaiveSendAt(body.SendAt, loc)
	if err != nil {
		respondError(c, validation.New("invalid send_at: "+body.SendAt))
		return
	}
	active := true
	if body.Active != nil {
		active = *body.Active
	}

	sched := &models.ScheduledNotification{
		ScheduleID: uuid.NewString(),
		Request:    body.Notification,
		SendAt:     sendAt.UTC(),
		Timezone:   timezone,
		Recurrence: body.Recurrence,
		Active:     active,
	}
	if err := r.store.CreateSchedule(sched); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedule_id": sched.ScheduleID})
}

func (r *Router) handleStatus(c *gin.Context) {
	trackingID := c.Param("tracking_id")
	n, attempts, err := r.store.GetNotification(trackingID)
	if err != nil {
		respondError(c, err)
		return
	}
	if n == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "notification not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tracking_id":       n.TrackingID,
		"channel":           n.Channel,
		"recipient":         n.Recipient,
		"status":            n.Status,
		"priority":          n.Priority,
		"attempts":          n.Attempts,
		"created_at":        n.CreatedAt,
		"last_attempt_at":   n.LastAttemptAt,
		"delivered_at":      n.DeliveredAt,
		"failure_reason":    n.FailureReason,
		"delivery_attempts": attempts,
	})
}

type batchRequest struct {
	Notifications []models.NotificationRequest `json:"notifications" binding:"required"`
	DeliveryMode  string                       `json:"delivery_mode"`
}

type batchItem struct {
	TrackingID string `json:"tracking_id,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// handleBatch admits up to maxBatchItems notifications in one request.
// Atomic mode validates every item before admitting any of them; best_effort
// admits each independently and records per-item errors. Neither mode rolls
// back notifications already persisted and queued once admission begins.
func (r *Router) handleBatch(c *gin.Context) {
	var body batchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, validation.New("malformed request body"))
		return
	}
	if len(body.Notifications) > maxBatchItems {
		respondError(c, validation.New("batch exceeds maximum of 100 items"))
		return
	}

	isAtomic := body.DeliveryMode != "best_effort"

	if isAtomic {
		for _, req := range body.Notifications {
			if err := validateRequest(&req); err != nil {
				respondError(c, err)
				return
			}
		}
	}

	items := make([]batchItem, len(body.Notifications))
	for i := range body.Notifications {
		req := body.Notifications[i]
		id, err := r.admitOne(&req)
		if err != nil {
			items[i] = batchItem{Status: "rejected", Error: err.Error()}
			continue
		}
		items[i] = batchItem{TrackingID: id, Status: "queued"}
	}

	c.JSON(http.StatusOK, gin.H{"batch_id": uuid.NewString(), "items": items})
}

func (r *Router) handleCreateTemplate(c *gin.Context) {
	var tmpl models.Template
	if err := c.ShouldBindJSON(&tmpl); err != nil {
		respondError(c, validation.New("malformed request body"))
		return
	}
	if tmpl.Name == "" {
		respondError(c, validation.New("template name is required"))
		return
	}
	if !knownChannels[tmpl.Channel] {
		respondError(c, validation.New("unknown channel: "+string(tmpl.Channel)))
		return
	}

	tmpl.TemplateID = uuid.NewString()
	tmpl.CreatedAt = time.Now().UTC()
	tmpl.UpdatedAt = tmpl.CreatedAt

	if err := r.store.CreateTemplate(&tmpl); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

func (r *Router) handleListTemplates(c *gin.Context) {
	page := queryInt(c, "page", 1)
	size := queryInt(c, "size", 20)

	filter := delivery.TemplateFilter{Channel: models.Channel(c.Query("channel"))}
	if v := c.Query("active"); v != "" {
		b := v == "true"
		filter.Active = &b
	}

	items, total, err := r.store.ListTemplates(page, size, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "page": page, "size": size})
}

func (r *Router) handleAnalyticsSummary(c *gin.Context) {
	start := queryTime(c, "window_start")
	end := queryTime(c, "window_end")

	summary, err := analytics.Summarize(r.store, start, end)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (r *Router) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) handleReadyz(c *gin.Context) {
	if !r.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps the error taxonomy from SPEC_FULL.md §7 to an HTTP
// response. Unknown errors never leak their message to the client.
func respondError(c *gin.Context, err error) {
	var verr *validation.Error
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": verr.Error()})
		return
	}
	if errors.Is(err, delivery.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryTime(c *gin.Context, key string) time.Time {
	v := c.Query(key)
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
