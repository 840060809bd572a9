package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bakerapps/notifyd/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := zap.NewNop()
	s, err := NewSQLiteStore(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestNotification(trackingID string) *models.Notification {
	return &models.Notification{
		TrackingID: trackingID,
		Channel:    models.ChannelSMS,
		Recipient:  "+15551234567",
		Content:    &models.Content{Body: "hello"},
		Priority:   models.PriorityNormal,
		Status:     models.StatusQueued,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

func TestCreateAndGetNotification(t *testing.T) {
	s := newTestStore(t)
	n := newTestNotification("trk-1")
	require.NoError(t, s.CreateNotification(n))

	got, attempts, err := s.GetNotification("trk-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, n.Recipient, got.Recipient)
	assert.Equal(t, models.StatusQueued, got.Status)
	assert.Empty(t, attempts)
}

func TestGetNotificationUnknownReturnsNil(t *testing.T) {
	s := newTestStore(t)
	got, attempts, err := s.GetNotification("missing")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Nil(t, attempts)
}

func TestRecordAttemptDeliveredUpdatesParent(t *testing.T) {
	s := newTestStore(t)
	n := newTestNotification("trk-2")
	require.NoError(t, s.CreateNotification(n))

	attempt := &models.DeliveryAttempt{
		TrackingID:    "trk-2",
		AttemptNumber: 1,
		Status:        models.AttemptDelivered,
		AttemptedAt:   time.Now().UTC(),
		LatencyMs:     120,
	}
	require.NoError(t, s.RecordAttempt(attempt))

	got, attempts, err := s.GetNotification("trk-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.NotNil(t, got.DeliveredAt)
	assert.Empty(t, got.FailureReason)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.AttemptDelivered, attempts[0].Status)
}

func TestRecordAttemptFailedUpdatesParent(t *testing.T) {
	s := newTestStore(t)
	n := newTestNotification("trk-3")
	require.NoError(t, s.CreateNotification(n))

	attempt := &models.DeliveryAttempt{
		TrackingID:    "trk-3",
		AttemptNumber: 1,
		Status:        models.AttemptFailed,
		ErrorMessage:  "carrier timeout",
		AttemptedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.RecordAttempt(attempt))

	got, _, err := s.GetNotification("trk-3")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "carrier timeout", got.FailureReason)
}

func TestListStuckFindsSendingPastDeadline(t *testing.T) {
	s := newTestStore(t)
	n := newTestNotification("trk-4")
	n.Status = models.StatusSending
	n.CreatedAt = time.Now().UTC().Add(-5 * time.Minute)
	require.NoError(t, s.CreateNotification(n))

	stuck, err := s.ListStuck(2 * time.Minute)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "trk-4", stuck[0].TrackingID)
}

func TestCreateTemplateRejectsDuplicateName(t *testing.T) {
	s := newTestStore(t)
	tmpl := &models.Template{
		TemplateID: "tpl-1", Name: "welcome", Channel: models.ChannelEmail,
		Content: models.Content{Subject: "Hi", Body: "Welcome {{.name}}"},
		Variables: []string{"name"}, Active: true,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateTemplate(tmpl))

	dup := *tmpl
	dup.TemplateID = "tpl-2"
	err := s.CreateTemplate(&dup)
	require.Error(t, err)
}

func TestGetTemplateByIDAndName(t *testing.T) {
	s := newTestStore(t)
	tmpl := &models.Template{
		TemplateID: "tpl-3", Name: "reset", Channel: models.ChannelEmail,
		Content: models.Content{Subject: "Reset", Body: "Click here"},
		Active: true, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateTemplate(tmpl))

	byID, err := s.GetTemplateByID("tpl-3")
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "reset", byID.Name)

	byName, err := s.GetTemplateByName("reset")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, "tpl-3", byName.TemplateID)
}

func TestListTemplatesPagination(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		tmpl := &models.Template{
			TemplateID: string(rune('a' + i)), Name: string(rune('a' + i)),
			Channel: models.ChannelSMS, Content: models.Content{Body: "x"},
			Active: true, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		}
		require.NoError(t, s.CreateTemplate(tmpl))
	}

	items, total, err := s.ListTemplates(1, 2, TemplateFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 2)
}

func TestSetTemplateActive(t *testing.T) {
	s := newTestStore(t)
	tmpl := &models.Template{
		TemplateID: "tpl-4", Name: "promo", Channel: models.ChannelSMS,
		Content: models.Content{Body: "x"}, Active: true,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateTemplate(tmpl))
	require.NoError(t, s.SetTemplateActive("tpl-4", false))

	got, err := s.GetTemplateByID("tpl-4")
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestScheduleRoundTrip(t *testing.T) {
	s := newTestStore(t)
	sched := &models.ScheduledNotification{
		ScheduleID: "sched-1",
		Request:    models.NotificationRequest{Channel: models.ChannelEmail, Recipient: "a@example.com"},
		SendAt:     time.Now().UTC().Add(-time.Minute),
		Timezone:   "UTC",
		Active:     true,
	}
	require.NoError(t, s.CreateSchedule(sched))

	due, err := s.ListDueSchedules(time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "a@example.com", due[0].Request.Recipient)

	due[0].Active = false
	now := time.Now().UTC()
	due[0].LastRun = &now
	require.NoError(t, s.UpdateSchedule(due[0]))

	stillDue, err := s.ListDueSchedules(time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, stillDue)
}

func TestAnalyticsWindow(t *testing.T) {
	s := newTestStore(t)
	n := newTestNotification("trk-analytics")
	require.NoError(t, s.CreateNotification(n))

	now := time.Now().UTC()
	require.NoError(t, s.RecordAttempt(&models.DeliveryAttempt{
		TrackingID: "trk-analytics", AttemptNumber: 1, Status: models.AttemptDelivered,
		AttemptedAt: n.CreatedAt.Add(2 * time.Second), LatencyMs: 200,
	}))

	summary, err := s.AnalyticsWindow(now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ByChannelDelivered["sms"])
	assert.Equal(t, 1, summary.ByChannelTotal["sms"])
	// delivered_at - created_at, not the adapter latency.
	assert.Equal(t, float64(2000), summary.AvgDeliveryTimeMs)
}

func TestDeleteOlderThan(t *testing.T) {
	s := newTestStore(t)
	n := newTestNotification("trk-old")
	n.Status = models.StatusDelivered
	n.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, s.CreateNotification(n))

	deleted, err := s.DeleteOlderThan(time.Now().UTC().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	got, _, err := s.GetNotification("trk-old")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDatabaseSizeBytesNonZero(t *testing.T) {
	s := newTestStore(t)
	size, err := s.DatabaseSizeBytes()
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
}
