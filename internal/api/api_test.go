package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bakerapps/notifyd/internal/delivery"
	"github.com/bakerapps/notifyd/internal/models"
)

type fakeAdmitter struct {
	admitted []*models.Notification
	err      error
}

func (f *fakeAdmitter) Admit(n *models.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.admitted = append(f.admitted, n)
	return nil
}

func newTestRouter(t *testing.T) (*Router, *fakeAdmitter, delivery.Store) {
	t.Helper()
	logger := zap.NewNop()
	store, err := delivery.NewSQLiteStore(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	admitter := &fakeAdmitter{}
	return New(store, admitter, logger), admitter, store
}

func doJSON(t *testing.T, router *Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.Engine().ServeHTTP(rec, req)
	return rec
}

func TestHandleSendAdmitsSingleNotification(t *testing.T) {
	router, admitter, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/notifications/send", map[string]interface{}{
		"channel":   "sms",
		"recipient": "+15551234567",
		"content":   map[string]string{"body": "hello"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, admitter.admitted, 1)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["tracking_id"])
}

func TestHandleSendFansOutRecipients(t *testing.T) {
	router, admitter, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/notifications/send", map[string]interface{}{
		"channel":    "sms",
		"recipient":  "ignored",
		"content":    map[string]string{"body": "hello"},
		"recipients": []string{"+15551234567", "+15557654321"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, admitter.admitted, 2)
	assert.Equal(t, "+15551234567", admitter.admitted[0].Recipient)
	assert.Equal(t, "+15557654321", admitter.admitted[1].Recipient)
}

func TestHandleSendRejectsUnknownChannel(t *testing.T) {
	router, admitter, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/notifications/send", map[string]interface{}{
		"channel":   "carrier_pigeon",
		"recipient": "loft-1",
		"content":   map[string]string{"body": "hello"},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, admitter.admitted)
}

func TestHandleSendRejectsMissingContentAndTemplate(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/notifications/send", map[string]interface{}{
		"channel":   "sms",
		"recipient": "+15551234567",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleScheduleCreatesSchedule(t *testing.T) {
	router, _, _ := newTestRouter(t)

	naive := time.Now().Add(time.Hour).UTC().Format("2006-01-02T15:04:05")
	rec := doJSON(t, router, http.MethodPost, "/notifications/schedule", map[string]interface{}{
		"notification": map[string]interface{}{
			"channel":   "email",
			"recipient": "a@example.com",
			"content":   map[string]string{"subject": "hi", "body": "there"},
		},
		"send_at": naive,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["schedule_id"])
}

func TestHandleScheduleInterpretsNaiveSendAtInGivenTimezone(t *testing.T) {
	router, _, store := newTestRouter(t)

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	future := time.Now().In(loc).Add(2 * time.Hour)
	naive := future.Format("2006-01-02T15:04:05")

	rec := doJSON(t, router, http.MethodPost, "/notifications/schedule", map[string]interface{}{
		"notification": map[string]interface{}{
			"channel":   "email",
			"recipient": "a@example.com",
			"content":   map[string]string{"subject": "hi", "body": "there"},
		},
		"send_at":  naive,
		"timezone": "America/New_York",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	due, err := store.ListDueSchedules(future.In(time.UTC).Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.WithinDuration(t, future.UTC(), due[0].SendAt, time.Second)
}

func TestHandleScheduleRejectsInvalidTimezone(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/notifications/schedule", map[string]interface{}{
		"notification": map[string]interface{}{
			"channel":   "sms",
			"recipient": "+15551234567",
			"content":   map[string]string{"body": "hi"},
		},
		"send_at":  "2030-01-01T10:00:00",
		"timezone": "Not/ARealZone",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleScheduleRejectsMalformedSendAt(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/notifications/schedule", map[string]interface{}{
		"notification": map[string]interface{}{
			"channel":   "sms",
			"recipient": "+15551234567",
			"content":   map[string]string{"body": "hi"},
		},
		"send_at": "not-a-timestamp",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStatusReturns404ForUnknownTrackingID(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/notifications/does-not-exist/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStatusReturnsNotificationState(t *testing.T) {
	router, _, store := newTestRouter(t)

	require.NoError(t, store.CreateNotification(&models.Notification{
		TrackingID: "trk-1",
		Channel:    models.ChannelSMS,
		Recipient:  "+15551234567",
		Content:    &models.Content{Body: "hi"},
		Priority:   models.PriorityNormal,
		Status:     models.StatusQueued,
		CreatedAt:  time.Now().UTC(),
	}))

	rec := doJSON(t, router, http.MethodGet, "/notifications/trk-1/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "trk-1", resp["tracking_id"])
	assert.Equal(t, "queued", resp["status"])
}

func TestHandleBatchRejectsOversizedBatch(t *testing.T) {
	router, _, _ := newTestRouter(t)

	notifications := make([]map[string]interface{}, 101)
	for i := range notifications {
		notifications[i] = map[string]interface{}{
			"channel": "sms", "recipient": "+15551234567", "content": map[string]string{"body": "x"},
		}
	}

	rec := doJSON(t, router, http.MethodPost, "/notifications/batch", map[string]interface{}{
		"notifications": notifications,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBatchAtomicRejectsAllOnFirstInvalidItem(t *testing.T) {
	router, admitter, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/notifications/batch", map[string]interface{}{
		"delivery_mode": "atomic",
		"notifications": []map[string]interface{}{
			{"channel": "sms", "recipient": "+15551234567", "content": map[string]string{"body": "x"}},
			{"channel": "bogus", "recipient": "x", "content": map[string]string{"body": "x"}},
		},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, admitter.admitted)
}

func TestHandleBatchBestEffortAdmitsValidItemsAndReportsErrors(t *testing.T) {
	router, admitter, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/notifications/batch", map[string]interface{}{
		"delivery_mode": "best_effort",
		"notifications": []map[string]interface{}{
			{"channel": "sms", "recipient": "+15551234567", "content": map[string]string{"body": "x"}},
			{"channel": "bogus", "recipient": "x", "content": map[string]string{"body": "x"}},
		},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, admitter.admitted, 1)

	var resp struct {
		BatchID string `json:"batch_id"`
		Items   []struct {
			TrackingID string `json:"tracking_id"`
			Status     string `json:"status"`
			Error      string `json:"error"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "queued", resp.Items[0].Status)
	assert.Equal(t, "rejected", resp.Items[1].Status)
	assert.NotEmpty(t, resp.Items[1].Error)
}

func TestHandleCreateTemplateRejectsDuplicateName(t *testing.T) {
	router, _, _ := newTestRouter(t)

	body := map[string]interface{}{
		"name":    "welcome",
		"channel": "email",
		"content": map[string]string{"subject": "hi {{name}}", "body": "welcome"},
	}

	rec := doJSON(t, router, http.MethodPost, "/templates", body)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/templates", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListTemplatesReturnsPage(t *testing.T) {
	router, _, store := newTestRouter(t)

	require.NoError(t, store.CreateTemplate(&models.Template{
		TemplateID: "tmpl-1", Name: "welcome", Channel: models.ChannelEmail,
		Content: models.Content{Subject: "hi", Body: "x"}, Active: true,
	}))

	rec := doJSON(t, router, http.MethodGet, "/templates?page=1&size=10", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["total"])
}

func TestHandleAnalyticsSummaryDefaultsWindow(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/analytics/summary", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzAlwaysReturnsOK(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReflectsSetReady(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	router.SetReady(true)
	rec = doJSON(t, router, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
