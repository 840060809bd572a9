package delivery

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bakerapps/notifyd/internal/models"
)

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row scanner) (*models.Notification, error) {
	return scanNotificationRow(row)
}

func scanNotificationRow(row scanner) (*models.Notification, error) {
	var n models.Notification
	var content, variables, metadata string
	var createdAt string
	var lastAttemptAt, deliveredAt sql.NullString

	err := row.Scan(
		&n.TrackingID, &n.Channel, &n.Recipient, &n.TemplateID, &content, &variables,
		&n.Priority, &metadata, &n.Status, &n.Attempts, &createdAt, &lastAttemptAt,
		&deliveredAt, &n.FailureReason,
	)
	if err != nil {
		return nil, err
	}

	n.Content, err = unmarshalContent(content)
	if err != nil {
		return nil, fmt.Errorf("unmarshal content: %w", err)
	}
	if err := json.Unmarshal([]byte(variables), &n.Variables); err != nil {
		return nil, fmt.Errorf("unmarshal variables: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &n.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}

	n.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	n.LastAttemptAt, err = parseNullableTime(lastAttemptAt)
	if err != nil {
		return nil, fmt.Errorf("parse last_attempt_at: %w", err)
	}
	n.DeliveredAt, err = parseNullableTime(deliveredAt)
	if err != nil {
		return nil, fmt.Errorf("parse delivered_at: %w", err)
	}

	return &n, nil
}

func scanAttempt(row scanner) (*models.DeliveryAttempt, error) {
	var a models.DeliveryAttempt
	var attemptedAt string
	var responseCode sql.NullInt64

	err := row.Scan(&a.TrackingID, &a.AttemptNumber, &a.Status, &a.ErrorMessage,
		&responseCode, &attemptedAt, &a.LatencyMs)
	if err != nil {
		return nil, err
	}
	if responseCode.Valid {
		code := int(responseCode.Int64)
		a.ResponseCode = &code
	}
	a.AttemptedAt, err = time.Parse(time.RFC3339, attemptedAt)
	if err != nil {
		return nil, fmt.Errorf("parse attempted_at: %w", err)
	}
	return &a, nil
}

func scanTemplate(row scanner) (*models.Template, error) {
	return scanTemplateRow(row)
}

func scanTemplateRow(row scanner) (*models.Template, error) {
	var t models.Template
	var content, variables string
	var active int
	var createdAt, updatedAt string

	err := row.Scan(&t.TemplateID, &t.Name, &t.Channel, &content, &variables, &active, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(content), &t.Content); err != nil {
		return nil, fmt.Errorf("unmarshal content: %w", err)
	}
	if err := json.Unmarshal([]byte(variables), &t.Variables); err != nil {
		return nil, fmt.Errorf("unmarshal variables: %w", err)
	}
	t.Active = active != 0
	t.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	t.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &t, nil
}

func scanSchedule(row scanner) (*models.ScheduledNotification, error) {
	var sched models.ScheduledNotification
	var data, sendAt string
	var lastRun sql.NullString
	var active int

	err := row.Scan(&sched.ScheduleID, &data, &sendAt, &sched.Timezone, &sched.Recurrence, &lastRun, &active)
	if err != nil {
		return nil, err
	}
	req, err := unmarshalRequest(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal notification data: %w", err)
	}
	sched.Request = *req
	sched.SendAt, err = time.Parse(time.RFC3339, sendAt)
	if err != nil {
		return nil, fmt.Errorf("parse send_at: %w", err)
	}
	sched.LastRun, err = parseNullableTime(lastRun)
	if err != nil {
		return nil, fmt.Errorf("parse last_run: %w", err)
	}
	sched.Active = active != 0
	return &sched, nil
}

func marshalContent(c *models.Content) (string, error) {
	if c == nil {
		return "{}", nil
	}
	return marshalContentValue(*c)
}

func marshalContentValue(c models.Content) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalContent(s string) (*models.Content, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var c models.Content
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func marshalStrings(v []string) (string, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func marshalRequest(r *models.NotificationRequest) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalRequest(s string) (*models.NotificationRequest, error) {
	var r models.NotificationRequest
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func formatNullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
