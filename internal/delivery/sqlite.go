package delivery

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"

	"github.com/bakerapps/notifyd/internal/models"
	"github.com/bakerapps/notifyd/internal/validation"
)

// ErrNotFound is the not-found sentinel the API layer maps to 404.
// SQLiteStore's lookups do not return it: they report a missing row with
// nil results and a nil error.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements Store using SQLite with the go-sqlite3 driver.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies
// PRAGMAs for WAL mode, incremental auto-vacuum, foreign keys, and a busy
// timeout, then creates the notification schema if it does not already exist.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// Limit to a single connection so WAL mode works correctly for an
	// embedded database and we avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.applyPragmas(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if err := s.migrateSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	logger.Info("sqlite delivery store initialised", zap.String("path", dbPath))
	return s, nil
}

func (s *SQLiteStore) applyPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *SQLiteStore) createSchema() error {
	const createNotifications = `
CREATE TABLE IF NOT EXISTS notifications (
    tracking_id     TEXT PRIMARY KEY,
    channel         TEXT NOT NULL,
    recipient       TEXT NOT NULL,
    template_id     TEXT NOT NULL DEFAULT '',
    content         TEXT NOT NULL DEFAULT '',
    variables       TEXT NOT NULL DEFAULT '{}',
    priority        TEXT NOT NULL DEFAULT 'normal',
    metadata        TEXT NOT NULL DEFAULT '{}',
    status          TEXT NOT NULL DEFAULT 'queued',
    attempts        INTEGER NOT NULL DEFAULT 0,
    created_at      TEXT NOT NULL,
    last_attempt_at TEXT,
    delivered_at    TEXT,
    failure_reason  TEXT NOT NULL DEFAULT ''
);`

	const createAttempts = `
CREATE TABLE IF NOT EXISTS delivery_attempts (
    tracking_id    TEXT NOT NULL REFERENCES notifications(tracking_id),
    attempt_number INTEGER NOT NULL,
    status         TEXT NOT NULL,
    error_message  TEXT NOT NULL DEFAULT '',
    response_code  INTEGER,
    attempted_at   TEXT NOT NULL,
    latency_ms     INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (tracking_id, attempt_number)
);`

	const createTemplates = `
CREATE TABLE IF NOT EXISTS templates (
    template_id TEXT PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE,
    channel     TEXT NOT NULL,
    content     TEXT NOT NULL DEFAULT '',
    variables   TEXT NOT NULL DEFAULT '[]',
    active      INTEGER NOT NULL DEFAULT 1,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);`

	const createSchedules = `
CREATE TABLE IF NOT EXISTS scheduled_notifications (
    schedule_id       TEXT PRIMARY KEY,
    notification_data TEXT NOT NULL,
    send_at           TEXT NOT NULL,
    timezone          TEXT NOT NULL DEFAULT 'UTC',
    recurrence        TEXT NOT NULL DEFAULT '',
    last_run          TEXT,
    active            INTEGER NOT NULL DEFAULT 1
);`

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_notifications_status ON notifications (status);`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications (recipient);`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications (created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_tracking_id ON delivery_attempts (tracking_id);`,
		`CREATE INDEX IF NOT EXISTS idx_templates_channel ON templates (channel);`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_due ON scheduled_notifications (active, send_at);`,
	}

	for _, stmt := range []string{createNotifications, createAttempts, createTemplates, createSchedules} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	return nil
}

// migrateSchema applies incremental schema migrations for existing databases.
func (s *SQLiteStore) migrateSchema() error {
	rows, err := s.db.Query("PRAGMA table_info(notifications)")
	if err != nil {
		return fmt.Errorf("reading table info: %w", err)
	}
	defer rows.Close()

	hasFailureReason := false
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("scanning table info: %w", err)
		}
		if name == "failure_reason" {
			hasFailureReason = true
			break
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating table info: %w", err)
	}

	if !hasFailureReason {
		if _, err := s.db.Exec("ALTER TABLE notifications ADD COLUMN failure_reason TEXT NOT NULL DEFAULT ''"); err != nil {
			return fmt.Errorf("adding failure_reason column: %w", err)
		}
		s.logger.Info("migrated schema: added failure_reason column")
	}

	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping() error { return s.db.Ping() }

// CreateNotification inserts a new notification row in the queued state.
func (s *SQLiteStore) CreateNotification(n *models.Notification) error {
	content, err := marshalContent(n.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	variables, err := models.MarshalMetadata(n.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	metadata, err := models.MarshalMetadata(n.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	const query = `
INSERT INTO notifications (
    tracking_id, channel, recipient, template_id, content, variables,
    priority, metadata, status, attempts, created_at, last_attempt_at,
    delivered_at, failure_reason
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.Exec(query,
		n.TrackingID, n.Channel, n.Recipient, n.TemplateID, content, variables,
		n.Priority, metadata, n.Status, n.Attempts, n.CreatedAt.Format(time.RFC3339),
		formatNullableTime(n.LastAttemptAt), formatNullableTime(n.DeliveredAt), n.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// GetNotification returns a notification and its delivery attempts ordered
// by attempt_number ascending.
func (s *SQLiteStore) GetNotification(trackingID string) (*models.Notification, []*models.DeliveryAttempt, error) {
	const query = `SELECT
    tracking_id, channel, recipient, template_id, content, variables,
    priority, metadata, status, attempts, created_at, last_attempt_at,
    delivered_at, failure_reason
FROM notifications WHERE tracking_id = ?`

	n, err := scanNotification(s.db.QueryRow(query, trackingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	const attemptsQuery = `SELECT
    tracking_id, attempt_number, status, error_message, response_code, attempted_at, latency_ms
FROM delivery_attempts WHERE tracking_id = ? ORDER BY attempt_number ASC`

	rows, err := s.db.Query(attemptsQuery, trackingID)
	if err != nil {
		return nil, nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.DeliveryAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, nil, err
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("rows iteration: %w", err)
	}

	return n, attempts, nil
}

// RecordAttempt appends a delivery attempt and updates the parent
// notification's attempts counter, last_attempt_at, status, delivered_at
// and failure_reason in a single transaction so a crash cannot split them.
func (s *SQLiteStore) RecordAttempt(attempt *models.DeliveryAttempt) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insertAttempt = `
INSERT INTO delivery_attempts (
    tracking_id, attempt_number, status, error_message, response_code, attempted_at, latency_ms
) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = tx.Exec(insertAttempt,
		attempt.TrackingID, attempt.AttemptNumber, attempt.Status, attempt.ErrorMessage,
		nullableInt(attempt.ResponseCode), attempt.AttemptedAt.Format(time.RFC3339), attempt.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}

	switch attempt.Status {
	case models.AttemptDelivered:
		const update = `UPDATE notifications SET
    attempts = MAX(attempts, ?), last_attempt_at = ?, status = 'delivered',
    delivered_at = ?, failure_reason = ''
WHERE tracking_id = ?`
		_, err = tx.Exec(update, attempt.AttemptNumber, attempt.AttemptedAt.Format(time.RFC3339),
			attempt.AttemptedAt.Format(time.RFC3339), attempt.TrackingID)
	default:
		const update = `UPDATE notifications SET
    attempts = MAX(attempts, ?), last_attempt_at = ?, status = 'failed', failure_reason = ?
WHERE tracking_id = ?`
		_, err = tx.Exec(update, attempt.AttemptNumber, attempt.AttemptedAt.Format(time.RFC3339),
			attempt.ErrorMessage, attempt.TrackingID)
	}
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}

	return tx.Commit()
}

// UpdateStatus sets a notification's status directly.
func (s *SQLiteStore) UpdateStatus(trackingID string, status models.Status) error {
	const query = `UPDATE notifications SET status = ? WHERE tracking_id = ?`
	_, err := s.db.Exec(query, status, trackingID)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// ListStuck returns notifications in "sending" state whose last recorded
// activity is older than olderThan.
func (s *SQLiteStore) ListStuck(olderThan time.Duration) ([]*models.Notification, error) {
	cutoff := time.Now().Add(-olderThan).Format(time.RFC3339)
	const query = `SELECT
    tracking_id, channel, recipient, template_id, content, variables,
    priority, metadata, status, attempts, created_at, last_attempt_at,
    delivered_at, failure_reason
FROM notifications
WHERE status = 'sending'
  AND COALESCE(last_attempt_at, created_at) < ?`

	rows, err := s.db.Query(query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query stuck notifications: %w", err)
	}
	defer rows.Close()

	var results []*models.Notification
	for rows.Next() {
		n, err := scanNotificationRow(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, n)
	}
	return results, rows.Err()
}

// CreateTemplate persists a new template, rejecting a duplicate name.
func (s *SQLiteStore) CreateTemplate(t *models.Template) error {
	existing, err := s.GetTemplateByName(t.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return validation.New(fmt.Sprintf("template name already in use: %s", t.Name))
	}

	content, err := marshalContentValue(t.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	variables, err := marshalStrings(t.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}

	const query = `
INSERT INTO templates (template_id, name, channel, content, variables, active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.Exec(query, t.TemplateID, t.Name, t.Channel, content, variables,
		boolToInt(t.Active), t.CreatedAt.Format(time.RFC3339), t.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// GetTemplateByID returns a template by its identity, or nil if unknown.
func (s *SQLiteStore) GetTemplateByID(templateID string) (*models.Template, error) {
	const query = `SELECT template_id, name, channel, content, variables, active, created_at, updated_at
FROM templates WHERE template_id = ?`
	return s.scanOptionalTemplate(s.db.QueryRow(query, templateID))
}

// GetTemplateByName returns a template by its unique name, or nil if unknown.
func (s *SQLiteStore) GetTemplateByName(name string) (*models.Template, error) {
	const query = `SELECT template_id, name, channel, content, variables, active, created_at, updated_at
FROM templates WHERE name = ?`
	return s.scanOptionalTemplate(s.db.QueryRow(query, name))
}

func (s *SQLiteStore) scanOptionalTemplate(row *sql.Row) (*models.Template, error) {
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTemplates returns a page of templates matching filter, newest first.
func (s *SQLiteStore) ListTemplates(page, size int, filter TemplateFilter) ([]*models.Template, int, error) {
	where := "WHERE 1=1"
	var args []interface{}
	if filter.Channel != "" {
		where += " AND channel = ?"
		args = append(args, filter.Channel)
	}
	if filter.Active != nil {
		where += " AND active = ?"
		args = append(args, boolToInt(*filter.Active))
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM templates " + where
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count templates: %w", err)
	}

	offset := (page - 1) * size
	listQuery := `SELECT template_id, name, channel, content, variables, active, created_at, updated_at
FROM templates ` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.Query(listQuery, append(args, size, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var results []*models.Template
	for rows.Next() {
		t, err := scanTemplateRow(rows)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, t)
	}
	return results, total, rows.Err()
}

// SetTemplateActive flips a template's active flag.
func (s *SQLiteStore) SetTemplateActive(templateID string, active bool) error {
	const query = `UPDATE templates SET active = ?, updated_at = ? WHERE template_id = ?`
	_, err := s.db.Exec(query, boolToInt(active), time.Now().UTC().Format(time.RFC3339), templateID)
	if err != nil {
		return fmt.Errorf("set template active: %w", err)
	}
	return nil
}

// CreateSchedule persists a new scheduled notification.
func (s *SQLiteStore) CreateSchedule(sched *models.ScheduledNotification) error {
	data, err := marshalRequest(&sched.Request)
	if err != nil {
		return fmt.Errorf("marshal notification data: %w", err)
	}

	const query = `
INSERT INTO scheduled_notifications (schedule_id, notification_data, send_at, timezone, recurrence, last_run, active)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.Exec(query, sched.ScheduleID, data, sched.SendAt.UTC().Format(time.RFC3339),
		sched.Timezone, sched.Recurrence, formatNullableTime(sched.LastRun), boolToInt(sched.Active))
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// ListDueSchedules returns active schedules whose send_at is at or before now
// and that have not yet run for that send_at (last_run unset or earlier).
func (s *SQLiteStore) ListDueSchedules(now time.Time) ([]*models.ScheduledNotification, error) {
	const query = `SELECT schedule_id, notification_data, send_at, timezone, recurrence, last_run, active
FROM scheduled_notifications WHERE active = 1 AND send_at <= ?
  AND (last_run IS NULL OR last_run < send_at)`

	rows, err := s.db.Query(query, now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("query due schedules: %w", err)
	}
	defer rows.Close()

	var results []*models.ScheduledNotification
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, sched)
	}
	return results, rows.Err()
}

// UpdateSchedule persists a schedule's next send_at, last_run and active flag.
func (s *SQLiteStore) UpdateSchedule(sched *models.ScheduledNotification) error {
	const query = `UPDATE scheduled_notifications SET send_at = ?, last_run = ?, active = ? WHERE schedule_id = ?`
	_, err := s.db.Exec(query, sched.SendAt.UTC().Format(time.RFC3339),
		formatNullableTime(sched.LastRun), boolToInt(sched.Active), sched.ScheduleID)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}

// AnalyticsWindow aggregates delivery attempts between start and end.
func (s *SQLiteStore) AnalyticsWindow(start, end time.Time) (*AnalyticsWindow, error) {
	result := &AnalyticsWindow{
		ByChannelDelivered: map[string]int{},
		ByChannelTotal:     map[string]int{},
		FailureReasons:     map[string]int{},
	}

	const byChannel = `
SELECT n.channel,
       SUM(CASE WHEN a.status = 'delivered' THEN 1 ELSE 0 END) AS delivered,
       COUNT(*) AS total
FROM delivery_attempts a
JOIN notifications n ON n.tracking_id = a.tracking_id
WHERE a.attempted_at >= ? AND a.attempted_at < ?
GROUP BY n.channel`

	rows, err := s.db.Query(byChannel, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("analytics by channel: %w", err)
	}
	for rows.Next() {
		var channel string
		var delivered, total int
		if err := rows.Scan(&channel, &delivered, &total); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan analytics row: %w", err)
		}
		result.ByChannelDelivered[channel] = delivered
		result.ByChannelTotal[channel] = total
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	const avgDeliveryTime = `
SELECT AVG((CAST(strftime('%s', delivered_at) AS INTEGER) - CAST(strftime('%s', created_at) AS INTEGER)) * 1000.0)
FROM notifications
WHERE status = 'delivered' AND delivered_at >= ? AND delivered_at < ?`
	var avg sql.NullFloat64
	if err := s.db.QueryRow(avgDeliveryTime, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)).Scan(&avg); err != nil {
		return nil, fmt.Errorf("analytics avg delivery time: %w", err)
	}
	if avg.Valid {
		result.AvgDeliveryTimeMs = avg.Float64
	}

	const failureReasons = `
SELECT error_message, COUNT(*) FROM delivery_attempts
WHERE status != 'delivered' AND error_message != '' AND attempted_at >= ? AND attempted_at < ?
GROUP BY error_message`
	fr, err := s.db.Query(failureReasons, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("analytics failure reasons: %w", err)
	}
	defer fr.Close()
	for fr.Next() {
		var reason string
		var count int
		if err := fr.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("scan failure reason: %w", err)
		}
		result.FailureReasons[reason] = count
	}
	return result, fr.Err()
}

// DatabaseSizeBytes returns the current size of the database in bytes.
func (s *SQLiteStore) DatabaseSizeBytes() (int64, error) {
	var pageCount int64
	if err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("page_count: %w", err)
	}
	var pageSize int64
	if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("page_size: %w", err)
	}
	return pageCount * pageSize, nil
}

// DeleteOlderThan permanently removes notifications in a terminal status
// whose created_at predates cutoff, along with their delivery attempts.
func (s *SQLiteStore) DeleteOlderThan(cutoff time.Time) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const selectIDs = `SELECT tracking_id FROM notifications
WHERE status IN ('delivered', 'failed', 'bounced') AND created_at < ?`
	rows, err := tx.Query(selectIDs, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("select eligible notifications: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, id := range ids {
		if _, err := tx.Exec("DELETE FROM delivery_attempts WHERE tracking_id = ?", id); err != nil {
			return 0, fmt.Errorf("delete attempts: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM notifications WHERE tracking_id = ?", id); err != nil {
			return 0, fmt.Errorf("delete notification: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cleanup: %w", err)
	}
	return len(ids), nil
}

// RunIncrementalVacuum triggers an incremental vacuum to reclaim unused pages.
func (s *SQLiteStore) RunIncrementalVacuum() error {
	_, err := s.db.Exec("PRAGMA incremental_vacuum")
	if err != nil {
		return fmt.Errorf("incremental vacuum: %w", err)
	}
	return nil
}
