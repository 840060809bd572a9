package delivery

import (
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/bakerapps/notifyd/internal/models"
)

// MockStore is a testify/mock implementation of the Store interface.
type MockStore struct {
	mock.Mock
}

var _ Store = (*MockStore)(nil)

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockStore) Ping() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockStore) CreateNotification(n *models.Notification) error {
	args := m.Called(n)
	return args.Error(0)
}

func (m *MockStore) GetNotification(trackingID string) (*models.Notification, []*models.DeliveryAttempt, error) {
	args := m.Called(trackingID)
	var n *models.Notification
	if args.Get(0) != nil {
		n = args.Get(0).(*models.Notification)
	}
	var attempts []*models.DeliveryAttempt
	if args.Get(1) != nil {
		attempts = args.Get(1).([]*models.DeliveryAttempt)
	}
	return n, attempts, args.Error(2)
}

func (m *MockStore) RecordAttempt(attempt *models.DeliveryAttempt) error {
	args := m.Called(attempt)
	return args.Error(0)
}

func (m *MockStore) UpdateStatus(trackingID string, status models.Status) error {
	args := m.Called(trackingID, status)
	return args.Error(0)
}

func (m *MockStore) ListStuck(olderThan time.Duration) ([]*models.Notification, error) {
	args := m.Called(olderThan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Notification), args.Error(1)
}

func (m *MockStore) CreateTemplate(t *models.Template) error {
	args := m.Called(t)
	return args.Error(0)
}

func (m *MockStore) GetTemplateByID(templateID string) (*models.Template, error) {
	args := m.Called(templateID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Template), args.Error(1)
}

func (m *MockStore) GetTemplateByName(name string) (*models.Template, error) {
	args := m.Called(name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Template), args.Error(1)
}

func (m *MockStore) ListTemplates(page, size int, filter TemplateFilter) ([]*models.Template, int, error) {
	args := m.Called(page, size, filter)
	var items []*models.Template
	if args.Get(0) != nil {
		items = args.Get(0).([]*models.Template)
	}
	return items, args.Int(1), args.Error(2)
}

func (m *MockStore) SetTemplateActive(templateID string, active bool) error {
	args := m.Called(templateID, active)
	return args.Error(0)
}

func (m *MockStore) CreateSchedule(s *models.ScheduledNotification) error {
	args := m.Called(s)
	return args.Error(0)
}

func (m *MockStore) ListDueSchedules(now time.Time) ([]*models.ScheduledNotification, error) {
	args := m.Called(now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ScheduledNotification), args.Error(1)
}

func (m *MockStore) UpdateSchedule(s *models.ScheduledNotification) error {
	args := m.Called(s)
	return args.Error(0)
}

func (m *MockStore) AnalyticsWindow(start, end time.Time) (*AnalyticsWindow, error) {
	args := m.Called(start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AnalyticsWindow), args.Error(1)
}

func (m *MockStore) DatabaseSizeBytes() (int64, error) {
	args := m.Called()
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) DeleteOlderThan(cutoff time.Time) (int, error) {
	args := m.Called(cutoff)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) RunIncrementalVacuum() error {
	args := m.Called()
	return args.Error(0)
}
