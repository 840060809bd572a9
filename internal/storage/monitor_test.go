package storage

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bakerapps/notifyd/internal/config"
	"github.com/bakerapps/notifyd/internal/delivery"
	"github.com/bakerapps/notifyd/internal/metrics"
)

// newTestMonitor creates a Monitor wired to a MockStore for testing.
func newTestMonitor(store *delivery.MockStore) (*Monitor, *metrics.Metrics) {
	cfg := &config.Config{}
	cfg.Storage.MonitorInterval.Duration = 1 * time.Minute
	cfg.Storage.VolumePath = "/" // Use root filesystem for tests.
	cfg.Storage.DBPath = "/data/notifyd.db"
	cfg.Storage.WarningThreshold = 80
	cfg.Storage.CriticalThreshold = 90

	logger := zap.NewNop()
	m := metrics.NewMetrics(prometheus.NewRegistry())

	return NewMonitor(store, cfg, m, logger), m
}

// getGaugeValue reads the current value of a prometheus.Gauge.
func getGaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func TestCheckDBSizeMetricUpdated(t *testing.T) {
	store := new(delivery.MockStore)
	mon, m := newTestMonitor(store)

	store.On("DatabaseSizeBytes").Return(int64(1048576), nil).Once()

	err := mon.Check(context.Background())

	require.NoError(t, err)
	store.AssertExpectations(t)

	dbSize := getGaugeValue(m.DBSizeBytes)
	assert.Equal(t, float64(1048576), dbSize, "DBSizeBytes metric should be set to 1 MiB")
}

func TestCheckVolumeMetricsUpdated(t *testing.T) {
	store := new(delivery.MockStore)
	mon, m := newTestMonitor(store)

	store.On("DatabaseSizeBytes").Return(int64(512000), nil).Once()

	err := mon.Check(context.Background())

	require.NoError(t, err)
	store.AssertExpectations(t)

	// Volume metrics should have non-zero values since we are using "/".
	totalBytes := getGaugeValue(m.StorageVolumeSizeBytes)
	assert.Greater(t, totalBytes, float64(0), "StorageVolumeSizeBytes should be positive")

	usedBytes := getGaugeValue(m.StorageVolumeUsedBytes)
	assert.Greater(t, usedBytes, float64(0), "StorageVolumeUsedBytes should be positive")

	availBytes := getGaugeValue(m.StorageVolumeAvailableBytes)
	assert.Greater(t, availBytes, float64(0), "StorageVolumeAvailableBytes should be positive")

	usagePercent := getGaugeValue(m.StorageVolumeUsagePercent)
	assert.Greater(t, usagePercent, float64(0), "StorageVolumeUsagePercent should be positive")
	assert.Less(t, usagePercent, float64(100), "StorageVolumeUsagePercent should be less than 100")

	totalInodes := getGaugeValue(m.StorageVolumeInodesTotal)
	// Some filesystems (e.g. btrfs) report 0 inodes; skip this check if so.
	if totalInodes > 0 {
		assert.Greater(t, totalInodes, float64(0), "StorageVolumeInodesTotal should be positive")
	}
}

func TestNewMonitorReturnsNonNil(t *testing.T) {
	store := new(delivery.MockStore)
	mon, _ := newTestMonitor(store)

	assert.NotNil(t, mon)
	assert.NotNil(t, mon.store)
	assert.NotNil(t, mon.cfg)
	assert.NotNil(t, mon.metrics)
	assert.NotNil(t, mon.logger)
}

func TestCheckContextCancelled(t *testing.T) {
	store := new(delivery.MockStore)
	mon, _ := newTestMonitor(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately.

	err := mon.Check(ctx)

	assert.Error(t, err)
	assert.Equal(t, context.Canceled, err)
}

func TestMonitorStartStops(t *testing.T) {
	store := new(delivery.MockStore)
	mon, _ := newTestMonitor(store)
	mon.cfg.Storage.MonitorInterval.Duration = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		mon.Start(ctx)
		close(done)
	}()

	// Cancel after a short delay.
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Start returned as expected.
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}
