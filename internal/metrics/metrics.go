// Package metrics defines and registers all Prometheus metrics used by the
// notifyd service. Metrics are organised by functional area and share the
// common "notifyd_" prefix.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector used by notifyd.
type Metrics struct {
	// ---------------------------------------------------------------
	// Intake
	// ---------------------------------------------------------------

	// NotificationsAcceptedTotal counts notifications admitted at the API.
	NotificationsAcceptedTotal *prometheus.CounterVec

	// NotificationsRejectedTotal counts notifications rejected at validation.
	NotificationsRejectedTotal *prometheus.CounterVec

	// ---------------------------------------------------------------
	// Queue
	// ---------------------------------------------------------------

	// QueueDepth tracks the current number of entries waiting per priority.
	QueueDepth *prometheus.GaugeVec

	// QueueWaitSeconds observes time spent queued before a worker pops an entry.
	QueueWaitSeconds *prometheus.HistogramVec

	// DelayedReenqueueTotal counts transient-failure re-enqueues scheduled
	// by the delay wheel.
	DelayedReenqueueTotal *prometheus.CounterVec

	// ---------------------------------------------------------------
	// Delivery
	// ---------------------------------------------------------------

	// DeliveryAttemptsTotal counts delivery attempts by channel and outcome.
	DeliveryAttemptsTotal *prometheus.CounterVec

	// DeliveryLatencySeconds observes adapter send latency by channel.
	DeliveryLatencySeconds *prometheus.HistogramVec

	// DeliveryAttemptsPerNotification observes how many attempts each
	// notification required before reaching a terminal state.
	DeliveryAttemptsPerNotification *prometheus.HistogramVec

	// RetriesExhaustedTotal counts notifications that exhausted their retry
	// budget without delivering.
	RetriesExhaustedTotal *prometheus.CounterVec

	// RenderErrorsTotal counts template rendering failures by channel.
	RenderErrorsTotal *prometheus.CounterVec

	// ---------------------------------------------------------------
	// Circuit Breaker
	// ---------------------------------------------------------------

	// BreakerState tracks each recipient's breaker state (0=closed,
	// 1=half_open, 2=open).
	BreakerState *prometheus.GaugeVec

	// BreakerTripsTotal counts breaker open transitions.
	BreakerTripsTotal *prometheus.CounterVec

	// BreakerRejectionsTotal counts sends refused by an open breaker.
	BreakerRejectionsTotal *prometheus.CounterVec

	// ---------------------------------------------------------------
	// Rate Limiter
	// ---------------------------------------------------------------

	// RateLimiterDeniedTotal counts sends denied by the recipient rate limiter.
	RateLimiterDeniedTotal *prometheus.CounterVec

	// ---------------------------------------------------------------
	// Scheduler
	// ---------------------------------------------------------------

	// SchedulerRunsTotal counts scheduler poll runs by status.
	SchedulerRunsTotal *prometheus.CounterVec

	// SchedulerFiredTotal counts scheduled notifications admitted to the queue.
	SchedulerFiredTotal *prometheus.CounterVec

	// ---------------------------------------------------------------
	// Requeue (startup re-admission)
	// ---------------------------------------------------------------

	// RequeueRunsTotal counts re-admission passes by status.
	RequeueRunsTotal *prometheus.CounterVec

	// RequeueReadmittedTotal counts notifications re-admitted from a stuck state.
	RequeueReadmittedTotal prometheus.Counter

	// ---------------------------------------------------------------
	// Retention / Cleanup
	// ---------------------------------------------------------------

	// CleanupRunsTotal counts retention cleanup runs by status.
	CleanupRunsTotal *prometheus.CounterVec

	// CleanupDuration observes how long each cleanup run takes.
	CleanupDuration prometheus.Histogram

	// CleanupRecordsDeleted counts total notifications deleted by retention.
	CleanupRecordsDeleted prometheus.Counter

	// ---------------------------------------------------------------
	// Store
	// ---------------------------------------------------------------

	// DBSizeBytes tracks the database file size.
	DBSizeBytes prometheus.Gauge

	// DBOperationDuration observes store operation latencies.
	DBOperationDuration *prometheus.HistogramVec

	// DBOperationErrors counts store operation errors.
	DBOperationErrors *prometheus.CounterVec

	// ---------------------------------------------------------------
	// Storage volume
	// ---------------------------------------------------------------

	// StorageVolumeSizeBytes tracks the total size of the storage volume.
	StorageVolumeSizeBytes prometheus.Gauge

	// StorageVolumeUsedBytes tracks the used bytes of the storage volume.
	StorageVolumeUsedBytes prometheus.Gauge

	// StorageVolumeAvailableBytes tracks the available bytes of the storage volume.
	StorageVolumeAvailableBytes prometheus.Gauge

	// StorageVolumeUsagePercent tracks the usage percentage of the storage volume.
	StorageVolumeUsagePercent prometheus.Gauge

	// StoragePressure indicates storage pressure by severity level.
	StoragePressure *prometheus.GaugeVec

	// ---------------------------------------------------------------
	// Component Health
	// ---------------------------------------------------------------

	// ComponentUp indicates whether a component is healthy (1) or not (0).
	ComponentUp *prometheus.GaugeVec

	// ComponentLastSuccess records the Unix timestamp of each component's last success.
	ComponentLastSuccess *prometheus.GaugeVec

	// ---------------------------------------------------------------
	// Worker Performance
	// ---------------------------------------------------------------

	// WorkerBusy tracks whether each worker is currently processing an entry.
	WorkerBusy *prometheus.GaugeVec

	// WorkerProcessingDuration observes how long workers take to process entries.
	WorkerProcessingDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics with the supplied
// registerer. Pass prometheus.DefaultRegisterer for global registration or a
// custom registry for testing.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{}

	m.NotificationsAcceptedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyd_notifications_accepted_total",
		Help: "Total notifications admitted at the API.",
	}, []string{"channel", "priority"})
	registerer.MustRegister(m.NotificationsAcceptedTotal)

	m.NotificationsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyd_notifications_rejected_total",
		Help: "Total notifications rejected at validation.",
	}, []string{"reason"})
	registerer.MustRegister(m.NotificationsRejectedTotal)

	m.QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "notifyd_queue_depth",
		Help: "Current number of queued entries per priority.",
	}, []string{"priority"})
	registerer.MustRegister(m.QueueDepth)

	m.QueueWaitSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notifyd_queue_wait_seconds",
		Help:    "Time an entry spent queued before a worker popped it.",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 60},
	}, []string{"priority"})
	registerer.MustRegister(m.QueueWaitSeconds)

	m.DelayedReenqueueTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyd_delayed_reenqueue_total",
		Help: "Transient-failure re-enqueues scheduled by the delay wheel.",
	}, []string{"channel", "priority"})
	registerer.MustRegister(m.DelayedReenqueueTotal)

	m.DeliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyd_delivery_attempts_total",
		Help: "Delivery attempts by channel and outcome.",
	}, []string{"channel", "outcome"})
	registerer.MustRegister(m.DeliveryAttemptsTotal)

	m.DeliveryLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notifyd_delivery_latency_seconds",
		Help:    "Adapter send latency by channel.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
	}, []string{"channel"})
	registerer.MustRegister(m.DeliveryLatencySeconds)

	m.DeliveryAttemptsPerNotification = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notifyd_delivery_attempts_per_notification",
		Help:    "Attempts required per notification before reaching a terminal state.",
		Buckets: []float64{1, 2, 3, 5, 10},
	}, []string{"channel"})
	registerer.MustRegister(m.DeliveryAttemptsPerNotification)

	m.RetriesExhaustedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyd_retries_exhausted_total",
		Help: "Notifications that exhausted their retry budget without delivering.",
	}, []string{"channel", "priority"})
	registerer.MustRegister(m.RetriesExhaustedTotal)

	m.RenderErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyd_render_errors_total",
		Help: "Template rendering failures by channel.",
	}, []string{"channel"})
	registerer.MustRegister(m.RenderErrorsTotal)

	m.BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "notifyd_breaker_state",
		Help: "Circuit breaker state per recipient (0=closed, 1=half_open, 2=open).",
	}, []string{"recipient"})
	registerer.MustRegister(m.BreakerState)

	m.BreakerTripsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyd_breaker_trips_total",
		Help: "Circuit breaker open transitions.",
	}, []string{"recipient"})
	registerer.MustRegister(m.BreakerTripsTotal)

	m.BreakerRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyd_breaker_rejections_total",
		Help: "Sends refused because a recipient's breaker was open.",
	}, []string{"recipient"})
	registerer.MustRegister(m.BreakerRejectionsTotal)

	m.RateLimiterDeniedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyd_rate_limiter_denied_total",
		Help: "Sends denied by the recipient rate limiter.",
	}, []string{"recipient"})
	registerer.MustRegister(m.RateLimiterDeniedTotal)

	m.SchedulerRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyd_scheduler_runs_total",
		Help: "Scheduler poll runs by status.",
	}, []string{"status"})
	registerer.MustRegister(m.SchedulerRunsTotal)

	m.SchedulerFiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyd_scheduler_fired_total",
		Help: "Scheduled notifications admitted to the queue.",
	}, []string{"channel"})
	registerer.MustRegister(m.SchedulerFiredTotal)

	m.RequeueRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyd_requeue_runs_total",
		Help: "Startup/periodic re-admission passes by status.",
	}, []string{"status"})
	registerer.MustRegister(m.RequeueRunsTotal)

	m.RequeueReadmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifyd_requeue_readmitted_total",
		Help: "Notifications re-admitted to the queue from a stuck state.",
	})
	registerer.MustRegister(m.RequeueReadmittedTotal)

	m.CleanupRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyd_cleanup_runs_total",
		Help: "Retention cleanup runs by status.",
	}, []string{"status"})
	registerer.MustRegister(m.CleanupRunsTotal)

	m.CleanupDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "notifyd_cleanup_duration_seconds",
		Help:    "Duration of each retention cleanup run.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
	})
	registerer.MustRegister(m.CleanupDuration)

	m.CleanupRecordsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifyd_cleanup_records_deleted_total",
		Help: "Total number of notifications deleted by retention cleanup.",
	})
	registerer.MustRegister(m.CleanupRecordsDeleted)

	m.DBSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notifyd_db_size_bytes",
		Help: "Size of the delivery store database file in bytes.",
	})
	registerer.MustRegister(m.DBSizeBytes)

	m.DBOperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notifyd_db_operation_duration_seconds",
		Help:    "Duration of delivery store operations.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	}, []string{"operation"})
	registerer.MustRegister(m.DBOperationDuration)

	m.DBOperationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyd_db_operation_errors_total",
		Help: "Delivery store operation errors.",
	}, []string{"operation"})
	registerer.MustRegister(m.DBOperationErrors)

	m.StorageVolumeSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notifyd_storage_volume_size_bytes",
		Help: "Total size of the storage volume in bytes.",
	})
	registerer.MustRegister(m.StorageVolumeSizeBytes)

	m.StorageVolumeUsedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notifyd_storage_volume_used_bytes",
		Help: "Used bytes on the storage volume.",
	})
	registerer.MustRegister(m.StorageVolumeUsedBytes)

	m.StorageVolumeAvailableBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notifyd_storage_volume_available_bytes",
		Help: "Available bytes on the storage volume.",
	})
	registerer.MustRegister(m.StorageVolumeAvailableBytes)

	m.StorageVolumeUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notifyd_storage_volume_usage_percent",
		Help: "Usage percentage of the storage volume.",
	})
	registerer.MustRegister(m.StorageVolumeUsagePercent)

	m.StoragePressure = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "notifyd_storage_pressure",
		Help: "Storage pressure indicator by severity level.",
	}, []string{"severity"})
	registerer.MustRegister(m.StoragePressure)

	m.ComponentUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "notifyd_component_up",
		Help: "Whether a component is healthy (1) or not (0).",
	}, []string{"component"})
	registerer.MustRegister(m.ComponentUp)

	m.ComponentLastSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "notifyd_component_last_success_timestamp",
		Help: "Unix timestamp of each component's last successful operation.",
	}, []string{"component"})
	registerer.MustRegister(m.ComponentLastSuccess)

	m.WorkerBusy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "notifyd_worker_busy",
		Help: "Whether each worker is currently processing an entry (1) or idle (0).",
	}, []string{"worker"})
	registerer.MustRegister(m.WorkerBusy)

	m.WorkerProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notifyd_worker_processing_duration_seconds",
		Help:    "Time taken by workers to process a queue entry end to end.",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0, 10.0},
	}, []string{"worker"})
	registerer.MustRegister(m.WorkerProcessingDuration)

	return m
}

// New creates a Metrics instance registered against the default Prometheus
// registry. This is a convenience wrapper for use in production code and
// tests that do not need an isolated registry.
func New() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// RecordDelivery records a single delivery attempt outcome and its latency.
func (m *Metrics) RecordDelivery(channel, outcome string, latency float64) {
	m.DeliveryAttemptsTotal.WithLabelValues(channel, outcome).Inc()
	if outcome == "delivered" {
		m.DeliveryLatencySeconds.WithLabelValues(channel).Observe(latency)
	}
}

// RecordBreakerState updates the gauge for a recipient's breaker state.
func (m *Metrics) RecordBreakerState(recipient, state string) {
	var v float64
	switch state {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	m.BreakerState.WithLabelValues(recipient).Set(v)
}
