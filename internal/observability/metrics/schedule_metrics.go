package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonNotFound             = "not_found"
	JobReasonUnknown              = "unknown"
)

// ScheduleMetrics captures scheduler, background queue and task sync signals.
type ScheduleMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	runLoopLag     prometheus.Histogram
	leaseSkipped   *prometheus.CounterVec

	queueSubmitted *prometheus.CounterVec
	queueDropped   *prometheus.CounterVec
	queueFailed    *prometheus.CounterVec
	queueDepth     prometheus.Gauge

	cbcSync *prometheus.CounterVec
}

// NewScheduleMetrics registers the collectors on the given registerer.
func NewScheduleMetrics(registerer prometheus.Registerer, cfg Config) *ScheduleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "dealcadence"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &ScheduleMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "dealcadence_scheduler_job_runs_total",
			Help:        "Scheduler job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "dealcadence_scheduler_job_duration_seconds",
			Help:        "Scheduler job latency.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "dealcadence_scheduler_job_timeouts_total",
			Help:        "Scheduler jobs that hit their deadline.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "dealcadence_scheduler_job_errors_total",
			Help:        "Scheduler job errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		batchProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "dealcadence_scheduler_batch_processed_total",
			Help:        "Opportunities processed by scheduler jobs.",
			ConstLabels: constLabels,
		}, []string{"job", "outcome"}),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "dealcadence_scheduler_runloop_lag_seconds",
			Help:        "Scheduler run loop lag beyond the configured interval.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			ConstLabels: constLabels,
		}),
		leaseSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "dealcadence_scheduler_lease_skipped_total",
			Help:        "Cron runs skipped because another replica held the lease.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		queueSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "dealcadence_taskqueue_submitted_total",
			Help:        "Background jobs accepted by the queue.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		queueDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "dealcadence_taskqueue_dropped_total",
			Help:        "Background jobs dropped because the queue was full or stopped.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		queueFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "dealcadence_taskqueue_failed_total",
			Help:        "Background jobs that returned an error or panicked.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "dealcadence_taskqueue_depth",
			Help:        "Jobs waiting in the background queue.",
			ConstLabels: constLabels,
		}),
		cbcSync: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "dealcadence_cbc_sync_total",
			Help:        "CBC task synchronizer results by action.",
			ConstLabels: constLabels,
		}, []string{"action"}),
	}

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobTimeouts,
		m.jobErrors,
		m.batchProcessed,
		m.runLoopLag,
		m.leaseSkipped,
		m.queueSubmitted,
		m.queueDropped,
		m.queueFailed,
		m.queueDepth,
		m.cbcSync,
	)
	return m
}

func (m *ScheduleMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *ScheduleMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *ScheduleMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError classifies err into a reason label.
func (m *ScheduleMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

func (m *ScheduleMetrics) AddBatchProcessed(job, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job, outcome).Add(float64(count))
}

func (m *ScheduleMetrics) ObserveRunLoopLag(lag time.Duration) {
	if m == nil {
		return
	}
	if lag < 0 {
		lag = 0
	}
	m.runLoopLag.Observe(lag.Seconds())
}

func (m *ScheduleMetrics) IncLeaseSkipped(job string) {
	if m == nil {
		return
	}
	m.leaseSkipped.WithLabelValues(job).Inc()
}

func (m *ScheduleMetrics) IncQueueSubmitted(job string) {
	if m == nil {
		return
	}
	m.queueSubmitted.WithLabelValues(job).Inc()
}

func (m *ScheduleMetrics) IncQueueDropped(job, reason string) {
	if m == nil {
		return
	}
	m.queueDropped.WithLabelValues(job, reason).Inc()
}

func (m *ScheduleMetrics) IncQueueFailed(job, reason string) {
	if m == nil {
		return
	}
	m.queueFailed.WithLabelValues(job, reason).Inc()
}

func (m *ScheduleMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *ScheduleMetrics) IncCBCSync(action string) {
	if m == nil {
		return
	}
	m.cbcSync.WithLabelValues(action).Inc()
}

// ClassifyJobReason maps job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	switch {
	case err == nil:
		return JobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return JobReasonDeadlineExceeded
	case errors.Is(err, gorm.ErrRecordNotFound):
		return JobReasonNotFound
	case hasPGCode(err, "55P03"):
		return JobReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return JobReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return JobReasonUniqueViolation
	}
	return JobReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
