package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	log zerolog.Logger

	// Scheduler metrics
	jobsInstalledTotal prometheus.Counter
	jobsCancelledTotal prometheus.Counter
	jobsActive         prometheus.Gauge
	firingsTotal       *prometheus.CounterVec
	firingDuration     prometheus.Histogram

	// Retention metrics
	retentionSweepsTotal   *prometheus.CounterVec
	retentionDeletedTotal  prometheus.Counter
	retentionSweepDuration prometheus.Histogram

	// Reconciler metrics
	reconcileRestoredTotal prometheus.Counter
	reconcileOrphanedTotal prometheus.Counter

	// Dispatcher metrics
	deliveryAttemptsTotal *prometheus.CounterVec
	deliveryOutcomesTotal *prometheus.CounterVec
	webhookDuration       prometheus.Histogram
	retryAttemptsTotal    *prometheus.CounterVec
	eventsInFlight        prometheus.Gauge

	// EventBus metrics
	bufferSize      prometheus.Gauge
	emitErrorsTotal prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer, log zerolog.Logger) *PrometheusSink {
	s := &PrometheusSink{log: log}
	s.initSchedulerMetrics(reg)
	s.initRetentionMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initEventBusMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.jobsInstalledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventtrigger_scheduler_jobs_installed_total",
		Help: "Total number of jobs installed (including replacements on edit).",
	})
	s.jobsCancelledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventtrigger_scheduler_jobs_cancelled_total",
		Help: "Total number of live jobs cancelled.",
	})
	s.jobsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eventtrigger_scheduler_jobs_active",
		Help: "Number of jobs currently registered.",
	})
	s.firingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventtrigger_scheduler_firings_total",
		Help: "Total number of scheduled firings by outcome.",
	}, []string{"outcome"})
	s.firingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventtrigger_scheduler_firing_duration_seconds",
		Help:    "Duration of each scheduled firing in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
	s.reconcileRestoredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventtrigger_reconciler_jobs_restored_total",
		Help: "Total number of missing jobs re-installed by the reconciler.",
	})
	s.reconcileOrphanedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventtrigger_reconciler_orphaned_jobs_total",
		Help: "Total number of jobs removed because their trigger no longer exists.",
	})

	s.register(reg, s.jobsInstalledTotal, "eventtrigger_scheduler_jobs_installed_total")
	s.register(reg, s.jobsCancelledTotal, "eventtrigger_scheduler_jobs_cancelled_total")
	s.register(reg, s.jobsActive, "eventtrigger_scheduler_jobs_active")
	s.register(reg, s.firingsTotal, "eventtrigger_scheduler_firings_total")
	s.register(reg, s.firingDuration, "eventtrigger_scheduler_firing_duration_seconds")
	s.register(reg, s.reconcileRestoredTotal, "eventtrigger_reconciler_jobs_restored_total")
	s.register(reg, s.reconcileOrphanedTotal, "eventtrigger_reconciler_orphaned_jobs_total")
}

func (s *PrometheusSink) initRetentionMetrics(reg prometheus.Registerer) {
	s.retentionSweepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventtrigger_retention_sweeps_total",
		Help: "Total number of retention sweeps by result.",
	}, []string{"result"})
	s.retentionDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventtrigger_retention_deleted_logs_total",
		Help: "Total number of event logs deleted by the retention sweeper.",
	})
	s.retentionSweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventtrigger_retention_sweep_duration_seconds",
		Help:    "Duration of each retention sweep in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})

	s.register(reg, s.retentionSweepsTotal, "eventtrigger_retention_sweeps_total")
	s.register(reg, s.retentionDeletedTotal, "eventtrigger_retention_deleted_logs_total")
	s.register(reg, s.retentionSweepDuration, "eventtrigger_retention_sweep_duration_seconds")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.deliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventtrigger_dispatcher_delivery_attempts_total",
		Help: "Total number of api trigger delivery attempts.",
	}, []string{"attempt", "status_class"})

	s.deliveryOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventtrigger_dispatcher_delivery_outcomes_total",
		Help: "Total number of final delivery outcomes per fired event.",
	}, []string{"outcome"})

	s.webhookDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventtrigger_dispatcher_webhook_duration_seconds",
		Help:    "Outbound request latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.retryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventtrigger_dispatcher_retry_attempts_total",
		Help: "Total number of retry attempts (excludes first attempt).",
	}, []string{"retryable"})

	s.eventsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eventtrigger_dispatcher_events_in_flight",
		Help: "Number of fired events currently being delivered.",
	})

	s.register(reg, s.deliveryAttemptsTotal, "eventtrigger_dispatcher_delivery_attempts_total")
	s.register(reg, s.deliveryOutcomesTotal, "eventtrigger_dispatcher_delivery_outcomes_total")
	s.register(reg, s.webhookDuration, "eventtrigger_dispatcher_webhook_duration_seconds")
	s.register(reg, s.retryAttemptsTotal, "eventtrigger_dispatcher_retry_attempts_total")
	s.register(reg, s.eventsInFlight, "eventtrigger_dispatcher_events_in_flight")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eventtrigger_eventbus_buffer_size",
		Help: "Current number of events in the event bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventtrigger_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.register(reg, s.bufferSize, "eventtrigger_eventbus_buffer_size")
	s.register(reg, s.emitErrorsTotal, "eventtrigger_eventbus_emit_errors_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.log.Warn().Err(err).Str("metric", name).Msg("failed to register metric")
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) JobInstalled() {
	s.jobsInstalledTotal.Inc()
}

func (s *PrometheusSink) JobCancelled() {
	s.jobsCancelledTotal.Inc()
}

func (s *PrometheusSink) JobsActive(count int) {
	s.jobsActive.Set(float64(count))
}

func (s *PrometheusSink) FiringCompleted(outcome string, duration time.Duration) {
	s.firingsTotal.WithLabelValues(outcome).Inc()
	s.firingDuration.Observe(duration.Seconds())
}

// Retention metrics implementation

func (s *PrometheusSink) RetentionSweepCompleted(deleted int64, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.retentionSweepsTotal.WithLabelValues(result).Inc()
	s.retentionDeletedTotal.Add(float64(deleted))
	s.retentionSweepDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) ReconcileCompleted(restored, orphaned int) {
	s.reconcileRestoredTotal.Add(float64(restored))
	s.reconcileOrphanedTotal.Add(float64(orphaned))
}

// Dispatcher metrics implementation

func (s *PrometheusSink) DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration) {
	s.deliveryAttemptsTotal.WithLabelValues(strconv.Itoa(attempt), statusClass).Inc()
	s.webhookDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DeliveryOutcome(outcome string) {
	s.deliveryOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) RetryAttempt(retryable bool) {
	s.retryAttemptsTotal.WithLabelValues(strconv.FormatBool(retryable)).Inc()
}

func (s *PrometheusSink) EventsInFlightIncr() {
	s.eventsInFlight.Inc()
}

func (s *PrometheusSink) EventsInFlightDecr() {
	s.eventsInFlight.Dec()
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}
