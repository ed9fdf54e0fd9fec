package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chairbook"

// Metrics holds the booking-service collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	slotQueries      *prometheus.CounterVec
	slotQueryLatency prometheus.Histogram
	configErrors     *prometheus.CounterVec
	bookingsCreated  *prometheus.CounterVec
	bookingConflicts prometheus.Counter
	statusChanges    *prometheus.CounterVec
	stateErrors      *prometheus.CounterVec
	outboxPublished  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		slotQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_queries_total",
			Help:      "Availability queries by outcome.",
		}, []string{"outcome"}),
		slotQueryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_query_duration_seconds",
			Help:      "Time to derive available slots, store reads included.",
			Buckets:   prometheus.DefBuckets,
		}),
		configErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opening_hours_config_errors_total",
			Help:      "Opening-hours entries treated as closed because they were missing or malformed.",
		}, []string{"weekday"}),
		bookingsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_created_total",
			Help:      "Booking rows created, by initial status.",
		}, []string{"status"}),
		bookingConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_conflicts_total",
			Help:      "Submissions rejected because the slot was already held.",
		}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_status_changes_total",
			Help:      "Successful staff status transitions, by target status.",
		}, []string{"to"}),
		stateErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_state_errors_total",
			Help:      "Rejected status transitions, by requested target status.",
		}, []string{"to"}),
		outboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_published_total",
			Help:      "Outbox events written to Kafka.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.slotQueries,
		m.slotQueryLatency,
		m.configErrors,
		m.bookingsCreated,
		m.bookingConflicts,
		m.statusChanges,
		m.stateErrors,
		m.outboxPublished,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveSlotQuery records one availability query. outcome is "ok",
// "closed" or "error".
func (m *Metrics) ObserveSlotQuery(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.slotQueries.WithLabelValues(outcome).Inc()
	m.slotQueryLatency.Observe(d.Seconds())
}

func (m *Metrics) IncConfigError(weekday string) {
	if m == nil {
		return
	}
	if weekday == "" {
		weekday = "unknown"
	}
	m.configErrors.WithLabelValues(weekday).Inc()
}

func (m *Metrics) AddBookingsCreated(status string, rows int) {
	if m == nil {
		return
	}
	m.bookingsCreated.WithLabelValues(status).Add(float64(rows))
}

func (m *Metrics) IncConflict() {
	if m == nil {
		return
	}
	m.bookingConflicts.Inc()
}

func (m *Metrics) IncStatusChange(to string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(to).Inc()
}

func (m *Metrics) IncStateError(to string) {
	if m == nil {
		return
	}
	m.stateErrors.WithLabelValues(to).Inc()
}

func (m *Metrics) AddOutboxPublished(n int) {
	if m == nil {
		return
	}
	m.outboxPublished.Add(float64(n))
}
