// Package observability provides Prometheus metrics and structured logging.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Poll outcomes recorded per entity.
const (
	OutcomeOK          = "ok"
	OutcomeTransient   = "transient"
	OutcomeRateLimited = "rate_limited"
	OutcomePermanent   = "permanent"
	OutcomeConflict    = "conflict"
	OutcomeStoreError  = "store_error"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Scheduler metrics
	CyclesTotal      *prometheus.CounterVec
	CycleDuration    prometheus.Histogram
	PollsTotal       *prometheus.CounterVec
	FetchLatency     prometheus.Histogram
	CommitLatency    prometheus.Histogram
	CommitConflicts  prometheus.Counter
	WatchedEntities  prometheus.Gauge
	ParkedEntities   prometheus.Gauge
	ChangesDetected  *prometheus.CounterVec
	TerminalEvents   prometheus.Counter
	SinkErrors       *prometheus.CounterVec
	RecoveredOnStart prometheus.Counter

	// Feed metrics
	FeedClients         prometheus.Gauge
	FeedMessagesDropped prometheus.Counter

	// API metrics
	APIRequests *prometheus.CounterVec

	// Health metrics
	LastSuccessfulCycle prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "dealwatch"
	}
	f := promauto.With(reg)

	return &Metrics{
		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "cycles_total",
			Help:      "Total number of poll cycles by status",
		}, []string{"status"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "cycle_duration_seconds",
			Help:      "Poll cycle duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}),
		PollsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "polls_total",
			Help:      "Total number of entity polls by outcome",
		}, []string{"outcome"}),
		FetchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "latency_seconds",
			Help:      "Upstream fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		CommitLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "commit_latency_seconds",
			Help:      "Snapshot commit latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		CommitConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "commit_conflicts_total",
			Help:      "Total number of optimistic version conflicts",
		}),
		WatchedEntities: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "watched_entities",
			Help:      "Number of watched entities at the last cycle",
		}),
		ParkedEntities: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "parked_entities",
			Help:      "Number of permanently failed entities skipped at the last cycle",
		}),
		ChangesDetected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "changes_detected_total",
			Help:      "Total number of committed change records by kind",
		}, []string{"kind"}),
		TerminalEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "terminal_events_total",
			Help:      "Total number of permanent failures recorded",
		}),
		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "sink_errors_total",
			Help:      "Total number of change sink failures by sink",
		}, []string{"sink"}),
		RecoveredOnStart: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "recovered_on_start_total",
			Help:      "Entities found mid-poll at startup and marked failed",
		}),

		FeedClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "clients",
			Help:      "Number of connected live feed clients",
		}),
		FeedMessagesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped for slow feed clients",
		}),

		APIRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests by route and status code",
		}, []string{"route", "code"}),

		LastSuccessfulCycle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of the last poll cycle that completed",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// RecordCycle records a finished poll cycle.
func RecordCycle(status string, d time.Duration, watched, parked int) {
	DefaultMetrics.CyclesTotal.WithLabelValues(status).Inc()
	DefaultMetrics.CycleDuration.Observe(d.Seconds())
	DefaultMetrics.WatchedEntities.Set(float64(watched))
	DefaultMetrics.ParkedEntities.Set(float64(parked))
	if status == OutcomeOK {
		DefaultMetrics.LastSuccessfulCycle.SetToCurrentTime()
	}
}

// RecordPoll records the outcome of one entity poll.
func RecordPoll(outcome string) {
	DefaultMetrics.PollsTotal.WithLabelValues(outcome).Inc()
}

// RecordFetch records upstream fetch latency.
func RecordFetch(d time.Duration) {
	DefaultMetrics.FetchLatency.Observe(d.Seconds())
}

// RecordCommit records commit latency and conflicts.
func RecordCommit(d time.Duration, conflict bool) {
	DefaultMetrics.CommitLatency.Observe(d.Seconds())
	if conflict {
		DefaultMetrics.CommitConflicts.Inc()
	}
}

// RecordChange increments the committed change counter for kind.
func RecordChange(kind string) {
	DefaultMetrics.ChangesDetected.WithLabelValues(kind).Inc()
}

// RecordTerminalEvent increments the permanent failure counter.
func RecordTerminalEvent() {
	DefaultMetrics.TerminalEvents.Inc()
}

// RecordSinkError records a failed change sink delivery.
func RecordSinkError(sink string) {
	DefaultMetrics.SinkErrors.WithLabelValues(sink).Inc()
}

// RecordRecovered records entities recovered from an interrupted poll.
func RecordRecovered(n int) {
	DefaultMetrics.RecoveredOnStart.Add(float64(n))
}

// UpdateFeedClients sets the connected feed client gauge.
func UpdateFeedClients(n int) {
	DefaultMetrics.FeedClients.Set(float64(n))
}

// RecordFeedDrop records a message dropped for a slow client.
func RecordFeedDrop() {
	DefaultMetrics.FeedMessagesDropped.Inc()
}

// RecordAPIRequest records a served API request.
func RecordAPIRequest(route string, code int) {
	DefaultMetrics.APIRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
