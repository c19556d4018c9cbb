package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for newsletterd
type Metrics struct {
	// Dispatch counters
	MessagesSentTotal     *prometheus.CounterVec
	MessagesFailedTotal   *prometheus.CounterVec
	MessagesDeferredTotal *prometheus.CounterVec
	SubmissionsTotal      *prometheus.CounterVec

	// Dispatch timing
	DispatchDurationSeconds *prometheus.HistogramVec

	// Subscription counters
	SubscribesTotal   *prometheus.CounterVec
	UnsubscribesTotal *prometheus.CounterVec

	// Gauges
	OutboxSize prometheus.Gauge

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsletterd_messages_sent_total",
				Help: "Total number of successfully delivered messages",
			},
			[]string{"newsletter"},
		),
		MessagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsletterd_messages_failed_total",
				Help: "Total number of permanently failed messages",
			},
			[]string{"newsletter"},
		),
		MessagesDeferredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsletterd_messages_deferred_total",
				Help: "Total number of deliveries deferred to the retry outbox",
			},
			[]string{"newsletter"},
		),
		SubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsletterd_submissions_total",
				Help: "Total number of dispatched submissions by outcome",
			},
			[]string{"status"},
		),
		DispatchDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newsletterd_dispatch_duration_seconds",
				Help:    "Duration of submission dispatch",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"newsletter"},
		),
		SubscribesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsletterd_subscribes_total",
				Help: "Total number of new subscriptions",
			},
			[]string{"newsletter"},
		),
		UnsubscribesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsletterd_unsubscribes_total",
				Help: "Total number of unsubscriptions",
			},
			[]string{"newsletter"},
		),
		OutboxSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "newsletterd_outbox_size",
				Help: "Number of deliveries waiting in the retry outbox",
			},
		),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsletterd_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newsletterd_api_request_duration_seconds",
				Help:    "Duration of API requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.MessagesDeferredTotal,
		m.SubmissionsTotal,
		m.DispatchDurationSeconds,
		m.SubscribesTotal,
		m.UnsubscribesTotal,
		m.OutboxSize,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
