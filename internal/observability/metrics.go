package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the worker's metrics sink. It registers against an injected
// registry so tests can construct isolated instances instead of sharing
// package-level collectors.
type Metrics struct {
	MessagesProcessed  *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	StoreWrites        *prometheus.HistogramVec
	NotificationsSent  *prometheus.CounterVec
	ConnectorSends     *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec
	BatchesCommitted   *prometheus.CounterVec
	ConsumeErrors      *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer, service string) *Metrics {
	labels := prometheus.Labels{"service": service}
	factory := promauto.With(prometheus.WrapRegistererWith(labels, reg))

	return &Metrics{
		MessagesProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messages_processed_total",
				Help: "Messages processed by the router worker, by outcome",
			},
			[]string{"result"},
		),
		ProcessingDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "message_processing_duration_seconds",
				Help:    "Time spent processing a single message event",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		StoreWrites: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "store_write_duration_seconds",
				Help:    "Duration of message store writes",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "outcome"},
		),
		NotificationsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_published_total",
				Help: "New-message notifications published, by conversation kind",
			},
			[]string{"kind"},
		),
		ConnectorSends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connector_sends_total",
				Help: "External platform delivery attempts, by platform and outcome",
			},
			[]string{"platform", "outcome"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"breaker"},
		),
		BatchesCommitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consumer_batches_committed_total",
				Help: "Consumed batches whose offsets were committed",
			},
			[]string{"consumer"},
		),
		ConsumeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consumer_errors_total",
				Help: "Errors observed in consume loops, by consumer and kind",
			},
			[]string{"consumer", "kind"},
		),
	}
}
