package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	PollCycles          prometheus.Counter
	MessagesFetched     prometheus.Counter
	MessagesSkipped     prometheus.Counter
	ParseFailures       prometheus.Counter
	MessagesQuarantined prometheus.Counter
	Activations         prometheus.Counter
	Rejections          prometheus.Counter
	UnmatchedReplies    prometheus.Counter
	ApplyFailures       prometheus.Counter
	OutboxEnqueued      prometheus.Counter
	CycleDuration       prometheus.Histogram
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		PollCycles: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loadboard_activation_poll_cycles_total",
			Help: "Total number of mailbox poll cycles",
		}),
		MessagesFetched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loadboard_activation_messages_fetched_total",
			Help: "Total number of messages fetched from the reply mailbox",
		}),
		MessagesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loadboard_activation_messages_skipped_total",
			Help: "Total number of already-processed messages skipped",
		}),
		ParseFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loadboard_activation_parse_failures_total",
			Help: "Total number of replies the classifier could not parse",
		}),
		MessagesQuarantined: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loadboard_activation_messages_quarantined_total",
			Help: "Total number of malformed messages quarantined after retries",
		}),
		Activations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loadboard_activation_activations_total",
			Help: "Total number of integrations activated from vendor replies",
		}),
		Rejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loadboard_activation_rejections_total",
			Help: "Total number of integrations rejected from vendor replies",
		}),
		UnmatchedReplies: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loadboard_activation_unmatched_replies_total",
			Help: "Total number of parsed replies with no matching pending record",
		}),
		ApplyFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loadboard_activation_apply_failures_total",
			Help: "Total number of reply transactions rolled back",
		}),
		OutboxEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loadboard_activation_outbox_enqueued_total",
			Help: "Total number of notification emails enqueued",
		}),
		CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "loadboard_activation_cycle_duration_seconds",
			Help:    "Time spent per mailbox poll cycle",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
