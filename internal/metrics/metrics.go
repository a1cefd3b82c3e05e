package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_enqueued_total",
			Help: "Total entries accepted by the enqueue gateway",
		},
	)

	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total emails delivered",
		},
	)

	SendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_send_failures_total",
			Help: "Total failed delivery attempts",
		},
	)

	TerminalFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_terminal_failures_total",
			Help: "Total entries that exhausted their attempt budget",
		},
	)

	UnresolvedVariables = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "render_unresolved_variables_total",
			Help: "Total template placeholders rendered as empty strings",
		},
	)

	AuditDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_append_failures_total",
			Help: "Total audit records lost to storage errors",
		},
	)

	PendingEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "email_queue_pending",
			Help: "Entries waiting to be processed, sampled per tick",
		},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "email_batch_duration_seconds",
			Help:    "Wall time of one processor batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueueLag = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "email_queue_lag_seconds",
			Help:    "Age of an entry when its delivery is attempted",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
	)
)

func Init() {
	prometheus.MustRegister(EmailsEnqueued)
	prometheus.MustRegister(EmailsSent)
	prometheus.MustRegister(SendFailures)
	prometheus.MustRegister(TerminalFailures)
	prometheus.MustRegister(UnresolvedVariables)
	prometheus.MustRegister(AuditDrops)
	prometheus.MustRegister(PendingEntries)
	prometheus.MustRegister(BatchDuration)
	prometheus.MustRegister(QueueLag)
}
