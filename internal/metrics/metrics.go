package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks the number of outbound Gmail API calls.
	GmailRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsweep_gmail_requests_total",
			Help: "Total number of Gmail API requests made (by method and status).",
		},
		[]string{"method", "status"},
	)

	// Measures duration of Gmail API requests.
	GmailRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsweep_gmail_request_duration_seconds",
			Help:    "Duration of Gmail API requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"method"},
	)

	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsweep_scans_total",
			Help: "Number of mailbox scans by outcome.",
		},
		[]string{"outcome"},
	)

	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsweep_scan_duration_seconds",
			Help:    "End-to-end duration of mailbox scans in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"outcome"},
	)

	UnsubscribeAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsweep_unsubscribe_attempts_total",
			Help: "Unsubscribe attempts by link mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	NATSMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsweep_nats_messages_total",
			Help: "NATS publishes by subject and outcome.",
		},
		[]string{"subject", "outcome"},
	)

	NATSMessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsweep_nats_publish_duration_seconds",
			Help:    "Duration of NATS publishes in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsweep_errors_total",
			Help: "Internal errors by component and reason.",
		},
		[]string{"component", "reason"},
	)
)

// ObserveDuration records the time taken since start and updates the given histogram.
func ObserveDuration(v any, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	default:
		// silently ignore counters; they're not meant for duration tracking
	}
}

func IncGmailRequest(method, status string) {
	GmailRequestsTotal.WithLabelValues(method, status).Inc()
}

func IncScan(outcome string) {
	ScansTotal.WithLabelValues(outcome).Inc()
}

func IncUnsubscribe(mode, outcome string) {
	UnsubscribeAttemptsTotal.WithLabelValues(mode, outcome).Inc()
}

func IncNATSMessage(subject, outcome string) {
	NATSMessagesTotal.WithLabelValues(subject, outcome).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}
