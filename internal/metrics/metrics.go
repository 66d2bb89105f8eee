package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payledger_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payledger_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	LedgerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payledger_ledger_operations_total",
			Help: "Ledger operations by outcome",
		},
		[]string{"operation", "result"},
	)

	LedgerAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payledger_ledger_amount_minor_total",
			Help: "Sum of amounts moved by successful ledger operations, in tiyin",
		},
		[]string{"operation"},
	)

	WebhookRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payledger_webhook_requests_total",
			Help: "Gateway webhook calls by method and protocol result code",
		},
		[]string{"gateway", "method", "code"},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordLedgerOperation counts an operation; amount is only added on success.
func RecordLedgerOperation(operation, result string, amount int64) {
	LedgerOperationsTotal.WithLabelValues(operation, result).Inc()
	if result == "success" && amount > 0 {
		LedgerAmountTotal.WithLabelValues(operation).Add(float64(amount))
	}
}

func RecordWebhook(gateway, method, code string) {
	WebhookRequestsTotal.WithLabelValues(gateway, method, code).Inc()
}
