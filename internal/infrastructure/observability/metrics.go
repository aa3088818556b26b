package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Счётчик вызовов методов репозитория
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	// Гистограмма времени выполнения запросов
	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	TransferOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfers_total",
			Help: "Transfers by final outcome",
		},
		[]string{"outcome"},
	)

	TransferConflictRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "transfer_conflict_retries_total",
			Help: "Transfer attempts restarted after a concurrent balance change",
		},
	)

	Compensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_compensations_total",
			Help: "Compensating reversals by result",
		},
		[]string{"result"},
	)

	// Any increment here means the ledger needs manual reconciliation.
	CompensationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_compensation_failures_total",
			Help: "Transfers left half-applied after a failed reversal",
		},
	)
)

var registerOnce sync.Once

func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RepositoryCalls,
			RepositoryDuration,
			RequestCounter,
			RequestDuration,
			TransferOutcomes,
			TransferConflictRetries,
			Compensations,
			CompensationFailures,
		)
	})
}
