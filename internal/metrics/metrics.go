package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"freight-ledger/internal/logger"
)

var (
	// LedgerOperationsTotal counts atomic ledger units by operation and result
	// (ok, validation, business_rule, conflict, error).
	LedgerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger mutating operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	LedgerOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Duration of ledger atomic units including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	LedgerRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_retries_total",
			Help: "Atomic units retried after a serialization failure or deadlock",
		},
		[]string{"operation"},
	)

	AccountingSyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounting_sync_total",
			Help: "Invoice pushes to the external accounting system by result",
		},
		[]string{"result"},
	)

	DiscrepanciesFound = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "audit_discrepancies_found",
			Help: "Discrepancies reported by the last audit run, by kind",
		},
		[]string{"kind"},
	)
)

// ObserveOperation records the outcome and duration of one ledger operation.
func ObserveOperation(operation, result string, started time.Time) {
	LedgerOperationsTotal.WithLabelValues(operation, result).Inc()
	LedgerOperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr in the background for the lifetime of the
// process. Listener errors are logged, never fatal.
func Serve(addr string) *http.Server {
	log := logger.WithComponent("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics listener stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}
