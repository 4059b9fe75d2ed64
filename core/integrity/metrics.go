package integrity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	protocolOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "examseal_protocol_operations_total",
		Help: "Integrity protocol invocations by operation and result kind",
	}, []string{"op", "result"})

	ledgerCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "examseal_ledger_call_duration_seconds",
		Help:    "Latency of ledger calls by operation and outcome",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"op", "outcome"})

	pendingRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "examseal_pending_markers_recorded_total",
		Help: "Ledger calls whose outcome was unknown and now await reconciliation",
	}, []string{"kind"})
)
