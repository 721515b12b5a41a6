package execution

import (
	"time"

	"github.com/ggonzalez94/swapexec/internal/signer"
	"github.com/ggonzalez94/swapexec/internal/txs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	StepsCompleted *prometheus.CounterVec
	SignerFailures *prometheus.CounterVec
	SwapsFinished  *prometheus.CounterVec
	SignerLatency  *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StepsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swapexec",
			Subsystem: "engine",
			Name:      "steps_completed_total",
			Help:      "Steps that reached a terminal status",
		}, []string{"tx_type", "status"}),
		SignerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swapexec",
			Subsystem: "signer",
			Name:      "failures_total",
			Help:      "Classified signer failures",
		}, []string{"tx_type", "kind", "rpc_kind"}),
		SwapsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swapexec",
			Subsystem: "engine",
			Name:      "swaps_finished_total",
			Help:      "Swaps that reached a terminal status",
		}, []string{"status"}),
		SignerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "swapexec",
			Subsystem: "signer",
			Name:      "call_duration_seconds",
			Help:      "Signer send and wait latency",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"tx_type", "op"}),
	}
}

func (m *Metrics) observeCall(kind txs.Type, op string, start time.Time) {
	if m == nil {
		return
	}
	m.SignerLatency.WithLabelValues(string(kind), op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeFailure(kind txs.Type, err *signer.Error) {
	if m == nil || err == nil {
		return
	}
	m.SignerFailures.WithLabelValues(string(kind), string(err.Kind), string(err.RPCKind)).Inc()
}

func (m *Metrics) observeStep(kind txs.Type, status StepStatus) {
	if m == nil {
		return
	}
	m.StepsCompleted.WithLabelValues(string(kind), string(status)).Inc()
}

func (m *Metrics) observeSwap(status SwapStatus) {
	if m == nil {
		return
	}
	m.SwapsFinished.WithLabelValues(string(status)).Inc()
}
