package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics tracks wallet engine operations and reconciliation findings.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	defects    *prometheus.GaugeVec
}

// NewLedgerMetrics registers ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_operations_total",
		Help: "Completed wallet mutations by category.",
	}, []string{"category"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_operation_failures_total",
		Help: "Rejected wallet mutations by error code.",
	}, []string{"category", "code"})
	defects := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ledger_reconcile_defects",
		Help: "Wallets whose balance disagrees with the ledger sum, per sweep.",
	}, []string{"kind"})
	reg.MustRegister(operations, failures, defects)
	return &LedgerMetrics{
		operations: operations,
		failures:   failures,
		defects:    defects,
	}
}

// IncOperation counts a completed wallet mutation.
func (m *LedgerMetrics) IncOperation(category string) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(category)).Inc()
}

// IncFailure counts a rejected wallet mutation.
func (m *LedgerMetrics) IncFailure(category, code string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(normalizeLabel(category), normalizeLabel(code)).Inc()
}

// SetDefects publishes the latest reconciliation defect count.
func (m *LedgerMetrics) SetDefects(kind string, count float64) {
	if m == nil || m.defects == nil {
		return
	}
	m.defects.WithLabelValues(normalizeLabel(kind)).Set(count)
}
