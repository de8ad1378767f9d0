package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultFailed   = "failed"
	ResultOK       = "ok"
)

// Ledger holds the ledger collectors. A nil *Ledger is valid and records nothing.
type Ledger struct {
	contributions *prometheus.CounterVec
	withdrawals   *prometheus.CounterVec
	pooled        prometheus.Gauge
	storageReads  *prometheus.HistogramVec
	oracleErrors  prometheus.Counter
	persistFails  prometheus.Counter
}

// NewLedger creates the collectors and registers them with reg. A nil registerer
// leaves them unregistered.
func NewLedger(reg prometheus.Registerer) *Ledger {
	m := &Ledger{
		contributions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fundme",
			Name:      "contributions_total",
			Help:      "Contributions by outcome.",
		}, []string{"result"}),
		withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fundme",
			Name:      "withdrawals_total",
			Help:      "Withdrawals by roster iteration strategy and outcome.",
		}, []string{"strategy", "result"}),
		pooled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fundme",
			Name:      "pooled_balance_wei",
			Help:      "Native-currency balance currently pooled in the ledger.",
		}),
		storageReads: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fundme",
			Name:      "withdraw_storage_reads",
			Help:      "Roster storage reads performed by a single withdrawal.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"strategy"}),
		oracleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fundme",
			Name:      "oracle_errors_total",
			Help:      "Contributions rejected because the price oracle was unavailable.",
		}),
		persistFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fundme",
			Name:      "persist_failures_total",
			Help:      "Snapshots that could not be written after a mutating request.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.contributions,
			m.withdrawals,
			m.pooled,
			m.storageReads,
			m.oracleErrors,
			m.persistFails,
		)
	}

	return m
}

func (m *Ledger) ObserveContribution(result string) {
	if m == nil {
		return
	}
	m.contributions.WithLabelValues(result).Inc()
}

func (m *Ledger) ObserveWithdrawal(strategy, result string, storageReads int) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(strategy, result).Inc()
	if result == ResultOK {
		m.storageReads.WithLabelValues(strategy).Observe(float64(storageReads))
	}
}

func (m *Ledger) SetPooled(wei *big.Int) {
	if m == nil || wei == nil {
		return
	}
	v, _ := new(big.Float).SetInt(wei).Float64()
	m.pooled.Set(v)
}

func (m *Ledger) IncOracleError() {
	if m == nil {
		return
	}
	m.oracleErrors.Inc()
}

func (m *Ledger) IncPersistFailure() {
	if m == nil {
		return
	}
	m.persistFails.Inc()
}
