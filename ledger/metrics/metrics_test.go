package metrics

import (
	"math/big"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedger(reg)

	m.ObserveContribution(ResultAccepted)
	m.ObserveContribution(ResultAccepted)
	m.ObserveContribution(ResultRejected)
	m.ObserveWithdrawal("cached", ResultOK, 6)
	m.ObserveWithdrawal("direct", ResultFailed, 11)
	m.IncOracleError()
	m.IncPersistFailure()
	m.SetPooled(big.NewInt(5_000_000_000))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.contributions.WithLabelValues(ResultAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.contributions.WithLabelValues(ResultRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.withdrawals.WithLabelValues("cached", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.oracleErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.persistFails))
	assert.Equal(t, 5e9, testutil.ToFloat64(m.pooled))

	// failed withdrawals are not observed in the histogram
	assert.Equal(t, 1, testutil.CollectAndCount(m.storageReads))

	expected := `
# HELP fundme_withdrawals_total Withdrawals by roster iteration strategy and outcome.
# TYPE fundme_withdrawals_total counter
fundme_withdrawals_total{result="failed",strategy="direct"} 1
fundme_withdrawals_total{result="ok",strategy="cached"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "fundme_withdrawals_total"))
}

func TestNilLedgerIsNoop(t *testing.T) {
	var m *Ledger

	assert.NotPanics(t, func() {
		m.ObserveContribution(ResultAccepted)
		m.ObserveWithdrawal("direct", ResultOK, 3)
		m.SetPooled(big.NewInt(1))
		m.IncOracleError()
		m.IncPersistFailure()
	})
}

func TestUnregistered(t *testing.T) {
	m := NewLedger(nil)
	m.ObserveContribution(ResultAccepted)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.contributions.WithLabelValues(ResultAccepted)))
}
