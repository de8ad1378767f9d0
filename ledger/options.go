package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/umee-network/fundme/ledger/metrics"
)

// WithEmitter sets the event sink. Passing nil discards events.
func WithEmitter(emitter Emitter) func(*Ledger) {
	return func(l *Ledger) {
		if emitter == nil {
			emitter = noopEmitter{}
		}
		l.emitter = emitter
	}
}

func WithMetrics(m *metrics.Ledger) func(*Ledger) {
	return func(l *Ledger) { l.metrics = m }
}

// WithAddress overrides the custody account, which otherwise is the address a
// contract deployed by the owner at nonce 0 would have.
func WithAddress(addr common.Address) func(*Ledger) {
	return func(l *Ledger) { l.address = addr }
}

// WithMinimumUSD overrides the 18-decimal USD admission threshold.
func WithMinimumUSD(minimum *big.Int) func(*Ledger) {
	return func(l *Ledger) { l.minimumUSD = new(big.Int).Set(minimum) }
}

// WithState restores a previously persisted state. It is checked in New.
func WithState(state *State) func(*Ledger) {
	return func(l *Ledger) { l.restored = state }
}
