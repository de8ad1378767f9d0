package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event is emitted after a ledger mutation has fully taken effect.
type Event interface {
	Name() string
}

type Funded struct {
	Funder common.Address
	Amount *big.Int
	Total  *big.Int
}

func (Funded) Name() string { return "Funded" }

type Withdrawn struct {
	Owner          common.Address
	Amount         *big.Int
	FundersCleared int
	Strategy       Strategy
}

func (Withdrawn) Name() string { return "Withdrawn" }

// Emitter receives ledger events. It is called with the ledger lock held and
// must not call back into the ledger.
type Emitter interface {
	Emit(Event)
}

type EmitterFunc func(Event)

func (f EmitterFunc) Emit(ev Event) { f(ev) }

type noopEmitter struct{}

func (noopEmitter) Emit(Event) {}
