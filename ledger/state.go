package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// State is a detached copy of the ledger bookkeeping.
type State struct {
	Owner     common.Address              `json:"owner"`
	PriceFeed common.Address              `json:"price_feed"`
	Address   common.Address              `json:"address"`
	Funders   []common.Address            `json:"funders"`
	Funded    map[common.Address]*big.Int `json:"funded"`
	Pooled    *big.Int                    `json:"pooled"`
}

// Validate checks the bookkeeping is self-consistent: every roster identity has a
// positive record, every record belongs to a roster identity, and the pooled
// balance is the sum of the records.
func (s *State) Validate() error {
	if s.Pooled == nil || s.Pooled.Sign() < 0 {
		return errors.Wrapf(ErrInvalidState, "pooled balance %v", s.Pooled)
	}

	inRoster := make(map[common.Address]struct{}, len(s.Funders))
	for _, addr := range s.Funders {
		inRoster[addr] = struct{}{}

		if amount, ok := s.Funded[addr]; !ok || amount == nil || amount.Sign() <= 0 {
			return errors.Wrapf(ErrInvalidState, "funder %s has no contribution", addr.Hex())
		}
	}

	sum := new(big.Int)
	for addr, amount := range s.Funded {
		if _, ok := inRoster[addr]; !ok {
			return errors.Wrapf(ErrInvalidState, "%s funded but not in roster", addr.Hex())
		}
		sum.Add(sum, amount)
	}

	if sum.Cmp(s.Pooled) != 0 {
		return errors.Wrapf(ErrInvalidState, "pooled %s != funded sum %s", s.Pooled, sum)
	}

	return nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}

	return new(big.Int).Set(v)
}

func cloneFunded(funded map[common.Address]*big.Int) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(funded))
	for addr, amount := range funded {
		out[addr] = cloneBigInt(amount)
	}

	return out
}
