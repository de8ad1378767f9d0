package ledger

import (
	"github.com/ethereum/go-ethereum/common"
)

// Strategy selects how a withdrawal walks the funder roster.
type Strategy string

const (
	// StrategyDirect reads the roster length and the current entry from storage
	// on every iteration.
	StrategyDirect Strategy = "direct"
	// StrategyCached reads the roster into a local copy once and iterates the copy.
	StrategyCached Strategy = "cached"
)

// funderRoster is the ordered, append-only list of funders. Reads through length
// and at are metered like contract storage reads.
type funderRoster struct {
	entries []common.Address
	reads   int
}

func (r *funderRoster) length() int {
	r.reads++
	return len(r.entries)
}

func (r *funderRoster) at(i int) common.Address {
	r.reads++
	return r.entries[i]
}

func (r *funderRoster) push(addr common.Address) {
	r.entries = append(r.entries, addr)
}

func (r *funderRoster) clear() {
	r.entries = nil
}

// walk visits every entry in insertion order using the given strategy.
func (r *funderRoster) walk(strategy Strategy, visit func(common.Address)) {
	switch strategy {
	case StrategyCached:
		n := r.length()
		local := make([]common.Address, n)
		for i := 0; i < n; i++ {
			local[i] = r.at(i)
		}

		for _, addr := range local {
			visit(addr)
		}

	default:
		for i := 0; i < r.length(); i++ {
			visit(r.at(i))
		}
	}
}
