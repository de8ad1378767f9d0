package bank

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// ReceiveHook lets a recipient reject incoming value, the way a contract without
// a payable fallback would.
type ReceiveHook func(to common.Address, amount *big.Int) error

// Memory is an in-process balance sheet of native-currency holdings.
type Memory struct {
	mtx      sync.Mutex
	balances map[common.Address]*big.Int
	onRecv   ReceiveHook
}

func NewMemory(options ...func(*Memory)) *Memory {
	m := &Memory{
		balances: make(map[common.Address]*big.Int),
	}

	for _, option := range options {
		option(m)
	}

	return m
}

func WithReceiveHook(hook ReceiveHook) func(*Memory) {
	return func(m *Memory) { m.SetReceiveHook(hook) }
}

func WithBalances(balances map[common.Address]*big.Int) func(*Memory) {
	return func(m *Memory) {
		for addr, amount := range balances {
			if amount != nil && amount.Sign() > 0 {
				m.balances[addr] = new(big.Int).Set(amount)
			}
		}
	}
}

func (m *Memory) SetReceiveHook(hook ReceiveHook) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.onRecv = hook
}

// Credit mints amount into addr. It is used for genesis allocations only.
func (m *Memory) Credit(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.Wrapf(ErrInvalidAmount, "credit %v", amount)
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.balances[addr] = new(big.Int).Add(m.balanceOf(addr), amount)

	return nil
}

func (m *Memory) BalanceOf(addr common.Address) *big.Int {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return new(big.Int).Set(m.balanceOf(addr))
}

// Transfer moves amount from one account to another. Either both balances change
// or neither does. The receive hook runs without the bank lock held, so it may
// read balances.
func (m *Memory) Transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.Wrapf(ErrInvalidAmount, "transfer %v", amount)
	}

	m.mtx.Lock()
	hook := m.onRecv
	err := m.checkFunds(from, amount)
	m.mtx.Unlock()

	if err != nil {
		return err
	}

	if hook != nil {
		if err := hook(to, new(big.Int).Set(amount)); err != nil {
			return errors.Wrapf(err, "%s rejected %s", to.Hex(), amount)
		}
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	// the balance may have moved while the hook ran
	if err := m.checkFunds(from, amount); err != nil {
		return err
	}

	if from == to {
		return nil
	}

	m.balances[from] = new(big.Int).Sub(m.balanceOf(from), amount)
	m.balances[to] = new(big.Int).Add(m.balanceOf(to), amount)

	return nil
}

func (m *Memory) checkFunds(from common.Address, amount *big.Int) error {
	if held := m.balanceOf(from); held.Cmp(amount) < 0 {
		return errors.Wrapf(ErrInsufficientBalance, "%s holds %s, needs %s", from.Hex(), held, amount)
	}

	return nil
}

// Balances returns a copy of every non-zero balance.
func (m *Memory) Balances() map[common.Address]*big.Int {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	out := make(map[common.Address]*big.Int, len(m.balances))
	for addr, amount := range m.balances {
		if amount.Sign() > 0 {
			out[addr] = new(big.Int).Set(amount)
		}
	}

	return out
}

func (m *Memory) balanceOf(addr common.Address) *big.Int {
	if b, ok := m.balances[addr]; ok {
		return b
	}

	return new(big.Int)
}
