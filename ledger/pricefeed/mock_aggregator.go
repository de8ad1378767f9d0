package pricefeed

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// MockDecimals and MockInitialAnswer describe the development feed: $2000 with
	// 8 decimals.
	MockDecimals      uint8 = 8
	MockInitialAnswer int64 = 200000000000
)

// MockAggregator is a deterministic feed used on development networks and in tests.
type MockAggregator struct {
	mtx      sync.RWMutex
	address  common.Address
	decimals uint8
	answer   *big.Int
	round    uint64
}

func NewMockAggregator(decimals uint8, initialAnswer *big.Int) *MockAggregator {
	return &MockAggregator{
		address:  crypto.CreateAddress(common.Address{}, uint64(decimals)),
		decimals: decimals,
		answer:   new(big.Int).Set(initialAnswer),
		round:    1,
	}
}

// NewDefaultMockAggregator returns the $2000 / 8 decimals development feed.
func NewDefaultMockAggregator() *MockAggregator {
	return NewMockAggregator(MockDecimals, big.NewInt(MockInitialAnswer))
}

// UpdateAnswer replaces the reported price and starts a new round.
func (m *MockAggregator) UpdateAnswer(answer *big.Int) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.answer = new(big.Int).Set(answer)
	m.round++
}

// Round returns the current round id.
func (m *MockAggregator) Round() uint64 {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	return m.round
}

func (m *MockAggregator) LatestPrice(context.Context) (*big.Int, uint8, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	return new(big.Int).Set(m.answer), m.decimals, nil
}

func (m *MockAggregator) Address() common.Address {
	return m.address
}
