package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/umee-network/fundme/ledger/metrics"
)

// MinimumUSD is the smallest admissible contribution, 50 USD in 18-decimal units.
var MinimumUSD = new(big.Int).Mul(big.NewInt(50), big.NewInt(1_000_000_000_000_000_000))

// PriceConverter converts native-currency amounts into 18-decimal USD values.
type PriceConverter interface {
	GetUsdValue(ctx context.Context, amount *big.Int) (*big.Int, error)
	GetPriceFeedAddress() common.Address
}

//go:generate mockgen -destination=../mocks/bank.go -package=mocks github.com/umee-network/fundme/ledger Bank

// Bank holds native-currency balances, the ledger's own custody account included.
type Bank interface {
	BalanceOf(addr common.Address) *big.Int
	Transfer(from, to common.Address, amount *big.Int) error
}

// WithdrawReceipt describes a successful withdrawal.
type WithdrawReceipt struct {
	Amount         *big.Int `json:"amount"`
	FundersCleared int      `json:"funders_cleared"`
	StorageReads   int      `json:"storage_reads"`
	Strategy       Strategy `json:"strategy"`
}

// Ledger pools contributions above a USD threshold and lets the owner sweep them.
// All operations are serialized by a single mutex.
type Ledger struct {
	logger     zerolog.Logger
	owner      common.Address
	feed       common.Address
	address    common.Address
	prices     PriceConverter
	bank       Bank
	emitter    Emitter
	metrics    *metrics.Ledger
	minimumUSD *big.Int
	restored   *State

	mtx     sync.Mutex
	funders funderRoster
	funded  map[common.Address]*big.Int
	pooled  *big.Int
}

func New(
	logger zerolog.Logger,
	owner common.Address,
	prices PriceConverter,
	bank Bank,
	options ...func(*Ledger),
) (*Ledger, error) {
	if prices == nil {
		return nil, errors.New("price converter is required")
	}

	if bank == nil {
		return nil, errors.New("bank is required")
	}

	l := &Ledger{
		logger:     logger.With().Str("module", "ledger").Logger(),
		owner:      owner,
		feed:       prices.GetPriceFeedAddress(),
		address:    crypto.CreateAddress(owner, 0),
		prices:     prices,
		bank:       bank,
		emitter:    noopEmitter{},
		minimumUSD: new(big.Int).Set(MinimumUSD),
		funded:     make(map[common.Address]*big.Int),
		pooled:     new(big.Int),
	}

	for _, option := range options {
		option(l)
	}

	if l.address == owner {
		return nil, errors.Errorf("ledger account %s must differ from the owner", l.address.Hex())
	}

	if l.restored != nil {
		if err := l.restore(l.restored); err != nil {
			return nil, err
		}
		l.restored = nil
	}

	if err := l.CheckInvariants(); err != nil {
		return nil, err
	}

	l.metrics.SetPooled(l.pooled)

	return l, nil
}

func (l *Ledger) restore(s *State) error {
	if s.Owner != l.owner {
		return errors.Wrapf(ErrInvalidState, "persisted owner %s, configured %s", s.Owner.Hex(), l.owner.Hex())
	}

	if s.PriceFeed != l.feed {
		return errors.Wrapf(ErrInvalidState, "persisted price feed %s, configured %s", s.PriceFeed.Hex(), l.feed.Hex())
	}

	if s.Address != l.address {
		return errors.Wrapf(ErrInvalidState, "persisted ledger account %s, configured %s", s.Address.Hex(), l.address.Hex())
	}

	if err := s.Validate(); err != nil {
		return err
	}

	l.funders.entries = append([]common.Address(nil), s.Funders...)
	l.funded = cloneFunded(s.Funded)
	l.pooled = cloneBigInt(s.Pooled)

	return nil
}

// Fund accepts amount from caller if it is worth at least the minimum in USD.
// A rejected call changes nothing.
func (l *Ledger) Fund(ctx context.Context, caller common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		l.metrics.ObserveContribution(metrics.ResultRejected)
		return errors.Wrapf(ErrInsufficientContribution, "amount %v", amount)
	}

	if caller == l.address {
		return errors.New("ledger account cannot fund itself")
	}

	l.mtx.Lock()
	defer l.mtx.Unlock()

	usd, err := l.prices.GetUsdValue(ctx, amount)
	if err != nil {
		if errors.Is(err, ErrOracleUnavailable) {
			l.metrics.IncOracleError()
		}
		l.metrics.ObserveContribution(metrics.ResultFailed)
		l.logger.Warn().Err(err).Str("funder", caller.Hex()).Msg("failed to price contribution")

		return err
	}

	if usd.Cmp(l.minimumUSD) < 0 {
		l.metrics.ObserveContribution(metrics.ResultRejected)
		l.logger.Debug().
			Str("funder", caller.Hex()).
			Str("amount", amount.String()).
			Str("usd", usd.String()).
			Msg("contribution below minimum")

		return errors.Wrapf(ErrInsufficientContribution, "%s wei is worth %s, minimum is %s", amount, usd, l.minimumUSD)
	}

	if err := l.bank.Transfer(caller, l.address, amount); err != nil {
		l.metrics.ObserveContribution(metrics.ResultFailed)
		return errors.Wrap(err, "failed to deposit contribution")
	}

	total := new(big.Int).Add(cloneBigInt(l.funded[caller]), amount)
	l.funded[caller] = total
	l.funders.push(caller)
	l.pooled = new(big.Int).Add(l.pooled, amount)

	l.metrics.ObserveContribution(metrics.ResultAccepted)
	l.metrics.SetPooled(l.pooled)

	l.logger.Info().
		Str("funder", caller.Hex()).
		Str("amount", amount.String()).
		Str("pooled", l.pooled.String()).
		Msg("accepted contribution")

	l.emitter.Emit(Funded{Funder: caller, Amount: cloneBigInt(amount), Total: cloneBigInt(total)})

	return nil
}

// Withdraw sweeps the pooled balance to the owner, walking the roster with
// direct storage reads.
func (l *Ledger) Withdraw(ctx context.Context, caller common.Address) (*WithdrawReceipt, error) {
	return l.withdraw(ctx, caller, StrategyDirect)
}

// CheaperWithdraw is Withdraw with the roster read into memory once.
func (l *Ledger) CheaperWithdraw(ctx context.Context, caller common.Address) (*WithdrawReceipt, error) {
	return l.withdraw(ctx, caller, StrategyCached)
}

type checkpoint struct {
	funders []common.Address
	funded  map[common.Address]*big.Int
	pooled  *big.Int
}

func (l *Ledger) withdraw(_ context.Context, caller common.Address, strategy Strategy) (*WithdrawReceipt, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if caller != l.owner {
		l.metrics.ObserveWithdrawal(string(strategy), metrics.ResultRejected, 0)
		return nil, errors.Wrapf(ErrNotOwner, "%s", caller.Hex())
	}

	// records are replaced, never mutated in place, so a shallow copy suffices
	saved := checkpoint{
		funders: append([]common.Address(nil), l.funders.entries...),
		funded:  make(map[common.Address]*big.Int, len(l.funded)),
		pooled:  l.pooled,
	}
	for addr, amount := range l.funded {
		saved.funded[addr] = amount
	}

	readsBefore := l.funders.reads
	cleared := 0

	l.funders.walk(strategy, func(addr common.Address) {
		delete(l.funded, addr)
		cleared++
	})
	l.funders.clear()

	amount := l.pooled
	l.pooled = new(big.Int)

	receipt := &WithdrawReceipt{
		Amount:         cloneBigInt(amount),
		FundersCleared: cleared,
		StorageReads:   l.funders.reads - readsBefore,
		Strategy:       strategy,
	}

	if err := l.bank.Transfer(l.address, l.owner, amount); err != nil {
		l.funders.entries = saved.funders
		l.funded = saved.funded
		l.pooled = saved.pooled

		l.metrics.ObserveWithdrawal(string(strategy), metrics.ResultFailed, receipt.StorageReads)
		l.logger.Error().Err(err).Str("amount", amount.String()).Msg("withdrawal transfer rejected; state restored")

		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	l.metrics.ObserveWithdrawal(string(strategy), metrics.ResultOK, receipt.StorageReads)
	l.metrics.SetPooled(l.pooled)

	l.logger.Info().
		Str("owner", l.owner.Hex()).
		Str("amount", amount.String()).
		Int("funders", cleared).
		Int("storage_reads", receipt.StorageReads).
		Str("strategy", string(strategy)).
		Msg("withdrew pooled balance")

	l.emitter.Emit(Withdrawn{
		Owner:          l.owner,
		Amount:         cloneBigInt(amount),
		FundersCleared: cleared,
		Strategy:       strategy,
	})

	return receipt, nil
}

func (l *Ledger) GetOwner() common.Address {
	return l.owner
}

func (l *Ledger) GetPriceFeed() common.Address {
	return l.feed
}

// Address returns the custody account holding the pooled balance.
func (l *Ledger) Address() common.Address {
	return l.address
}

// GetAddressToAmountFunded returns the cumulative contribution of addr, zero when
// it has none.
func (l *Ledger) GetAddressToAmountFunded(addr common.Address) *big.Int {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	return cloneBigInt(l.funded[addr])
}

func (l *Ledger) GetFunders(index int) (common.Address, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if index < 0 || index >= len(l.funders.entries) {
		return common.Address{}, errors.Wrapf(ErrIndexOutOfRange, "index %d, %d funders", index, len(l.funders.entries))
	}

	return l.funders.entries[index], nil
}

func (l *Ledger) FundersCount() int {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	return len(l.funders.entries)
}

// Funders returns the roster in insertion order, duplicates included.
func (l *Ledger) Funders() []common.Address {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	return append([]common.Address{}, l.funders.entries...)
}

func (l *Ledger) PooledBalance() *big.Int {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	return cloneBigInt(l.pooled)
}

func (l *Ledger) State() *State {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	return l.state()
}

func (l *Ledger) state() *State {
	return &State{
		Owner:     l.owner,
		PriceFeed: l.feed,
		Address:   l.address,
		Funders:   append([]common.Address{}, l.funders.entries...),
		Funded:    cloneFunded(l.funded),
		Pooled:    cloneBigInt(l.pooled),
	}
}

// CheckInvariants verifies the bookkeeping and that the pooled balance equals
// what the bank holds for the ledger account.
func (l *Ledger) CheckInvariants() error {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if err := l.state().Validate(); err != nil {
		return err
	}

	if held := l.bank.BalanceOf(l.address); held.Cmp(l.pooled) != 0 {
		return errors.Wrapf(ErrInvalidState, "pooled %s but ledger account holds %s", l.pooled, held)
	}

	return nil
}
