package pricefeed

import (
	"context"
	"math/big"
	"sync"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/umee-network/fundme/ledger/loops"
)

const defaultRefreshAttempts = 3

// Poller caches readings of a slow feed (HTTP or RPC) and serves them to the
// gateway without a network round trip. A cached reading older than maxAge is
// treated as stale.
type Poller struct {
	logger   zerolog.Logger
	feed     Aggregator
	interval time.Duration
	maxAge   time.Duration
	attempts uint
	nowFn    func() time.Time

	mtx       sync.RWMutex
	price     *big.Int
	decimals  uint8
	fetchedAt time.Time
}

func NewPoller(logger zerolog.Logger, feed Aggregator, interval, maxAge time.Duration) *Poller {
	return &Poller{
		logger:   logger.With().Str("module", "price_poller").Logger(),
		feed:     feed,
		interval: interval,
		maxAge:   maxAge,
		attempts: defaultRefreshAttempts,
		nowFn:    time.Now,
	}
}

// Start refreshes the cache every interval until the context is done.
func (p *Poller) Start(ctx context.Context) error {
	p.logger.Info().Dur("interval", p.interval).Str("feed", p.feed.Address().Hex()).Msg("starting price poller")

	return loops.RunLoop(ctx, p.logger, p.interval, func(ctx context.Context) error {
		if err := p.Refresh(ctx); err != nil {
			// keep polling; the cache turns stale on its own
			p.logger.Err(err).Msg("failed to refresh price")
		}

		return nil
	})
}

// Refresh reads the underlying feed, retrying transient failures.
func (p *Poller) Refresh(ctx context.Context) error {
	var (
		price    *big.Int
		decimals uint8
	)

	err := retry.Do(func() error {
		var err error
		price, decimals, err = p.feed.LatestPrice(ctx)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(p.attempts),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Debug().Err(err).Uint("retry", n).Msg("price read failed; retrying...")
		}),
	)
	if err != nil {
		return errors.Wrap(err, "exhausted retries reading price feed")
	}

	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.price = price
	p.decimals = decimals
	p.fetchedAt = p.nowFn()

	return nil
}

func (p *Poller) LatestPrice(context.Context) (*big.Int, uint8, error) {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	if p.price == nil {
		return nil, 0, errors.Wrap(ErrStalePrice, "no price fetched yet")
	}

	if p.maxAge > 0 {
		if age := p.nowFn().Sub(p.fetchedAt); age > p.maxAge {
			return nil, 0, errors.Wrapf(ErrStalePrice, "cached price is %s old", age)
		}
	}

	return new(big.Int).Set(p.price), p.decimals, nil
}

func (p *Poller) Address() common.Address {
	return p.feed.Address()
}
