package pricefeed

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// USDDecimals is the fixed-point precision of every USD value returned by the gateway.
const USDDecimals = 18

var (
	ErrOracleUnavailable = errors.New("price oracle unavailable")
	ErrStalePrice        = errors.New("stale price")

	usdScale = uint256.NewInt(1_000_000_000_000_000_000)
)

//go:generate mockgen -destination=../../mocks/aggregator.go -package=mocks github.com/umee-network/fundme/ledger/pricefeed Aggregator

// Aggregator is the read-only price feed the gateway depends on. Implementations
// report a signed price and the number of decimals it carries (typically 8).
type Aggregator interface {
	// LatestPrice returns the latest reported price and its decimal precision.
	LatestPrice(ctx context.Context) (price *big.Int, decimals uint8, err error)

	// Address returns the feed reference the gateway was configured with.
	Address() common.Address
}

// Gateway converts native-currency amounts into 18-decimal USD values using an
// Aggregator. It holds no state besides the feed and never mutates anything.
type Gateway struct {
	feed Aggregator
}

func NewGateway(feed Aggregator) *Gateway {
	return &Gateway{feed: feed}
}

// GetPriceFeedAddress returns the configured feed reference.
func (g *Gateway) GetPriceFeedAddress() common.Address {
	return g.feed.Address()
}

// GetLatestPrice returns the feed price normalized to 18 decimals.
func (g *Gateway) GetLatestPrice(ctx context.Context) (*big.Int, error) {
	price, err := g.normalizedPrice(ctx)
	if err != nil {
		return nil, err
	}

	return price.ToBig(), nil
}

// GetUsdValue returns amount * price / 10^18 where price is the feed answer scaled
// to 18 decimals. The product is computed with a 512-bit intermediate so no
// precision is lost before the division.
func (g *Gateway) GetUsdValue(ctx context.Context, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, errors.Errorf("invalid amount %v", amount)
	}

	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, errors.Errorf("amount %s exceeds 256 bits", amount)
	}

	price, err := g.normalizedPrice(ctx)
	if err != nil {
		return nil, err
	}

	usd, overflow := new(uint256.Int).MulDivOverflow(value, price, usdScale)
	if overflow {
		return nil, errors.Errorf("usd value of %s overflows 256 bits", amount)
	}

	return usd.ToBig(), nil
}

func (g *Gateway) normalizedPrice(ctx context.Context) (*uint256.Int, error) {
	answer, decimals, err := g.feed.LatestPrice(ctx)
	if err != nil {
		// both the sentinel and the feed cause (e.g. ErrStalePrice) stay matchable
		return nil, fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}

	if answer == nil || answer.Sign() <= 0 {
		return nil, errors.Wrapf(ErrOracleUnavailable, "non-positive price %v", answer)
	}

	if decimals > USDDecimals {
		return nil, errors.Wrapf(ErrOracleUnavailable, "feed reports %d decimals", decimals)
	}

	scaled := new(big.Int).Mul(answer, pow10(USDDecimals-int(decimals)))

	price, overflow := uint256.FromBig(scaled)
	if overflow {
		return nil, errors.Wrapf(ErrOracleUnavailable, "price %s overflows 256 bits", answer)
	}

	return price, nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
