package pricefeed

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// AggregatorV3ABI is the subset of the Chainlink AggregatorV3Interface the feed reads.
const AggregatorV3ABI = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"description","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

var aggregatorABI = mustParseABI(AggregatorV3ABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(errors.Wrap(err, "failed to parse contract ABI"))
	}

	return parsed
}

// Round is a single latestRoundData reading.
type Round struct {
	RoundID         *big.Int
	Answer          *big.Int
	StartedAt       time.Time
	UpdatedAt       time.Time
	AnsweredInRound *big.Int
}

// ChainlinkFeed reads an AggregatorV3 contract through an EVM node.
type ChainlinkFeed struct {
	logger   zerolog.Logger
	address  common.Address
	contract *bind.BoundContract
	maxAge   time.Duration
	nowFn    func() time.Time

	mtx      sync.Mutex
	decimals *uint8
}

func NewChainlinkFeed(
	logger zerolog.Logger,
	address common.Address,
	caller bind.ContractCaller,
	maxAge time.Duration,
) *ChainlinkFeed {
	return &ChainlinkFeed{
		logger:   logger.With().Str("module", "chainlink_pricefeed").Str("feed", address.Hex()).Logger(),
		address:  address,
		contract: bind.NewBoundContract(address, aggregatorABI, caller, nil, nil),
		maxAge:   maxAge,
		nowFn:    time.Now,
	}
}

func (f *ChainlinkFeed) Address() common.Address {
	return f.address
}

// Decimals returns the feed precision; the value never changes so it is cached.
func (f *ChainlinkFeed) Decimals(ctx context.Context) (uint8, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if f.decimals != nil {
		return *f.decimals, nil
	}

	var out []interface{}
	if err := f.contract.Call(&bind.CallOpts{Context: ctx}, &out, "decimals"); err != nil {
		return 0, errors.Wrap(err, "AggregatorV3 'decimals' call failed")
	}

	decimals := *abi.ConvertType(out[0], new(uint8)).(*uint8)
	f.decimals = &decimals

	return decimals, nil
}

// LatestRound returns the raw latestRoundData reading.
func (f *ChainlinkFeed) LatestRound(ctx context.Context) (*Round, error) {
	var out []interface{}
	if err := f.contract.Call(&bind.CallOpts{Context: ctx}, &out, "latestRoundData"); err != nil {
		return nil, errors.Wrap(err, "AggregatorV3 'latestRoundData' call failed")
	}

	round := &Round{
		RoundID:         *abi.ConvertType(out[0], new(*big.Int)).(**big.Int),
		Answer:          *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		StartedAt:       unixTime(*abi.ConvertType(out[2], new(*big.Int)).(**big.Int)),
		UpdatedAt:       unixTime(*abi.ConvertType(out[3], new(*big.Int)).(**big.Int)),
		AnsweredInRound: *abi.ConvertType(out[4], new(*big.Int)).(**big.Int),
	}

	return round, nil
}

// LatestPrice returns the latest answer, rejecting rounds older than the max age.
func (f *ChainlinkFeed) LatestPrice(ctx context.Context) (*big.Int, uint8, error) {
	decimals, err := f.Decimals(ctx)
	if err != nil {
		return nil, 0, err
	}

	round, err := f.LatestRound(ctx)
	if err != nil {
		return nil, 0, err
	}

	if f.maxAge > 0 {
		if age := f.nowFn().Sub(round.UpdatedAt); age > f.maxAge {
			f.logger.Warn().
				Str("round", round.RoundID.String()).
				Dur("age", age).
				Msg("feed round is stale")

			return nil, 0, errors.Wrapf(ErrStalePrice, "round %s updated %s ago", round.RoundID, age)
		}
	}

	return round.Answer, decimals, nil
}

func unixTime(v *big.Int) time.Time {
	if v == nil || !v.IsInt64() {
		return time.Time{}
	}

	return time.Unix(v.Int64(), 0)
}
