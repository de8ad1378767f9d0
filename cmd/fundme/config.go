package fundme

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"
	"github.com/knadh/koanf"
	"github.com/pkg/errors"
)

// Config is the validated configuration of the start command.
type Config struct {
	Owner            common.Address
	LedgerAddress    *common.Address
	Network          Network
	PriceFeed        string
	PriceFeedAddress common.Address
	EthRPC           string
	CoingeckoAPI     string
	CoingeckoCoinID  string
	PriceMaxAge      time.Duration
	PollInterval     time.Duration
	ListenAddr       string
	DataDir          string
	Genesis          map[common.Address]*big.Int
}

// loadConfig reads every start option out of konfig and reports all problems at once.
func loadConfig(konfig *koanf.Koanf) (*Config, error) {
	var result *multierror.Error

	cfg := &Config{
		EthRPC:          konfig.String(flagEthRPC),
		CoingeckoAPI:    konfig.String(flagCoinGeckoAPI),
		CoingeckoCoinID: konfig.String(flagCoinGeckoCoinID),
		PriceMaxAge:     konfig.Duration(flagPriceMaxAge),
		PollInterval:    konfig.Duration(flagPollInterval),
		ListenAddr:      konfig.String(flagListenAddr),
		DataDir:         konfig.String(flagDataDir),
	}

	owner := konfig.String(flagOwner)
	if !common.IsHexAddress(owner) {
		result = multierror.Append(result, errors.Errorf("invalid --%s %q", flagOwner, owner))
	} else {
		cfg.Owner = common.HexToAddress(owner)
	}

	if raw := konfig.String(flagLedgerAddress); raw != "" {
		if !common.IsHexAddress(raw) {
			result = multierror.Append(result, errors.Errorf("invalid --%s %q", flagLedgerAddress, raw))
		} else {
			addr := common.HexToAddress(raw)
			cfg.LedgerAddress = &addr
		}
	}

	network, err := lookupNetwork(konfig.String(flagNetwork))
	if err != nil {
		result = multierror.Append(result, err)
	}
	cfg.Network = network
	cfg.PriceFeedAddress = network.EthUsdPriceFeed

	if raw := konfig.String(flagPriceFeedAddress); raw != "" {
		if !common.IsHexAddress(raw) {
			result = multierror.Append(result, errors.Errorf("invalid --%s %q", flagPriceFeedAddress, raw))
		} else {
			cfg.PriceFeedAddress = common.HexToAddress(raw)
		}
	}

	cfg.PriceFeed = strings.ToLower(konfig.String(flagPriceFeed))
	if cfg.PriceFeed == "" {
		cfg.PriceFeed = priceFeedChainlink
		if network.Development {
			cfg.PriceFeed = priceFeedMock
		}
	}

	switch cfg.PriceFeed {
	case priceFeedMock, priceFeedCoingecko:
	case priceFeedChainlink:
		if cfg.PriceFeedAddress == (common.Address{}) {
			result = multierror.Append(result, errors.Errorf("network %q has no ETH/USD feed; set --%s", network.Name, flagPriceFeedAddress))
		}
	default:
		result = multierror.Append(result, errors.Errorf("invalid --%s %q", flagPriceFeed, cfg.PriceFeed))
	}

	if cfg.PriceMaxAge < 0 {
		result = multierror.Append(result, errors.Errorf("--%s must not be negative", flagPriceMaxAge))
	}

	if cfg.PriceFeed != priceFeedMock && cfg.PollInterval <= 0 {
		result = multierror.Append(result, errors.Errorf("--%s must be positive", flagPollInterval))
	}

	if cfg.ListenAddr == "" {
		result = multierror.Append(result, errors.Errorf("--%s is required", flagListenAddr))
	}

	cfg.Genesis, err = parseGenesis(stringList(konfig, flagGenesis))
	if err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// stringList reads a list option that may also arrive as a single string,
// e.g. from the environment.
func stringList(konfig *koanf.Koanf, key string) []string {
	if v, ok := konfig.Get(key).(string); ok {
		return []string{v}
	}

	return konfig.Strings(key)
}

// parseGenesis parses address=ether allocations. Entries may also be comma
// separated, as they are when they come from the environment.
func parseGenesis(entries []string) (map[common.Address]*big.Int, error) {
	var result *multierror.Error

	genesis := make(map[common.Address]*big.Int)

	for _, entry := range entries {
		for _, pair := range strings.Split(entry, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}

			parts := strings.SplitN(pair, "=", 2)
			if len(parts) != 2 || !common.IsHexAddress(parts[0]) {
				result = multierror.Append(result, errors.Errorf("invalid genesis entry %q; expected address=ether", pair))
				continue
			}

			amount, err := parseEther(parts[1])
			if err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "genesis entry %q", pair))
				continue
			}

			addr := common.HexToAddress(parts[0])
			if prev, ok := genesis[addr]; ok {
				amount.Add(amount, prev)
			}
			genesis[addr] = amount
		}
	}

	return genesis, result.ErrorOrNil()
}
