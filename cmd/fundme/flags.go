// nolint: lll
package fundme

import (
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

const (
	logLevelJSON = "json"
	logLevelText = "text"

	flagConfig           = "config"
	flagLogLevel         = "log-level"
	flagLogFormat        = "log-format"
	flagOwner            = "owner"
	flagLedgerAddress    = "ledger-address"
	flagNetwork          = "network"
	flagPriceFeed        = "price-feed"
	flagPriceFeedAddress = "price-feed-address"
	flagEthRPC           = "eth-rpc"
	flagCoinGeckoAPI     = "coingecko-api"
	flagCoinGeckoCoinID  = "coingecko-coin-id"
	flagPriceMaxAge      = "price-max-age"
	flagPollInterval     = "poll-interval"
	flagListenAddr       = "listen-addr"
	flagDataDir          = "data-dir"
	flagGenesis          = "genesis"
	flagAPIURL           = "api-url"
	flagEthPK            = "eth-pk"
	flagAmount           = "amount"
	flagCheaper          = "cheaper"

	priceFeedMock      = "mock"
	priceFeedChainlink = "chainlink"
	priceFeedCoingecko = "coingecko"
)

func serverFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("", pflag.ContinueOnError)

	fs.String(flagOwner, "", "The owner address, the only identity allowed to withdraw")
	fs.String(flagLedgerAddress, "", "The custody address holding pooled funds; derived from the owner if empty")
	fs.String(flagNetwork, "hardhat", "The network name or chain ID (goerli|polygon|sepolia|hardhat|localhost)")
	fs.String(flagPriceFeed, "", "The price feed implementation (mock|chainlink|coingecko); derived from the network if empty")
	fs.String(flagPriceFeedAddress, "", "Override the ETH/USD aggregator address of the network")
	fs.String(flagEthRPC, "http://localhost:8545", "Specify the RPC address of an Ethereum node")
	fs.String(flagCoinGeckoAPI, "https://api.coingecko.com/api/v3", "Specify the coingecko API endpoint")
	fs.String(flagCoinGeckoCoinID, "ethereum", "Specify the coingecko coin ID of the native currency")
	fs.Duration(flagPriceMaxAge, time.Hour, "Reject prices older than this; zero disables the check")
	fs.Duration(flagPollInterval, 30*time.Second, "How often remote price feeds are refreshed")
	fs.String(flagListenAddr, "127.0.0.1:8080", "The address the API server listens on")
	fs.String(flagDataDir, "", "Persist state in this directory; in memory if empty")
	fs.StringSlice(flagGenesis, nil, "Initial balances as address=ether pairs, applied when no state is persisted")

	return fs
}

func clientFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("", pflag.ContinueOnError)

	fs.String(flagAPIURL, "http://127.0.0.1:8080", "The fundme API server URL")

	return fs
}

func keyFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("", pflag.ContinueOnError)

	fs.String(flagEthPK, "", "Specify an Ethereum private key in hex; if empty, it is read from STDIN")

	return fs
}

// parseURL logs a warning if the flag provided is an
// unencrypted non-local string, and returns the value.
func parseURL(logger zerolog.Logger, konfig *koanf.Koanf, flag string) (string, error) {
	endpoint := konfig.String(flag)
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(u.Scheme, "http") && !isLocalHost(u.Hostname()) {
		logger.Warn().Str(flag, endpoint).Msg("flag is unsafe; unencrypted non-local url used")
	}
	return endpoint, nil
}

func isLocalHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
