package pricefeed

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	maxRespTime        = 15 * time.Second
	maxRespHeadersTime = 15 * time.Second

	// CoingeckoDecimals is the precision the HTTP quote is truncated to, matching
	// on-chain ETH/USD feeds.
	CoingeckoDecimals uint8 = 8

	defaultCoingeckoURL    = "https://api.coingecko.com/api/v3"
	defaultCoingeckoCoinID = "ethereum"
)

type CoingeckoConfig struct {
	BaseURL string
	CoinID  string
}

// CoingeckoFeed reads the native currency USD price from the Coingecko simple
// price API.
type CoingeckoFeed struct {
	client *http.Client
	config *CoingeckoConfig
	logger zerolog.Logger
}

type priceResponse map[string]struct {
	USD decimal.Decimal `json:"usd"`
}

func NewCoingeckoFeed(logger zerolog.Logger, cfg *CoingeckoConfig) *CoingeckoFeed {
	return &CoingeckoFeed{
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: maxRespHeadersTime,
			},
			Timeout: maxRespTime,
		},
		config: checkCoingeckoConfig(cfg),
		logger: logger.With().Str("module", "coingecko_pricefeed").Logger(),
	}
}

// QueryUSDPrice returns the quoted USD price of the configured coin.
func (f *CoingeckoFeed) QueryUSDPrice(ctx context.Context) (decimal.Decimal, error) {
	u, err := url.ParseRequestURI(urlJoin(f.config.BaseURL, "simple", "price"))
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to parse URL")
	}

	q := make(url.Values)
	q.Set("ids", f.config.CoinID)
	q.Set("vs_currencies", "usd")
	u.RawQuery = q.Encode()

	reqURL := u.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to create HTTP request")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to fetch price from %s", reqURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, errors.Errorf("unexpected status %d from %s", resp.StatusCode, reqURL)
	}

	var respBody priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to parse response body from %s", reqURL)
	}

	price := respBody[f.config.CoinID].USD
	if !price.IsPositive() {
		return decimal.Zero, errors.Errorf("failed to get price for %s", f.config.CoinID)
	}

	f.logger.Debug().Str("coin", f.config.CoinID).Str("usd", price.String()).Msg("fetched price")

	return price, nil
}

// LatestPrice reports the quote as a fixed-point integer with CoingeckoDecimals.
func (f *CoingeckoFeed) LatestPrice(ctx context.Context) (*big.Int, uint8, error) {
	price, err := f.QueryUSDPrice(ctx)
	if err != nil {
		return nil, 0, err
	}

	return price.Shift(int32(CoingeckoDecimals)).Truncate(0).BigInt(), CoingeckoDecimals, nil
}

// Address returns a deterministic identifier derived from the coin id, since an
// HTTP source has no on-chain address.
func (f *CoingeckoFeed) Address() common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("coingecko:" + f.config.CoinID)))
}

func urlJoin(baseURL string, segments ...string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL
	}

	u.Path = path.Join(append([]string{u.Path}, segments...)...)
	return u.String()
}

func checkCoingeckoConfig(cfg *CoingeckoConfig) *CoingeckoConfig {
	if cfg == nil {
		cfg = &CoingeckoConfig{}
	}

	if len(cfg.BaseURL) == 0 {
		cfg.BaseURL = defaultCoingeckoURL
	}

	if len(cfg.CoinID) == 0 {
		cfg.CoinID = defaultCoingeckoCoinID
	}

	return cfg
}
