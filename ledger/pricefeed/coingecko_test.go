package pricefeed

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.DebugLevel).With().Timestamp().Logger()

func TestCoingeckoQueryUSDPrice(t *testing.T) {
	expected := `{"ethereum": {"usd": 4271.57}}`
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "ethereum", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		fmt.Fprint(w, expected)
	}))
	defer svr.Close()

	feed := NewCoingeckoFeed(logger, &CoingeckoConfig{BaseURL: svr.URL})

	price, err := feed.QueryUSDPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4271.57", price.String())

	answer, decimals, err := feed.LatestPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CoingeckoDecimals, decimals)
	assert.Equal(t, big.NewInt(427157000000).String(), answer.String())
}

func TestCoingeckoMissingPrice(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer svr.Close()

	feed := NewCoingeckoFeed(logger, &CoingeckoConfig{BaseURL: svr.URL})

	_, _, err := feed.LatestPrice(context.Background())
	assert.Error(t, err)
}

func TestCoingeckoBadStatus(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer svr.Close()

	feed := NewCoingeckoFeed(logger, &CoingeckoConfig{BaseURL: svr.URL})

	_, err := feed.QueryUSDPrice(context.Background())
	assert.Error(t, err)
}

func TestCoingeckoThroughGateway(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ethereum": {"usd": 2000}}`)
	}))
	defer svr.Close()

	gateway := NewGateway(NewCoingeckoFeed(logger, &CoingeckoConfig{BaseURL: svr.URL}))

	usd, err := gateway.GetUsdValue(context.Background(), ether(1))
	require.NoError(t, err)
	assert.Equal(t, ether(2000).String(), usd.String())
}

func TestCoingeckoDefaults(t *testing.T) {
	feed := NewCoingeckoFeed(logger, nil)

	assert.Equal(t, defaultCoingeckoURL, feed.config.BaseURL)
	assert.Equal(t, defaultCoingeckoCoinID, feed.config.CoinID)
	assert.Equal(t, feed.Address(), NewCoingeckoFeed(logger, &CoingeckoConfig{CoinID: "ethereum"}).Address())
	assert.NotEqual(t, feed.Address(), NewCoingeckoFeed(logger, &CoingeckoConfig{CoinID: "matic-network"}).Address())
}
