package fundme

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/umee-network/fundme/ledger"
	"github.com/umee-network/fundme/ledger/bank"
	"github.com/umee-network/fundme/ledger/metrics"
	"github.com/umee-network/fundme/ledger/pricefeed"
	"github.com/umee-network/fundme/ledger/server"
	"github.com/umee-network/fundme/ledger/store"
)

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the ledger API server",
		Long: `Start the ledger API server. State is restored from --data-dir when present,
otherwise the --genesis balances are credited to a fresh ledger.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			konfig, err := parseConfig(cmd)
			if err != nil {
				return err
			}

			logger, err := getLogger(cmd)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(konfig)
			if err != nil {
				return err
			}

			if cfg.PriceFeed == priceFeedChainlink {
				if cfg.EthRPC, err = parseURL(logger, konfig, flagEthRPC); err != nil {
					return err
				}
			}

			return runServer(cmd.Context(), logger, cfg)
		},
	}

	cmd.Flags().AddFlagSet(serverFlagSet())

	return cmd
}

func runServer(ctx context.Context, logger zerolog.Logger, cfg *Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	feed, poller, err := newPriceFeed(logger, cfg)
	if err != nil {
		return err
	}

	if poller != nil {
		// an initial failure only makes early contributions fail until the next refresh
		if err := poller.Refresh(ctx); err != nil {
			logger.Warn().Err(err).Msg("initial price refresh failed")
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gateway := pricefeed.NewGateway(feed)
	ledgerMetrics := metrics.NewLedger(reg)

	options := []func(*ledger.Ledger){
		ledger.WithMetrics(ledgerMetrics),
		ledger.WithEmitter(ledger.EmitterFunc(func(ev ledger.Event) {
			logger.Debug().Str("event", ev.Name()).Interface("payload", ev).Msg("ledger event")
		})),
	}
	if cfg.LedgerAddress != nil {
		options = append(options, ledger.WithAddress(*cfg.LedgerAddress))
	}

	snap, restored, err := st.Load()
	if err != nil {
		return err
	}

	var (
		balances *bank.Memory
		nonces   map[common.Address]uint64
	)

	if restored {
		balances = bank.NewMemory(bank.WithBalances(snap.Balances))
		nonces = snap.Nonces
		options = append(options, ledger.WithState(snap.State))

		logger.Info().
			Int("funders", len(snap.State.Funders)).
			Str("pooled", snap.State.Pooled.String()).
			Msg("restored persisted ledger state")
	} else {
		balances = bank.NewMemory(bank.WithBalances(cfg.Genesis))

		logger.Info().Int("accounts", len(cfg.Genesis)).Msg("credited genesis balances")
	}

	l, err := ledger.New(logger, cfg.Owner, gateway, balances, options...)
	if err != nil {
		return errors.Wrap(err, "failed to create ledger")
	}

	logger.Info().
		Str("owner", l.GetOwner().Hex()).
		Str("ledger", l.Address().Hex()).
		Str("network", cfg.Network.Name).
		Str("price_feed", cfg.PriceFeed).
		Str("price_feed_address", l.GetPriceFeed().Hex()).
		Msg("ledger ready")

	srv := server.New(logger, l, balances, gateway,
		server.WithStore(st),
		server.WithNonces(nonces),
		server.WithMetrics(ledgerMetrics),
		server.WithGatherer(reg),
	)

	// persist the genesis so a restart does not credit it twice
	if !restored {
		if err := st.Commit(srv.Snapshot()); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.ListenAddr)
	})

	if poller != nil {
		g.Go(func() error {
			return poller.Start(gctx)
		})
	}

	return g.Wait()
}

func openStore(dataDir string) (*store.Store, error) {
	if dataDir == "" {
		return store.OpenMemory()
	}

	return store.Open(dataDir)
}

// newPriceFeed builds the configured feed. Remote feeds are wrapped in a poller
// so requests are served from a cached reading.
func newPriceFeed(logger zerolog.Logger, cfg *Config) (pricefeed.Aggregator, *pricefeed.Poller, error) {
	switch cfg.PriceFeed {
	case priceFeedMock:
		logger.Info().
			Uint8("decimals", pricefeed.MockDecimals).
			Int64("answer", pricefeed.MockInitialAnswer).
			Msg("using mock price feed")

		return pricefeed.NewDefaultMockAggregator(), nil, nil

	case priceFeedChainlink:
		ethClient, err := ethclient.Dial(cfg.EthRPC)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to connect to Ethereum RPC %s", cfg.EthRPC)
		}

		feed := pricefeed.NewChainlinkFeed(logger, cfg.PriceFeedAddress, ethClient, cfg.PriceMaxAge)
		return feed, pricefeed.NewPoller(logger, feed, cfg.PollInterval, cfg.PriceMaxAge), nil

	case priceFeedCoingecko:
		feed := pricefeed.NewCoingeckoFeed(logger, &pricefeed.CoingeckoConfig{
			BaseURL: cfg.CoingeckoAPI,
			CoinID:  cfg.CoingeckoCoinID,
		})
		return feed, pricefeed.NewPoller(logger, feed, cfg.PollInterval, cfg.PriceMaxAge), nil

	default:
		return nil, nil, errors.Errorf("unknown price feed %q", cfg.PriceFeed)
	}
}
