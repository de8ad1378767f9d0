package fundme

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const envPrefix = "FUNDME_"

// NewRootCmd returns the root command of the fundme binary.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fundme",
		Short: "fundme pools contributions above a USD minimum and lets the owner withdraw them",
		Long: `fundme runs a pooled-funds ledger behind an HTTP API. Contributions are
priced through an ETH/USD feed and must be worth at least 50 USD; only the owner
can sweep the pooled balance.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String(flagConfig, "", "Path to a TOML configuration file")
	rootCmd.PersistentFlags().String(flagLogLevel, zerolog.InfoLevel.String(), "logging level")
	rootCmd.PersistentFlags().String(flagLogFormat, logLevelText, "logging format; must be either json or text")

	rootCmd.AddCommand(
		startCmd(),
		fundCmd(),
		withdrawCmd(),
		fundersCmd(),
		priceCmd(),
		versionCmd(),
	)

	return rootCmd
}

func getLogger(cmd *cobra.Command) (zerolog.Logger, error) {
	logLvlStr, err := cmd.Flags().GetString(flagLogLevel)
	if err != nil {
		return zerolog.Logger{}, err
	}

	logLvl, err := zerolog.ParseLevel(logLvlStr)
	if err != nil {
		return zerolog.Logger{}, err
	}

	logFormatStr, err := cmd.Flags().GetString(flagLogFormat)
	if err != nil {
		return zerolog.Logger{}, err
	}

	var logWriter = os.Stderr

	switch strings.ToLower(logFormatStr) {
	case logLevelJSON:
		return zerolog.New(logWriter).Level(logLvl).With().Timestamp().Logger(), nil

	case logLevelText:
		return zerolog.New(zerolog.ConsoleWriter{Out: logWriter}).Level(logLvl).With().Timestamp().Logger(), nil

	default:
		return zerolog.Logger{}, fmt.Errorf("invalid logging format: %s", logFormatStr)
	}
}

// parseConfig merges, in increasing priority, the TOML config file,
// FUNDME_* environment variables and explicitly set command line flags.
func parseConfig(cmd *cobra.Command) (*koanf.Koanf, error) {
	konfig := koanf.New(".")

	if path, _ := cmd.Flags().GetString(flagConfig); path != "" {
		if err := konfig.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "failed to load config file %s", path)
		}
	}

	if err := konfig.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load environment")
	}

	if err := konfig.Load(posflag.Provider(cmd.Flags(), ".", konfig), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load flags")
	}

	return konfig, nil
}

// envKey maps FUNDME_ETH_RPC to eth-rpc.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", "-")
}
