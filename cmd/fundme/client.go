package fundme

import (
	"github.com/knadh/koanf"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/umee-network/fundme/ledger/client"
)

// clientFromCmd resolves the configuration and API endpoint shared by the
// commands that talk to a running server.
func clientFromCmd(cmd *cobra.Command) (*koanf.Koanf, zerolog.Logger, *client.Client, error) {
	konfig, err := parseConfig(cmd)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	logger, err := getLogger(cmd)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	apiURL, err := parseURL(logger, konfig, flagAPIURL)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	return konfig, logger, client.New(logger, apiURL), nil
}
