package fundme

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/umee-network/fundme/ledger/client"
)

func withdrawCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Sweep the pool to the owner",
		Long: `Sweep the pooled balance to the owner and reset every contribution record.
The request must be signed with the owner key. --cheaper selects the withdrawal
that caches the roster length.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			konfig, logger, c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}

			key, err := loadPrivateKey(konfig, os.Stdin)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Withdraw from contract...")

			resp, err := c.Withdraw(cmd.Context(), key, konfig.Bool(flagCheaper))
			if err != nil {
				return errors.Wrap(err, "failed to withdraw")
			}

			amount, err := client.ParseWei(resp.Amount)
			if err != nil {
				return err
			}

			logger.Debug().
				Str("strategy", resp.Strategy).
				Int("storage_reads", resp.StorageReads).
				Msg("withdrawal receipt")

			fmt.Fprintf(cmd.OutOrStdout(), "Withdrew %s ETH (%d funders cleared)\n",
				formatUnits(amount, etherDecimals), resp.FundersCleared)

			return nil
		},
	}

	cmd.Flags().Bool(flagCheaper, false, "Use the withdrawal that reads the roster length once")
	cmd.Flags().AddFlagSet(clientFlagSet())
	cmd.Flags().AddFlagSet(keyFlagSet())

	return cmd
}
