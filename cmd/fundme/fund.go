package fundme

import (
	"fmt"
	"os"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/umee-network/fundme/ledger/client"
)

func fundCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fund",
		Short: "Contribute ether to the pool",
		Long: `Contribute --amount ether to the pool. The contribution must be worth at
least 50 USD at the current feed price.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			konfig, _, c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}

			amount, err := parseEther(konfig.String(flagAmount))
			if err != nil {
				return err
			}

			key, err := loadPrivateKey(konfig, os.Stdin)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Funding %s ETH from %s...\n",
				formatUnits(amount, etherDecimals), ethcrypto.PubkeyToAddress(key.PublicKey).Hex())

			resp, err := c.Fund(cmd.Context(), key, amount)
			if err != nil {
				return errors.Wrap(err, "failed to fund")
			}

			total, err := client.ParseWei(resp.Total)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Funded! %s now has %s ETH in the pool\n",
				resp.Funder.Hex(), formatUnits(total, etherDecimals))

			return nil
		},
	}

	cmd.Flags().String(flagAmount, "0.1", "The amount of ether to contribute")
	cmd.Flags().AddFlagSet(clientFlagSet())
	cmd.Flags().AddFlagSet(keyFlagSet())

	return cmd
}
