package fundme

import (
	"fmt"
	"math/big"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func fundersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "funders",
		Short: "List the funder roster and the recorded contributions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			owner, err := c.Owner(ctx)
			if err != nil {
				return err
			}

			funders, err := c.Funders(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "owner: %s\n", owner.Hex())

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tFUNDER\tFUNDED (ETH)")

			for i, funder := range funders {
				amount, err := c.AmountFunded(ctx, funder)
				if err != nil {
					return err
				}

				fmt.Fprintf(tw, "%d\t%s\t%s\n", i, funder.Hex(), formatUnits(amount, etherDecimals))
			}

			return tw.Flush()
		},
	}

	cmd.Flags().AddFlagSet(clientFlagSet())

	return cmd
}

func priceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Print the USD value of one ether at the current feed price",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			feed, err := c.PriceFeed(ctx)
			if err != nil {
				return err
			}

			oneEther := new(big.Int).Exp(big.NewInt(10), big.NewInt(etherDecimals), nil)

			usd, err := c.UsdValue(ctx, oneEther)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "feed: %s\n1 ETH = %s USD\n", feed.Hex(), formatUnits(usd, etherDecimals))

			return nil
		},
	}

	cmd.Flags().AddFlagSet(clientFlagSet())

	return cmd
}
