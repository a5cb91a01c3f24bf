package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var ratesSlug string

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Show the latest stored rates for a source",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		quotes, err := st.LatestQuotes(ctx, ratesSlug)
		if err != nil {
			return eris.Wrapf(err, "latest quotes for %s", ratesSlug)
		}
		if len(quotes) == 0 {
			fmt.Fprintf(os.Stderr, "no stored rates for %s, run `ratewatch update` first\n", ratesSlug)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tBUY\tSELL\tCHANGE%")
		for _, q := range quotes {
			change := ""
			if q.ChangePercent != nil {
				change = q.ChangePercent.String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", q.CurrencyCode, q.Buy, q.Sell, change)
		}
		return w.Flush()
	},
}

func init() {
	ratesCmd.Flags().StringVar(&ratesSlug, "source", "", "source slug (required)")
	_ = ratesCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(ratesCmd)
}
