package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	runsSlug  string
	runsLimit int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent update runs for a source",
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

		entries, err := st.ListRuns(ctx, runsSlug, runsLimit)
		if err != nil {
			return eris.Wrapf(err, "list runs for %s", runsSlug)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tSTATUS\tQUOTES\tDRIFT\tMS\tMESSAGE")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%d\t%v\t%d\t%s\n",
				e.StartedAt.Format("2006-01-02 15:04:05"), e.Status, e.QuoteCount, e.Drift, e.DurationMs, e.Message)
		}
		return w.Flush()
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsSlug, "source", "", "source slug (required)")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "max entries")
	_ = runsCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(runsCmd)
}
