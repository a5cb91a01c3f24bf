package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/cybokron/ratewatch/internal/scrape"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the registered rate sources and their last successful run",
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

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SLUG\tNAME\tURL\tCURRENCIES\tLAST SUCCESS")
		for _, ext := range scrape.Default().All() {
			src := ext.Source()
			lastSuccess := "never"
			if last, err := st.LastRunSuccess(ctx, src.Slug); err == nil && last != nil {
				lastSuccess = last.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", src.Slug, src.DisplayName, src.FetchURL, len(ext.KnownCodes()), lastSuccess)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
