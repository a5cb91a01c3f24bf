package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/cybokron/ratewatch/internal/model"
	"github.com/cybokron/ratewatch/internal/repair"
)

var healSlug string

var healCmd = &cobra.Command{
	Use:   "heal",
	Short: "Regenerate the parsing config for a source via the AI pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("heal"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		pipeline := initPipeline(ctx, st, initLLM())

		console := repair.ObserverFunc(func(rec model.StepRecord) {
			mark := "·"
			switch rec.Status {
			case model.StepSuccess:
				mark = "✓"
			case model.StepError:
				mark = "✗"
			case model.StepSkipped:
				mark = "-"
			}
			fmt.Fprintf(os.Stderr, "%s %-18s %s\n", mark, rec.Step, rec.Message)
		})

		result, err := healSource(ctx, pipeline, initFetcher(), healSlug, console)
		if err != nil {
			return eris.Wrap(err, "heal")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	healCmd.Flags().StringVar(&healSlug, "source", "", "source slug to heal (required)")
	_ = healCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(healCmd)
}
