package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	updateSources []string
	updateForce   bool
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Fetch and persist the latest rates from all sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("update"); err != nil {
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

		engine := initEngine(st, initLLM(), updateForce)

		zap.L().Info("starting batch update", zap.Strings("sources", updateSources))
		return engine.RunAll(ctx, updateSources)
	},
}

func init() {
	updateCmd.Flags().StringSliceVar(&updateSources, "source", nil, "source slugs to update (default all)")
	updateCmd.Flags().BoolVar(&updateForce, "force", false, "bypass the AI fallback cooldown")
	rootCmd.AddCommand(updateCmd)
}
