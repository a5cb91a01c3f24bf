package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cybokron/ratewatch/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "ratewatch",
	Short: "Bank FX rate tracker with self-healing scrapers",
	Long:  "Scrapes buy/sell FX rates from Turkish bank sites, detects page layout drift, and regenerates parsing configs through an AI repair pipeline when the extractors degrade.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
