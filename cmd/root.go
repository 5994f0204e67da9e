package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/terravia-group/roadops-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "roadops",
	Short: "Operational tooling for the road-inspection platform",
	Long:  "Reconciles historical ride-quality ratings with their originating surveys, recomputes per-segment road-condition aggregates, and migrates road-network GIS files into the spatial store.",
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
