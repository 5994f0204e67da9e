package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/terravia-group/roadops-cli/internal/roadnet"
)

var roadsCmd = &cobra.Command{
	Use:   "roads",
	Short: "Road network geometry",
}

var roadsLoadCmd = &cobra.Command{
	Use:   "load <file.shp>",
	Short: "Migrate a road-network shapefile into the spatial store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		if batchSize <= 0 {
			batchSize = cfg.Roadnet.BatchSize
		}

		n, err := roadnet.Load(ctx, st, args[0], roadnet.LoadOptions{
			BatchSize: batchSize,
			DryRun:    dryRun,
		})
		if err != nil {
			return err
		}

		if dryRun {
			fmt.Printf("Dry run: %d segments parsed from %s\n", n, args[0])
		} else {
			fmt.Printf("Loaded %d segments from %s\n", n, args[0])
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the store schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return err
		}
		fmt.Println("Schema up to date")
		return nil
	},
}

func init() {
	roadsLoadCmd.Flags().Bool("dry-run", false, "parse and validate without writing")
	roadsLoadCmd.Flags().Int("batch-size", 0, "segments per store write (0 = config default)")

	roadsCmd.AddCommand(roadsLoadCmd)
	rootCmd.AddCommand(roadsCmd)
	rootCmd.AddCommand(migrateCmd)
}
