package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/terravia-group/roadops-cli/internal/aggregate"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Derived road-condition statistics",
}

var aggregateRecomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Recompute per-segment aggregates from the full rating history",
	Long:  "Rebuilds survey counts, anomaly totals, contributor counts, last survey dates and average ride-quality per (tenant, segment) pair from source data, upserting one summary row per pair. Safe to re-run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		tenant, _ := cmd.Flags().GetString("tenant")
		segment, _ := cmd.Flags().GetString("segment")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		rc := aggregate.NewRecomputer(st, st)

		if segment != "" {
			if tenant == "" {
				return eris.New("--segment requires --tenant")
			}
			if dryRun {
				rows, err := st.ByPair(ctx, tenant, segment)
				if err != nil {
					return err
				}
				agg := aggregate.Derive(tenant, segment, rows)
				fmt.Printf("Dry run %s/%s: %d surveys, %d anomalies, %d contributors, avg %.3f\n",
					tenant, segment, agg.TotalSurveys, agg.TotalAnomalies,
					agg.UniqueContributors, agg.AvgRideQuality)
				return nil
			}
			agg, err := rc.Recompute(ctx, tenant, segment)
			if err != nil {
				return err
			}
			fmt.Printf("Recomputed %s/%s: %d surveys, %d anomalies, %d contributors, avg %.3f\n",
				tenant, segment, agg.TotalSurveys, agg.TotalAnomalies,
				agg.UniqueContributors, agg.AvgRideQuality)
			return nil
		}

		summary, err := rc.RecomputeAll(ctx, tenant, dryRun)
		if err != nil {
			return err
		}
		fmt.Printf("Aggregate recompute: %d segments, %d updated, %d errored\n",
			summary.Segments, summary.Updated, summary.Errored)
		return nil
	},
}

func init() {
	aggregateRecomputeCmd.Flags().String("tenant", "", "restrict to one tenant")
	aggregateRecomputeCmd.Flags().String("segment", "", "recompute a single segment (requires --tenant)")
	aggregateRecomputeCmd.Flags().Bool("dry-run", false, "derive without upserting")

	aggregateCmd.AddCommand(aggregateRecomputeCmd)
	rootCmd.AddCommand(aggregateCmd)
}
