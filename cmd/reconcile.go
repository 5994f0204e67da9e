package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/terravia-group/roadops-cli/internal/match"
	"github.com/terravia-group/roadops-cli/internal/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Link historical ratings to their originating surveys",
}

var reconcileRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Backfill survey links on unresolved historical ratings",
	Long:  "Streams unresolved historical ratings, finds candidate surveys by segment coverage, time proximity and author identity, and persists the winning link plus an anomaly count for each confidently matched record.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		segment, _ := cmd.Flags().GetString("segment")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		limit, _ := cmd.Flags().GetInt("limit")
		chunkSize, _ := cmd.Flags().GetInt("chunk-size")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if chunkSize <= 0 {
			chunkSize = cfg.Reconcile.ChunkSize
		}
		if concurrency <= 0 {
			concurrency = cfg.Reconcile.Concurrency
		}

		driver := reconcile.NewDriver(match.NewLocator(st), st, st)
		summary, err := driver.Run(ctx, reconcile.Options{
			SegmentID:    segment,
			DryRun:       dryRun,
			ChunkSize:    chunkSize,
			Concurrency:  concurrency,
			Limit:        limit,
			WritesPerSec: cfg.Reconcile.WritesPerSec,
		})
		if err != nil {
			return err
		}

		printSummary(summary, dryRun)
		return nil
	},
}

func printSummary(s reconcile.Summary, dryRun bool) {
	label := "Reconciliation complete"
	if dryRun {
		label = "Reconciliation dry run"
	}
	fmt.Printf("%s (run %s): %d processed, %d updated, %d ambiguous, %d no candidates, %d low confidence, %d errored\n",
		label, s.RunID, s.Processed, s.Updated, s.Ambiguous, s.NoCandidates, s.LowConfidence, s.Errored)
}

var reconcileStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show unresolved rating counts per segment",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		counts, err := st.UnresolvedCounts(ctx)
		if err != nil {
			return err
		}

		if len(counts) == 0 {
			fmt.Println("No unresolved ratings")
			return nil
		}

		var total int
		for _, c := range counts {
			fmt.Printf("%-20s %-20s %d\n", c.TenantID, c.RoadSegmentID, c.Count)
			total += c.Count
		}
		fmt.Printf("Total unresolved: %d\n", total)
		return nil
	},
}

func init() {
	reconcileRunCmd.Flags().String("segment", "", "restrict the run to one road segment")
	reconcileRunCmd.Flags().Bool("dry-run", false, "produce the summary without writing resolutions")
	reconcileRunCmd.Flags().Int("limit", 0, "max ratings to process (0 = all)")
	reconcileRunCmd.Flags().Int("chunk-size", 0, "ratings per chunk (0 = config default)")
	reconcileRunCmd.Flags().Int("concurrency", 0, "in-flight records per chunk (0 = config default)")

	reconcileCmd.AddCommand(reconcileRunCmd)
	reconcileCmd.AddCommand(reconcileStatusCmd)
	rootCmd.AddCommand(reconcileCmd)
}
