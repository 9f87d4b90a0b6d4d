package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shand-j/tagforge/internal/ledger"
	"github.com/shand-j/tagforge/internal/model"
	"github.com/spf13/cobra"
)

var (
	reviewRunID string
	reviewLimit int
)

// reviewCmd represents the review command group
var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Inspect and correct ledger records needing human attention",
	Long: `Review works the human side of the audit ledger: list products that
landed in review or untagged, mark records as verified, and record
corrected tag sets. Corrections feed the training export.

Example:
  tagforge review list
  tagforge review list --limit 20
  tagforge review verify strawberry-ice-50ml
  tagforge review correct strawberry-ice-50ml e-liquid,3mg,50ml
  tagforge review stats`,
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unverified review and untagged records, least confident first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, runID, err := openLedgerRun(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.Unverified(ctx, runID, reviewLimit)
		if err != nil {
			return fmt.Errorf("listing review queue: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("Nothing awaiting review.")
			return nil
		}

		for _, rec := range records {
			fmt.Printf("%-40s %-9s conf=%.2f  %s\n",
				rec.Handle, rec.Tier, rec.AIConfidence, strings.Join(rec.FinalTags, ", "))
			for _, reason := range rec.FailureReasons {
				fmt.Printf("    - %s\n", reason)
			}
		}
		fmt.Printf("\n%d record(s) in run %s\n", len(records), runID)
		return nil
	},
}

var reviewVerifyCmd = &cobra.Command{
	Use:   "verify <handle>",
	Short: "Mark a product's tags as human verified",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, _, err := openLedgerRun(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.MarkVerified(ctx, args[0]); err != nil {
			return fmt.Errorf("verifying %s: %w", args[0], err)
		}
		fmt.Printf("Verified %s\n", args[0])
		return nil
	},
}

var reviewCorrectCmd = &cobra.Command{
	Use:   "correct <handle> <tag,tag,...>",
	Short: "Record a corrected tag set for a product",
	Long: `Correct stores a human-approved tag set alongside the pipeline's
answer and marks the record verified. The original tags stay in the
ledger untouched.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		handle := args[0]
		var tags []string
		for _, t := range strings.Split(args[1], ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		if len(tags) == 0 {
			return fmt.Errorf("no tags given")
		}

		ctx := context.Background()
		store, _, err := openLedgerRun(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.UpdateCorrectedTags(ctx, handle, tags); err != nil {
			return fmt.Errorf("correcting %s: %w", handle, err)
		}
		fmt.Printf("Corrected %s: %s\n", handle, strings.Join(tags, ", "))
		return nil
	},
}

var reviewStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show tier counts and verification progress for a run",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, runID, err := openLedgerRun(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Stats(ctx, runID)
		if err != nil {
			return fmt.Errorf("reading stats: %w", err)
		}

		fmt.Printf("Run %s\n", runID)
		fmt.Printf("  Total:      %d\n", stats.Total)
		for _, tier := range []model.Tier{model.TierClean, model.TierReview, model.TierUntagged} {
			fmt.Printf("  %-10s  %d\n", string(tier)+":", stats.ByTier[tier])
		}
		fmt.Printf("  Verified:   %d\n", stats.Verified)
		fmt.Printf("  Escalated:  %d\n", stats.Escalated)
		if stats.Escalated > 0 {
			fmt.Printf("  Avg conf:   %.2f\n", stats.AvgConfidence)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewVerifyCmd)
	reviewCmd.AddCommand(reviewCorrectCmd)
	reviewCmd.AddCommand(reviewStatsCmd)

	reviewCmd.PersistentFlags().StringVar(&reviewRunID, "run", "", "run ID (default: latest run)")
	reviewCmd.PersistentFlags().StringVar(&ledgerPath, "ledger", "", "audit ledger path (default from config)")
	reviewListCmd.Flags().IntVar(&reviewLimit, "limit", 0, "cap the number of records listed (0 = all)")
}

// openLedgerRun opens the configured ledger and resolves the run to operate
// on: the --run flag if given, the latest run otherwise.
func openLedgerRun(ctx context.Context) (*ledger.Store, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	if ledgerPath != "" {
		cfg.Ledger.Path = ledgerPath
	}

	store, err := ledger.Open(ctx, cfg.Ledger.Path)
	if err != nil {
		return nil, "", fmt.Errorf("opening ledger: %w", err)
	}

	runID := reviewRunID
	if runID == "" {
		run, err := store.GetLatestRun(ctx)
		if err != nil {
			store.Close()
			return nil, "", fmt.Errorf("no runs in ledger %s: %w", cfg.Ledger.Path, err)
		}
		runID = run.RunID
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "Ledger: %s, run: %s\n", cfg.Ledger.Path, runID)
	}
	return store, runID, nil
}
