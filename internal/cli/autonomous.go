package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/shand-j/tagforge/internal/export"
	"github.com/shand-j/tagforge/internal/ledger"
	"github.com/shand-j/tagforge/internal/pipeline"
	"github.com/shand-j/tagforge/internal/schema"
	"github.com/spf13/cobra"
)

var (
	targetRatio   float64
	maxIterations int
)

// autonomousCmd represents the autonomous command
var autonomousCmd = &cobra.Command{
	Use:   "autonomous <catalog.csv>",
	Short: "Iterate rules and escalation until the clean ratio meets target",
	Long: `Autonomous mode runs the pipeline in improvement cycles. The first
cycle is rules-only; each later cycle escalates only the products that
are still in review or untagged. The loop stops when the clean ratio
reaches the target or the iteration cap is hit, and the best available
result is written either way.

Example:
  tagforge autonomous catalog.csv --llm-provider ollama --llm-model llama3.1
  tagforge autonomous catalog.csv --target 0.95 --max-iterations 5`,
	Args: cobra.ExactArgs(1),
	RunE: runAutonomous,
}

func init() {
	rootCmd.AddCommand(autonomousCmd)

	autonomousCmd.Flags().Float64Var(&targetRatio, "target", 0, "target clean ratio, 0-1 (default from config)")
	autonomousCmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "iteration cap (default from config)")

	// Shared pipeline flags
	autonomousCmd.Flags().StringVar(&schemaPath, "schema", "", "approved tag schema YAML (default from config)")
	autonomousCmd.Flags().StringVar(&ledgerPath, "ledger", "", "audit ledger path (default from config)")
	autonomousCmd.Flags().StringVar(&outputDir, "output-dir", "", "output directory for tier files (default from config)")
	autonomousCmd.Flags().IntVar(&workers, "workers", 0, "number of concurrent workers (default from config)")
	autonomousCmd.Flags().DurationVar(&budget, "budget", 0, "wall-clock budget for escalation calls per cycle (0 = unlimited)")
	autonomousCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the AI response cache")
	autonomousCmd.Flags().StringVar(&llmProvider, "llm-provider", "", "escalation provider (openai, ollama)")
	autonomousCmd.Flags().StringVar(&llmModel, "llm-model", "", "escalation model name")
}

func runAutonomous(cmd *cobra.Command, args []string) error {
	file := args[0]

	cfg, err := loadConfigWithTagFlags()
	if err != nil {
		return err
	}
	if targetRatio > 0 {
		cfg.Pipeline.TargetCleanRatio = targetRatio
	}
	if maxIterations > 0 {
		cfg.Pipeline.MaxIterations = maxIterations
	}

	s, err := schema.Load(cfg.SchemaPath)
	if err != nil {
		return fmt.Errorf("loading tag schema: %w", err)
	}

	products, err := export.ReadProducts(file)
	if err != nil {
		return fmt.Errorf("reading catalog: %w", err)
	}
	if len(products) == 0 {
		return fmt.Errorf("no products found in %s", file)
	}

	ctx := context.Background()
	store, err := ledger.Open(ctx, cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer store.Close()

	p := pipeline.New(cfg, s, store)

	summary, results, err := p.RunAutonomous(ctx, products)
	if err != nil {
		return fmt.Errorf("autonomous run failed: %w", err)
	}

	if err := export.WriteTiers(cfg.Output.Dir, results); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	for _, it := range summary.Iterations {
		mode := "rules only"
		if it.Escalations {
			mode = "with escalation"
		}
		fmt.Fprintf(os.Stderr, "Iteration %d: %d processed, clean ratio %.2f (%s)\n",
			it.Iteration, it.Processed, it.CleanRatio, mode)
	}
	if summary.TargetMet {
		fmt.Fprintf(os.Stderr, "Target clean ratio %.2f reached after %d iteration(s)\n",
			cfg.Pipeline.TargetCleanRatio, len(summary.Iterations))
	} else {
		fmt.Fprintf(os.Stderr, "Target clean ratio %.2f not reached; best result written\n",
			cfg.Pipeline.TargetCleanRatio)
	}
	printSummary(&summary.Final, cfg.Output.Dir)
	return nil
}
