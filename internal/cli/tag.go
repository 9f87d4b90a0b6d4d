package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shand-j/tagforge/internal/export"
	"github.com/shand-j/tagforge/internal/ledger"
	"github.com/shand-j/tagforge/internal/model"
	"github.com/shand-j/tagforge/internal/pipeline"
	"github.com/shand-j/tagforge/internal/schema"
	"github.com/spf13/cobra"
)

var (
	schemaPath  string
	ledgerPath  string
	outputDir   string
	workers     int
	resumeRun   string
	budget      time.Duration
	noEscalate  bool
	noCache     bool
	llmProvider string
	llmModel    string
)

// tagCmd represents the tag command
var tagCmd = &cobra.Command{
	Use:   "tag <catalog.csv>",
	Short: "Tag a product catalog and write three-tier output files",
	Long: `Tag runs the full classification pipeline over a catalog CSV:
- Deterministic rule classification against the approved tag schema
- Validation of every candidate tag
- Optional AI escalation for products the rules cannot resolve
- Three-tier CSV output (clean, review, untagged) with variants
  unioned by handle

Example:
  tagforge tag catalog.csv
  tagforge tag catalog.csv --workers 8 --output-dir ./tagged
  tagforge tag catalog.csv --llm-provider ollama --llm-model llama3.1
  tagforge tag catalog.csv --resume run-20260831-101500-a1b2c3`,
	Args: cobra.ExactArgs(1),
	RunE: runTag,
}

func init() {
	rootCmd.AddCommand(tagCmd)

	tagCmd.Flags().StringVar(&schemaPath, "schema", "", "approved tag schema YAML (default from config)")
	tagCmd.Flags().StringVar(&ledgerPath, "ledger", "", "audit ledger path (default from config)")
	tagCmd.Flags().StringVar(&outputDir, "output-dir", "", "output directory for tier files (default from config)")
	tagCmd.Flags().IntVar(&workers, "workers", 0, "number of concurrent workers (default from config)")
	tagCmd.Flags().StringVar(&resumeRun, "resume", "", "resume an interrupted run by its run ID")
	tagCmd.Flags().DurationVar(&budget, "budget", 0, "wall-clock budget for escalation calls (0 = unlimited)")
	tagCmd.Flags().BoolVar(&noEscalate, "no-escalate", false, "disable AI escalation (rules only)")
	tagCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the AI response cache")
	tagCmd.Flags().StringVar(&llmProvider, "llm-provider", "", "escalation provider (openai, ollama)")
	tagCmd.Flags().StringVar(&llmModel, "llm-model", "", "escalation model name")
}

// applyTagFlags lays command-line overrides over the loaded configuration
func applyTagFlags(cfg *model.Config) {
	if schemaPath != "" {
		cfg.SchemaPath = schemaPath
	}
	if ledgerPath != "" {
		cfg.Ledger.Path = ledgerPath
	}
	if outputDir != "" {
		cfg.Output.Dir = outputDir
	}
	if workers > 0 {
		cfg.Concurrency.Workers = workers
	}
	if budget > 0 {
		cfg.Pipeline.Budget = budget
	}
	if noEscalate {
		cfg.Pipeline.EscalationEnabled = false
	}
	if noCache {
		cfg.Cache.Enabled = false
	}
	if llmProvider != "" {
		cfg.LLM.Provider = llmProvider
	}
	if llmModel != "" {
		cfg.LLM.Model = llmModel
	}
}

func runTag(cmd *cobra.Command, args []string) error {
	file := args[0]

	cfg, err := loadConfigWithTagFlags()
	if err != nil {
		return err
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

	if verbose {
		fmt.Fprintf(os.Stderr, "Catalog:  %s (%d rows)\n", file, len(products))
		fmt.Fprintf(os.Stderr, "Schema:   %s\n", cfg.SchemaPath)
		fmt.Fprintf(os.Stderr, "Ledger:   %s\n", cfg.Ledger.Path)
		fmt.Fprintf(os.Stderr, "Workers:  %d\n", cfg.Concurrency.Workers)
		if cfg.LLM.Provider != "" {
			fmt.Fprintf(os.Stderr, "LLM:      %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
		}
		fmt.Fprintln(os.Stderr)
	}

	p := pipeline.New(cfg, s, store)

	summary, results, err := p.Run(ctx, products, resumeRun)
	if err != nil {
		return fmt.Errorf("tagging failed: %w", err)
	}

	if err := export.WriteTiers(cfg.Output.Dir, results); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	printSummary(summary, cfg.Output.Dir)
	return nil
}

// loadConfigWithTagFlags resolves the flag overrides shared by the tag and
// autonomous commands, then checks provider credentials.
func loadConfigWithTagFlags() (*model.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	applyTagFlags(cfg)
	if err := resolveCredentials(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printSummary(s *pipeline.Summary, dir string) {
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "Run %s complete in %v\n", s.RunID, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "  Total:     %d\n", s.Total)
	fmt.Fprintf(os.Stderr, "  Clean:     %d (%.1f%%)\n", s.Clean, s.CleanRatio*100)
	fmt.Fprintf(os.Stderr, "  Review:    %d\n", s.Review)
	fmt.Fprintf(os.Stderr, "  Untagged:  %d\n", s.Untagged)
	if s.Skipped > 0 {
		fmt.Fprintf(os.Stderr, "  Skipped:   %d (already processed)\n", s.Skipped)
	}
	fmt.Fprintf(os.Stderr, "  Output:    %s\n", dir)
}
