package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shand-j/tagforge/internal/ledger"
	"github.com/spf13/cobra"
)

var (
	trainingOut     string
	trainingFormat  string
	trainingMinConf float64
	trainingPerCat  int
	correctedOnly   bool
)

// trainingCmd represents the export-training command
var trainingCmd = &cobra.Command{
	Use:   "export-training",
	Short: "Export clean and human-corrected records as a training set",
	Long: `Export-training pulls high-trust records out of the audit ledger:
clean-tier products plus any record a human corrected. Pure-rule
records carry no confidence score and are skipped when a minimum
confidence is set.

Example:
  tagforge export-training -o training.jsonl
  tagforge export-training -o training.csv --format csv
  tagforge export-training --min-confidence 0.8 --per-category 500`,
	RunE: runExportTraining,
}

func init() {
	rootCmd.AddCommand(trainingCmd)

	trainingCmd.Flags().StringVarP(&trainingOut, "output", "o", "training.jsonl", "output file path")
	trainingCmd.Flags().StringVar(&trainingFormat, "format", "jsonl", "output format (jsonl, csv)")
	trainingCmd.Flags().Float64Var(&trainingMinConf, "min-confidence", 0, "drop AI-tagged records below this confidence")
	trainingCmd.Flags().IntVar(&trainingPerCat, "per-category", 0, "cap examples per category (0 = no cap)")
	trainingCmd.Flags().BoolVar(&correctedOnly, "corrected-only", false, "export only human-corrected records")
	trainingCmd.Flags().StringVar(&reviewRunID, "run", "", "run ID (default: latest run)")
	trainingCmd.Flags().StringVar(&ledgerPath, "ledger", "", "audit ledger path (default from config)")
}

func runExportTraining(cmd *cobra.Command, args []string) error {
	if trainingFormat != "jsonl" && trainingFormat != "csv" {
		return fmt.Errorf("unknown format %q (supported: jsonl, csv)", trainingFormat)
	}

	ctx := context.Background()
	store, runID, err := openLedgerRun(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	examples, err := store.ExportTrainingSet(ctx, ledger.ExportOptions{
		RunID:            runID,
		MinConfidence:    trainingMinConf,
		IncludeCorrected: true,
		PerCategoryLimit: trainingPerCat,
	})
	if err != nil {
		return fmt.Errorf("exporting training set: %w", err)
	}
	if correctedOnly {
		filtered := examples[:0]
		for _, ex := range examples {
			if ex.Corrected {
				filtered = append(filtered, ex)
			}
		}
		examples = filtered
	}

	f, err := os.Create(trainingOut)
	if err != nil {
		return fmt.Errorf("creating %s: %w", trainingOut, err)
	}
	defer f.Close()

	switch trainingFormat {
	case "jsonl":
		enc := json.NewEncoder(f)
		for _, ex := range examples {
			if err := enc.Encode(ex); err != nil {
				return fmt.Errorf("writing %s: %w", trainingOut, err)
			}
		}
	case "csv":
		w := csv.NewWriter(f)
		if err := w.Write([]string{"Handle", "Title", "Description", "Category", "Tags", "Corrected"}); err != nil {
			return fmt.Errorf("writing %s: %w", trainingOut, err)
		}
		for _, ex := range examples {
			record := []string{
				ex.Handle, ex.Title, ex.Description, ex.Category,
				strings.Join(ex.Tags, ", "), fmt.Sprintf("%t", ex.Corrected),
			}
			if err := w.Write(record); err != nil {
				return fmt.Errorf("writing %s: %w", trainingOut, err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return fmt.Errorf("flushing %s: %w", trainingOut, err)
		}
	}

	fmt.Fprintf(os.Stderr, "Exported %d example(s) from run %s to %s\n", len(examples), runID, trainingOut)
	return nil
}
