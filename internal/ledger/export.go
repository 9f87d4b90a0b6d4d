package ledger

import (
	"context"
	"sort"

	"github.com/shand-j/tagforge/internal/model"
)

// ExportOptions filters the training-set export
type ExportOptions struct {
	// RunID limits the export to one run; empty exports across all runs
	// with per-handle deduplication keeping the newest record
	RunID string

	// MinConfidence drops AI-tagged records below the threshold. Pure
	// rule records carry confidence 0 and are always kept: rules are
	// deterministic ground truth.
	MinConfidence float64

	// IncludeCorrected swaps in human-corrected tag sets where present
	IncludeCorrected bool

	// PerCategoryLimit caps examples per category so the export is not
	// skewed toward the most common one. 0 means no cap.
	PerCategoryLimit int
}

// TrainingExample is one exported (input, label) pair
type TrainingExample struct {
	Handle      string   `json:"handle"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Corrected   bool     `json:"corrected"`
}

// ExportTrainingSet pulls clean-tier and human-corrected records into
// training examples: confidence-filtered, deduplicated by handle, and
// optionally stratified per category.
func (s *Store) ExportTrainingSet(ctx context.Context, opts ExportOptions) ([]TrainingExample, error) {
	q := `
SELECT ` + productColumns + `
FROM products
ORDER BY processed_at DESC, handle`
	var args []interface{}
	if opts.RunID != "" {
		q = `
SELECT ` + productColumns + `
FROM products
WHERE run_id=?
ORDER BY processed_at DESC, handle`
		args = append(args, opts.RunID)
	}

	records, err := s.queryProducts(ctx, q+";", args...)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	perCategory := make(map[string]int)
	var examples []TrainingExample

	for _, rec := range records {
		if _, dup := seen[rec.Handle]; dup {
			continue
		}

		tags := rec.FinalTags
		corrected := false
		if opts.IncludeCorrected && len(rec.HumanCorrectedTags) > 0 {
			tags = rec.HumanCorrectedTags
			corrected = true
		}

		// Only trustworthy labels: clean tier, or a human said so
		if rec.Tier != model.TierClean && !corrected {
			continue
		}
		if !corrected && rec.AIConfidence > 0 && rec.AIConfidence < opts.MinConfidence {
			continue
		}
		if rec.DetectedCategory == "" || len(tags) == 0 {
			continue
		}
		if opts.PerCategoryLimit > 0 && perCategory[rec.DetectedCategory] >= opts.PerCategoryLimit {
			continue
		}

		seen[rec.Handle] = struct{}{}
		perCategory[rec.DetectedCategory]++

		sorted := append([]string(nil), tags...)
		sort.Strings(sorted)
		examples = append(examples, TrainingExample{
			Handle:      rec.Handle,
			Title:       rec.Title,
			Description: rec.Description,
			Category:    rec.DetectedCategory,
			Tags:        sorted,
			Corrected:   corrected,
		})
	}

	sort.Slice(examples, func(i, j int) bool { return examples[i].Handle < examples[j].Handle })
	return examples, nil
}
