package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/shand-j/tagforge/internal/model"
)

// IterationStats records one autonomous-mode cycle
type IterationStats struct {
	Iteration   int     `json:"iteration"`
	Processed   int     `json:"processed"` // products re-examined this cycle
	Clean       int     `json:"clean"`
	Review      int     `json:"review"`
	Untagged    int     `json:"untagged"`
	CleanRatio  float64 `json:"clean_ratio"`
	Escalations bool    `json:"escalations"`
}

// AutonomousSummary is the result of a full autonomous session
type AutonomousSummary struct {
	RunID      string           `json:"run_id"`
	Iterations []IterationStats `json:"iterations"`
	Final      Summary          `json:"final"`
	TargetMet  bool             `json:"target_met"`
}

// RunAutonomous iterates toward the target clean ratio. The first cycle is
// rules-only; while the ratio is below target and iterations remain, the
// review and untagged subset is re-run with escalation enabled. Whatever
// state is current when the loop stops is always emitted in full.
func (p *Pipeline) RunAutonomous(ctx context.Context, products []model.Product) (*AutonomousSummary, []model.TaggingResult, error) {
	start := time.Now()
	target := p.config.Pipeline.TargetCleanRatio
	maxIter := p.config.Pipeline.MaxIterations
	if maxIter <= 0 {
		maxIter = 1
	}

	runID := "dry-run"
	if p.store != nil {
		snapshot, err := json.Marshal(p.config)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding config snapshot: %w", err)
		}
		runID, err = p.store.StartRun(ctx, string(snapshot))
		if err != nil {
			return nil, nil, fmt.Errorf("starting run: %w", err)
		}
	}

	summary := &AutonomousSummary{RunID: runID}

	// Results are kept per input row, never keyed by handle: variant rows
	// sharing a handle stay separate until the export union.
	var current []model.TaggingResult

	pending := products
	escalate := false // first cycle measures what rules alone achieve

	for iter := 1; iter <= maxIter; iter++ {
		results, err := p.runBatch(ctx, pending, runID, nil, escalate)
		if err != nil {
			return nil, nil, err
		}
		current = mergeIteration(current, results)

		s := summarize(runID, current)
		summary.Iterations = append(summary.Iterations, IterationStats{
			Iteration:   iter,
			Processed:   len(results),
			Clean:       s.Clean,
			Review:      s.Review,
			Untagged:    s.Untagged,
			CleanRatio:  s.CleanRatio,
			Escalations: escalate,
		})
		if p.config.Output.Verbose {
			fmt.Fprintf(os.Stderr, "iteration %d: clean ratio %.3f (target %.3f)\n", iter, s.CleanRatio, target)
		}

		if s.CleanRatio >= target {
			summary.TargetMet = true
			break
		}

		// Relax strategy: escalate, and only over the unresolved subset
		var unresolved []model.Product
		for _, r := range current {
			if r.Tier != model.TierClean {
				unresolved = append(unresolved, r.Product)
			}
		}
		pending = unresolved
		if len(pending) == 0 {
			break
		}
		if !p.config.Pipeline.EscalationEnabled {
			// Nothing left to relax
			break
		}
		escalate = true
	}

	if p.store != nil {
		if err := p.store.CompleteRun(ctx, runID); err != nil {
			return nil, nil, fmt.Errorf("completing run: %w", err)
		}
	}

	summary.Final = *summarize(runID, current)
	summary.Final.Duration = time.Since(start)
	return summary, current, nil
}

// mergeIteration combines a cycle's output with the rows it did not re-run.
// Only non-clean rows are ever resubmitted, so the previous clean rows plus
// the fresh results cover every input row exactly once.
func mergeIteration(previous, rerun []model.TaggingResult) []model.TaggingResult {
	merged := make([]model.TaggingResult, 0, len(previous)+len(rerun))
	for _, r := range previous {
		if r.Tier == model.TierClean {
			merged = append(merged, r)
		}
	}
	merged = append(merged, rerun...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Product.Handle < merged[j].Product.Handle
	})
	return merged
}
