package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/shand-j/tagforge/internal/ledger"
	"github.com/shand-j/tagforge/internal/model"
	"github.com/shand-j/tagforge/internal/worker"
)

// Summary aggregates one batch execution
type Summary struct {
	RunID      string        `json:"run_id"`
	Total      int           `json:"total"`
	Clean      int           `json:"clean"`
	Review     int           `json:"review"`
	Untagged   int           `json:"untagged"`
	Skipped    int           `json:"skipped"` // already in the ledger on resume
	CleanRatio float64       `json:"clean_ratio"`
	Duration   time.Duration `json:"duration"`
}

// tagJob is one product's unit of work. The escalation context is captured
// at submit time: the pool's own context keeps workers alive so rule
// results flush even after the escalation budget expires.
type tagJob struct {
	pipe     *Pipeline
	product  model.Product
	escCtx   context.Context
	escalate bool
	seq      int // submission order, restored after the pool completes
}

type tagResult struct {
	result model.TaggingResult
	seq    int
}

func (r *tagResult) GetError() error { return nil }

func (j *tagJob) Execute(_ context.Context) worker.Result {
	return &tagResult{result: j.pipe.tagProduct(j.escCtx, &j.product, j.escalate), seq: j.seq}
}

// Run tags a batch of products over the worker pool, persists every result
// to the ledger, and partitions them into tiers. resumeRunID continues an
// interrupted run, skipping handles already recorded; empty starts fresh.
//
// Output is sorted by handle: the tier partition and per-product tag sets
// are identical whether one worker runs or many.
func (p *Pipeline) Run(ctx context.Context, products []model.Product, resumeRunID string) (*Summary, []model.TaggingResult, error) {
	start := time.Now()

	runID, skip, err := p.prepareRun(ctx, resumeRunID)
	if err != nil {
		return nil, nil, err
	}

	results, err := p.runBatch(ctx, products, runID, skip, p.config.Pipeline.EscalationEnabled)
	if err != nil {
		return nil, nil, err
	}

	// On resume, skipped handles were tagged by the interrupted run; their
	// ledger records rejoin the result set so every input product still
	// lands in a tier file.
	if len(skip) > 0 && p.store != nil {
		prior, err := p.hydrateSkipped(ctx, runID, skip)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, prior...)
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Product.Handle < results[j].Product.Handle
		})
	}

	if p.store != nil {
		if err := p.store.CompleteRun(ctx, runID); err != nil {
			return nil, nil, fmt.Errorf("completing run: %w", err)
		}
	}

	summary := summarize(runID, results)
	summary.Skipped = len(skip)
	summary.Duration = time.Since(start)
	return summary, results, nil
}

// hydrateSkipped loads the ledger records of handles the resumed run already
// processed and converts them back into results
func (p *Pipeline) hydrateSkipped(ctx context.Context, runID string, skip map[string]struct{}) ([]model.TaggingResult, error) {
	records, err := p.store.Products(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading processed records: %w", err)
	}
	results := make([]model.TaggingResult, 0, len(skip))
	for _, rec := range records {
		if _, ok := skip[rec.Handle]; ok {
			results = append(results, fromAuditRecord(rec))
		}
	}
	return results, nil
}

// prepareRun resolves the run id: resume an interrupted run or start a new
// one with the config snapshot
func (p *Pipeline) prepareRun(ctx context.Context, resumeRunID string) (string, map[string]struct{}, error) {
	if p.store == nil {
		return "dry-run", nil, nil
	}

	if resumeRunID != "" {
		status, err := p.store.GetRunStatus(ctx, resumeRunID)
		if errors.Is(err, ledger.ErrRunNotFound) {
			return "", nil, fmt.Errorf("cannot resume: %w (%s)", err, resumeRunID)
		}
		if err != nil {
			return "", nil, err
		}
		if status != model.RunRunning {
			return "", nil, fmt.Errorf("cannot resume run %s: status is %s", resumeRunID, status)
		}
		skip, err := p.store.ProcessedHandles(ctx, resumeRunID)
		if err != nil {
			return "", nil, err
		}
		return resumeRunID, skip, nil
	}

	snapshot, err := json.Marshal(p.config)
	if err != nil {
		return "", nil, fmt.Errorf("encoding config snapshot: %w", err)
	}
	runID, err := p.store.StartRun(ctx, string(snapshot))
	if err != nil {
		return "", nil, fmt.Errorf("starting run: %w", err)
	}
	return runID, nil, nil
}

// runBatch distributes products over the pool and flushes every result to
// the ledger before returning
func (p *Pipeline) runBatch(ctx context.Context, products []model.Product, runID string, skip map[string]struct{}, escalate bool) ([]model.TaggingResult, error) {
	escCtx := ctx
	var cancelBudget context.CancelFunc
	if p.config.Pipeline.Budget > 0 {
		escCtx, cancelBudget = context.WithTimeout(ctx, p.config.Pipeline.Budget)
		defer cancelBudget()
	}

	// The pool deliberately does not inherit the budget context: budget
	// exhaustion stops escalation calls, never classification or the
	// ledger flush
	pool := worker.NewPool(context.Background(), p.config.Concurrency.Workers)
	pool.Start()

	submitted := 0
	for _, prod := range products {
		if _, done := skip[prod.Handle]; done {
			continue
		}
		pool.Submit(&tagJob{pipe: p, product: prod, escCtx: escCtx, escalate: escalate, seq: submitted})
		submitted++
	}

	raw := pool.Wait()
	if len(raw) != submitted {
		return nil, fmt.Errorf("worker pool returned %d results for %d products", len(raw), submitted)
	}

	// Pool output follows completion order. Sorting by handle with the
	// submission index as tie-breaker keeps variant rows sharing a handle
	// in input order, so the same variant wins the ledger upsert every run.
	tagged := make([]*tagResult, 0, len(raw))
	for _, r := range raw {
		tagged = append(tagged, r.(*tagResult))
	}
	sort.Slice(tagged, func(i, j int) bool {
		a, b := tagged[i], tagged[j]
		if a.result.Product.Handle != b.result.Product.Handle {
			return a.result.Product.Handle < b.result.Product.Handle
		}
		return a.seq < b.seq
	})
	results := make([]model.TaggingResult, 0, len(tagged))
	for _, r := range tagged {
		results = append(results, r.result)
	}

	if p.store != nil {
		for _, res := range results {
			if err := p.store.SaveProduct(ctx, toAuditRecord(runID, res)); err != nil {
				return nil, fmt.Errorf("saving %s to ledger: %w", res.Product.Handle, err)
			}
		}
	}

	if p.config.Output.Verbose {
		s := summarize(runID, results)
		fmt.Fprintf(os.Stderr, "run %s: %d clean, %d review, %d untagged (%.1f%% clean)\n",
			runID, s.Clean, s.Review, s.Untagged, s.CleanRatio*100)
	}
	return results, nil
}

func summarize(runID string, results []model.TaggingResult) *Summary {
	s := &Summary{RunID: runID, Total: len(results)}
	for _, r := range results {
		switch r.Tier {
		case model.TierClean:
			s.Clean++
		case model.TierReview:
			s.Review++
		case model.TierUntagged:
			s.Untagged++
		}
	}
	if s.Total > 0 {
		s.CleanRatio = float64(s.Clean) / float64(s.Total)
	}
	return s
}
