// Package pipeline drives the classify → validate → escalate → re-validate
// sequence per product and routes every product into exactly one of three
// output tiers. Products are independent units of work; the audit ledger is
// the only shared mutable state.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shand-j/tagforge/internal/cache"
	"github.com/shand-j/tagforge/internal/classify"
	"github.com/shand-j/tagforge/internal/escalate"
	"github.com/shand-j/tagforge/internal/ledger"
	"github.com/shand-j/tagforge/internal/llm"
	"github.com/shand-j/tagforge/internal/model"
	"github.com/shand-j/tagforge/internal/schema"
	"github.com/shand-j/tagforge/internal/validate"
	"github.com/shand-j/tagforge/internal/worker"
)

// multiValued names the dimensions that may carry several tags at once.
// Everything else keeps only its highest-confidence candidate.
var multiValued = map[string]struct{}{
	"flavor_profile":  {},
	"liquid_features": {},
}

// Pipeline orchestrates the tagging of one batch
type Pipeline struct {
	schema     *schema.Schema
	classifier *classify.Classifier
	validator  *validate.Validator
	cascade    *escalate.Cascade
	store      *ledger.Store
	config     *model.Config
}

// New builds a pipeline from configuration. The store may be nil (dry runs
// skip the ledger). With no LLM provider configured the cascade still
// exists; it fails every escalation with a diagnostic and products fall
// through to review.
func New(cfg *model.Config, s *schema.Schema, store *ledger.Store) *Pipeline {
	var provider llm.Provider
	if cfg.LLM.Provider != "" {
		p, err := llm.NewProvider(llm.ConfigFromModel(cfg.LLM))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: LLM provider unavailable: %v\n", err)
		} else {
			provider = p
		}
	}
	return NewWithProvider(cfg, s, store, provider)
}

// NewWithProvider builds a pipeline around an externally constructed model
// provider
func NewWithProvider(cfg *model.Config, s *schema.Schema, store *ledger.Store, provider llm.Provider) *Pipeline {
	var respCache cache.Cache
	if cfg.Cache.Enabled {
		respCache = cache.NewLayeredCache(cfg.Cache.TTL, cfg.Cache.Dir, cfg.Cache.TTL)
	}

	cascade := escalate.New(s, provider, escalate.Options{
		SecondOpinionModel:  cfg.LLM.SecondOpinionModel,
		ConfidenceThreshold: cfg.LLM.ConfidenceThreshold,
		Cache:               respCache,
		CacheTTL:            cfg.Cache.TTL,
		Limiter:             worker.NewLimiter(cfg.Concurrency.RequestsPerSecond, cfg.Concurrency.Burst),
	})

	return &Pipeline{
		schema:     s,
		classifier: classify.New(s),
		validator:  validate.New(s),
		cascade:    cascade,
		store:      store,
		config:     cfg,
	}
}

// TagProduct runs the full per-product sequence. The context gates model
// calls only: when it is already cancelled (budget exhausted) no escalation
// is attempted but rule results still flow through.
func (p *Pipeline) TagProduct(ctx context.Context, prod *model.Product) model.TaggingResult {
	return p.tagProduct(ctx, prod, p.config.Pipeline.EscalationEnabled)
}

func (p *Pipeline) tagProduct(ctx context.Context, prod *model.Product, escalate bool) model.TaggingResult {
	ruled := p.classifier.Classify(prod)
	category := ruled.Category.Category

	result := model.TaggingResult{
		Product:          *prod,
		Category:         ruled.Category,
		RuleTags:         tagValues(ruled.Tags),
		SecondaryFlavors: ruled.SecondaryFlavors,
		State:            model.StateRuleTagged,
	}

	candidates := ruled.Tags
	check := p.validator.Validate(tagValues(candidates), category)

	if check.Valid && category != "" {
		result.State = model.StateValidated
		return p.finish(result, candidates, check)
	}

	result.State = model.StateNeedsEscalation
	if !escalate {
		return p.finish(result, candidates, check)
	}
	if err := ctx.Err(); err != nil {
		check.FailureReasons = append(check.FailureReasons, "escalation skipped: budget exhausted")
		return p.finish(result, candidates, check)
	}

	outcome := p.cascade.Escalate(ctx, prod, tagValues(candidates), check.FailureReasons)
	result.State = model.StateAiTagged
	result.AITags = tagValues(outcome.Candidates)
	result.ModelUsed = outcome.ModelUsed
	for _, c := range outcome.Candidates {
		if c.Confidence > result.Confidence {
			result.Confidence = c.Confidence
		}
	}

	// A category the rules missed unlocks the deterministic extractors
	if category == "" && outcome.Category != "" {
		category = outcome.Category
		result.Category = model.CategoryDecision{Category: category, PriorityRank: classify.PriorityOf(category)}
		reRuled := p.classifier.ClassifyAs(prod, category)
		candidates = mergeCandidates(candidates, reRuled.Tags)
		result.SecondaryFlavors = reRuled.SecondaryFlavors
	}
	candidates = mergeCandidates(candidates, outcome.Candidates)

	recheck := p.validator.Validate(tagValues(candidates), category)
	if recheck.Valid {
		result.State = model.StateValidated
	} else {
		recheck.FailureReasons = append(recheck.FailureReasons, outcome.Failed...)
		result.State = model.StateNeedsReview
	}
	return p.finish(result, candidates, recheck)
}

// finish selects final tags, assigns the tier and failure reasons
func (p *Pipeline) finish(result model.TaggingResult, candidates []model.TagCandidate, check validate.Result) model.TaggingResult {
	category := result.Category.Category
	final := selectFinal(candidates)
	result.FinalTags = tagValues(final)
	result.FailureReasons = check.FailureReasons

	switch {
	case category == "":
		result.Tier = model.TierUntagged
	case check.Valid:
		result.Tier = model.TierClean
		result.State = model.StateValidated
	case len(final) <= 1:
		// Nothing beyond the category tag was ever extracted; there is
		// no candidate evidence for a human to review
		result.Tier = model.TierUntagged
	default:
		result.Tier = model.TierReview
		result.State = model.StateNeedsReview
	}
	return result
}

// selectFinal reduces candidates to final tags: multi-valued dimensions keep
// everything, single-valued dimensions keep the highest-confidence
// candidate. Order is stable so repeated runs produce identical output.
func selectFinal(candidates []model.TagCandidate) []model.TagCandidate {
	best := make(map[string]int)
	var final []model.TagCandidate

	for _, c := range candidates {
		if _, multi := multiValued[c.Dimension]; multi || c.Dimension == "" {
			final = append(final, c)
			continue
		}
		idx, exists := best[c.Dimension]
		if !exists {
			best[c.Dimension] = len(final)
			final = append(final, c)
			continue
		}
		if c.Confidence > final[idx].Confidence {
			final[idx] = c
		}
	}
	return final
}

// mergeCandidates appends extras, skipping values already present
func mergeCandidates(base, extra []model.TagCandidate) []model.TagCandidate {
	seen := make(map[string]struct{}, len(base))
	for _, c := range base {
		seen[c.Value] = struct{}{}
	}
	for _, c := range extra {
		if _, dup := seen[c.Value]; dup {
			continue
		}
		seen[c.Value] = struct{}{}
		base = append(base, c)
	}
	return base
}

func tagValues(candidates []model.TagCandidate) []string {
	if len(candidates) == 0 {
		return nil
	}
	values := make([]string, 0, len(candidates))
	for _, c := range candidates {
		values = append(values, c.Value)
	}
	return values
}

func toAuditRecord(runID string, r model.TaggingResult) model.AuditRecord {
	return model.AuditRecord{
		RunID:            runID,
		Handle:           r.Product.Handle,
		Title:            r.Product.Title,
		Description:      r.Product.Description,
		DetectedCategory: r.Category.Category,
		RuleTags:         r.RuleTags,
		AITags:           r.AITags,
		FinalTags:        r.FinalTags,
		SecondaryFlavors: r.SecondaryFlavors,
		FailureReasons:   r.FailureReasons,
		Tier:             r.Tier,
		AIConfidence:     r.Confidence,
		ModelUsed:        r.ModelUsed,
		ProcessedAt:      time.Now().UTC(),
	}
}

// fromAuditRecord rebuilds a result from its ledger row, used when a resumed
// run re-emits products the interrupted run already tagged
func fromAuditRecord(rec model.AuditRecord) model.TaggingResult {
	state := model.StateNeedsReview
	if rec.Tier == model.TierClean {
		state = model.StateValidated
	}
	return model.TaggingResult{
		Product: model.Product{
			Handle:      rec.Handle,
			Title:       rec.Title,
			Description: rec.Description,
		},
		Category:         model.CategoryDecision{Category: rec.DetectedCategory},
		RuleTags:         rec.RuleTags,
		AITags:           rec.AITags,
		FinalTags:        rec.FinalTags,
		SecondaryFlavors: rec.SecondaryFlavors,
		FailureReasons:   rec.FailureReasons,
		State:            state,
		Tier:             rec.Tier,
		Confidence:       rec.AIConfidence,
		ModelUsed:        rec.ModelUsed,
	}
}
