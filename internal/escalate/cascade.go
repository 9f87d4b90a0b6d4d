// Package escalate implements the AI escalation cascade: validation failure
// reasons are parsed into dimensions, each dimension gets one targeted
// prompt, and model answers are normalized and vocabulary-checked before they
// become tag candidates. A low-confidence primary answer can be re-asked of a
// second model and the two reconciled.
package escalate

import (
	"context"
	"fmt"
	"time"

	"github.com/shand-j/tagforge/internal/cache"
	"github.com/shand-j/tagforge/internal/llm"
	"github.com/shand-j/tagforge/internal/model"
	"github.com/shand-j/tagforge/internal/schema"
	"github.com/shand-j/tagforge/internal/validate"
)

// RateWaiter throttles calls to the external model service
type RateWaiter interface {
	Wait(ctx context.Context, key string) error
}

// Options configures the cascade
type Options struct {
	// SecondOpinionModel re-answers prompts whose primary confidence falls
	// below ConfidenceThreshold. Empty disables the tier.
	SecondOpinionModel string

	// ConfidenceThreshold triggers the second opinion below it
	ConfidenceThreshold float64

	// Cache stores raw model responses keyed by handle+dimension+prompt
	Cache cache.Cache

	// CacheTTL for stored responses
	CacheTTL time.Duration

	// Limiter throttles model calls (keyed by model name)
	Limiter RateWaiter
}

// Cascade escalates unresolved dimensions to the external model service
type Cascade struct {
	schema   *schema.Schema
	provider llm.Provider
	opts     Options
}

// Outcome is the result of escalating one product
type Outcome struct {
	// Candidates are vocabulary-checked tags the model resolved
	Candidates []model.TagCandidate

	// Category is non-empty when the category dimension itself was resolved
	Category string

	// Failed carries a diagnostic per dimension the cascade could not fix
	Failed []string

	// ModelUsed names the provider's model, for the audit ledger
	ModelUsed string
}

// New creates a cascade. A nil provider is legal: Escalate then fails every
// dimension with a diagnostic, and products fall through to review.
func New(s *schema.Schema, provider llm.Provider, opts Options) *Cascade {
	if opts.ConfidenceThreshold == 0 {
		opts.ConfidenceThreshold = 0.7
	}
	return &Cascade{schema: s, provider: provider, opts: opts}
}

// DimensionsFromReasons parses validation failure reasons into the ordered,
// deduplicated list of dimensions to escalate. Reasons that do not name a
// fixable dimension (unknown tags, applicability violations) are skipped:
// those tags are simply dropped, not re-asked.
func DimensionsFromReasons(reasons []string) []string {
	var dims []string
	seen := make(map[string]struct{})
	add := func(d string) {
		if _, dup := seen[d]; dup || !HasPrompt(d) {
			return
		}
		seen[d] = struct{}{}
		dims = append(dims, d)
	}
	for _, reason := range reasons {
		if m := validate.MissingDimensionPattern.FindStringSubmatch(reason); m != nil {
			add(m[1])
			continue
		}
		if m := validate.DimensionFailurePattern.FindStringSubmatch(reason); m != nil {
			add(m[1])
		}
	}
	return dims
}

// Escalate asks the model about every dimension derivable from the failure
// reasons. Call failures are non-fatal per dimension: the product keeps
// whatever the cascade did resolve plus a diagnostic for the rest.
func (c *Cascade) Escalate(ctx context.Context, p *model.Product, currentTags, reasons []string) Outcome {
	var out Outcome

	dims := DimensionsFromReasons(reasons)
	if len(dims) == 0 {
		return out
	}
	if c.provider == nil {
		for _, dim := range dims {
			out.Failed = append(out.Failed, fmt.Sprintf("escalation unavailable for %s: no provider configured", dim))
		}
		return out
	}

	for _, dim := range dims {
		prompt, ok := RenderPrompt(dim, p.Title, p.Description, currentTags)
		if !ok {
			out.Failed = append(out.Failed, fmt.Sprintf("no prompt template for %s", dim))
			continue
		}

		value, confidence, usedModel, err := c.resolve(ctx, p.Handle, dim, prompt)
		if err != nil {
			out.Failed = append(out.Failed, fmt.Sprintf("escalation failed for %s: %v", dim, err))
			continue
		}
		if value == "" {
			out.Failed = append(out.Failed, fmt.Sprintf("model answer not in vocabulary for %s", dim))
			continue
		}

		out.ModelUsed = usedModel
		if dim == "category" {
			out.Category = value
		}
		out.Candidates = append(out.Candidates, model.TagCandidate{
			Value:      value,
			Dimension:  dim,
			Source:     model.SourceAI,
			Confidence: confidence,
		})
	}
	return out
}

// resolve runs the primary ask and, below the confidence threshold, the
// second opinion, reconciling the two answers. Higher confidence wins; an
// exact tie between different answers is a failure that leaves the product in
// review for a human.
func (c *Cascade) resolve(ctx context.Context, handle, dim, prompt string) (string, float64, string, error) {
	primary, primaryConf, primaryModel, err := c.ask(ctx, handle, dim, prompt, "")
	if err != nil {
		return "", 0, "", err
	}

	if primaryConf >= c.opts.ConfidenceThreshold || c.opts.SecondOpinionModel == "" {
		return primary, primaryConf, primaryModel, nil
	}

	second, secondConf, secondModel, err := c.ask(ctx, handle, dim, prompt, c.opts.SecondOpinionModel)
	if err != nil {
		// The second opinion is an upgrade path, not a dependency
		return primary, primaryConf, primaryModel, nil
	}

	switch {
	case second == "":
		return primary, primaryConf, primaryModel, nil
	case primary == "":
		return second, secondConf, secondModel, nil
	case primary == second:
		if secondConf > primaryConf {
			primaryConf = secondConf
		}
		return primary, primaryConf, primaryModel, nil
	case secondConf > primaryConf:
		return second, secondConf, secondModel, nil
	case primaryConf > secondConf:
		return primary, primaryConf, primaryModel, nil
	default:
		return "", 0, "", fmt.Errorf("second opinion tie: %q vs %q at confidence %.2f", primary, second, primaryConf)
	}
}

// ask performs one model call (through cache and rate limiter) and reduces
// the raw response to a vocabulary-checked value
func (c *Cascade) ask(ctx context.Context, handle, dim, prompt, modelName string) (string, float64, string, error) {
	key := cache.ResponseKey(handle, dim, prompt+"\x00"+modelName)

	var raw string
	if c.opts.Cache != nil {
		if answer, found := c.opts.Cache.Get(key); found {
			raw = answer
		}
	}

	usedModel := modelName
	if raw == "" {
		if c.opts.Limiter != nil {
			if err := c.opts.Limiter.Wait(ctx, modelName); err != nil {
				return "", 0, "", err
			}
		}
		resp, err := c.provider.Generate(ctx, llm.GenerateRequest{Prompt: prompt, Model: modelName})
		if err != nil {
			return "", 0, "", err
		}
		raw = resp.Text
		usedModel = resp.Model
		if c.opts.Cache != nil {
			_ = c.opts.Cache.Set(key, raw, c.opts.CacheTTL)
		}
	}

	value, confidence := ParseResponse(raw)
	value = Normalize(dim, value)
	if value == "" {
		return "", confidence, usedModel, nil
	}
	return c.accept(dim, value), confidence, usedModel, nil
}

// accept maps a normalized answer onto the schema's allowed values for the
// dimension. Range-ruled dimensions are checked numerically; enumerated ones
// by closest match.
func (c *Cascade) accept(dim, value string) string {
	if dim == schema.CategoryDimension {
		return ClosestMatch(value, c.schema.Categories())
	}
	if _, ruled := c.schema.Rule(dim); ruled {
		if c.schema.InRange(value, dim) {
			return value
		}
		return ""
	}
	return ClosestMatch(value, c.schema.AllowedValues(dim))
}
