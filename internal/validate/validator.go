// Package validate checks candidate tags against the approved schema and
// produces the machine-readable failure reasons that drive escalation and the
// review tier.
package validate

import (
	"fmt"
	"regexp"

	"github.com/shand-j/tagforge/internal/schema"
)

// Result is the outcome of validating one product's tag set
type Result struct {
	Valid          bool
	FailureReasons []string
}

// Validator validates tag sets against the schema
type Validator struct {
	schema *schema.Schema
}

func New(s *schema.Schema) *Validator {
	return &Validator{schema: s}
}

// Failure reason formats. These strings are parsed downstream (escalation
// picks its prompt from them), so changes here are protocol changes.
func reasonNotInVocabulary(tag string) string {
	return fmt.Sprintf("tag %q not in vocabulary", tag)
}

func reasonNotApplicable(tag, category string) string {
	return fmt.Sprintf("tag %q not applicable to category %q", tag, category)
}

func reasonOutOfRange(tag, dimension string) string {
	return fmt.Sprintf("tag %q out of range for %s", tag, dimension)
}

func reasonIllegalValue(tag, dimension string) string {
	return fmt.Sprintf("tag %q illegal value for %s", tag, dimension)
}

func reasonMissing(dimension string) string {
	return fmt.Sprintf("missing %s", dimension)
}

// MissingDimensionPattern extracts the dimension from a "missing X" reason
var MissingDimensionPattern = regexp.MustCompile(`^missing (\S+)$`)

// DimensionFailurePattern extracts the dimension from range/legality reasons
var DimensionFailurePattern = regexp.MustCompile(`(?:out of range|illegal value) for (\S+)$`)

// Check validates a single tag in the context of a category. It returns the
// tag's dimension when resolvable, whether the tag is acceptable, and a
// failure reason when it is not.
func (v *Validator) Check(tag, category string) (dimension string, ok bool, reason string) {
	if v.schema.IsCategory(tag) {
		if tag == category {
			return schema.CategoryDimension, true, ""
		}
		return schema.CategoryDimension, false, reasonNotApplicable(tag, category)
	}

	dim, found := v.schema.DimensionOf(tag, category)
	if !found {
		// A quantity tag may belong to a dimension that simply does not
		// cover this category; that is an applicability failure, not an
		// unknown tag.
		if _, unit, isQty := schema.ParseQuantity(tag); isQty {
			if len(v.schema.QuantityDimensions(unit)) > 0 {
				return "", false, reasonNotApplicable(tag, category)
			}
		}
		return "", false, reasonNotInVocabulary(tag)
	}

	if !v.schema.AppliesTo(dim, category) {
		return dim, false, reasonNotApplicable(tag, category)
	}

	if rule, ruled := v.schema.Rule(dim); ruled {
		if _, _, isQty := schema.ParseQuantity(tag); isQty {
			if v.schema.InRange(tag, dim) {
				return dim, true, ""
			}
			if len(rule.Legal) > 0 {
				return dim, false, reasonIllegalValue(tag, dim)
			}
			return dim, false, reasonOutOfRange(tag, dim)
		}
	}

	if v.schema.IsApproved(tag, category) {
		return dim, true, ""
	}
	return dim, false, reasonNotInVocabulary(tag)
}

// Validate checks every tag against the vocabulary, applicability, and range
// rules, then enforces compound-category completeness. Partial coverage of a
// compound category is a failure, never a partial success.
func (v *Validator) Validate(tags []string, category string) Result {
	if category == "" {
		return Result{Valid: false, FailureReasons: []string{reasonMissing(schema.CategoryDimension)}}
	}

	var reasons []string
	covered := make(map[string]bool)

	for _, tag := range tags {
		dim, ok, reason := v.Check(tag, category)
		if ok {
			covered[dim] = true
			continue
		}
		reasons = append(reasons, reason)
	}

	for _, dim := range v.schema.RequiredDimensions(category) {
		if !covered[dim] {
			reasons = append(reasons, reasonMissing(dim))
		}
	}

	return Result{Valid: len(reasons) == 0, FailureReasons: reasons}
}
