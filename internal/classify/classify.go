// Package classify implements the rule-based first pass: priority-ordered
// category detection over product text, then category-gated attribute
// extraction. Everything it emits is a candidate; the validator decides what
// survives into final tags.
package classify

import (
	"strings"

	"github.com/shand-j/tagforge/internal/match"
	"github.com/shand-j/tagforge/internal/model"
	"github.com/shand-j/tagforge/internal/schema"
)

// ruleConfidence is attached to every rule-derived candidate. Rule hits are
// deterministic keyword evidence, so they rank above model suggestions but
// below human corrections.
const ruleConfidence = 0.95

// Classifier runs category detection and attribute extraction against the
// approved schema
type Classifier struct {
	schema *schema.Schema
}

func New(s *schema.Schema) *Classifier {
	return &Classifier{schema: s}
}

// Result is the rule pass output for one product
type Result struct {
	Category         model.CategoryDecision
	Tags             []model.TagCandidate
	SecondaryFlavors []string
}

// DetectCategory resolves the product's category from its declared type,
// handle+title, then description, in that order. The first rule whose
// keywords match wins and is marked forced; later, weaker signals never
// override it.
func (c *Classifier) DetectCategory(p *model.Product) model.CategoryDecision {
	if strings.Contains(strings.ToLower(p.DeclaredType), "cbd") {
		return model.CategoryDecision{Category: "CBD", Forced: true, PriorityRank: categoryPriority["CBD"]}
	}

	handleTitle := lowerJoin(p.Handle, p.Title)
	for _, r := range categoryRules {
		if match.ContainsAny(handleTitle, r.keywords) {
			return model.CategoryDecision{Category: r.category, Forced: true, PriorityRank: categoryPriority[r.category]}
		}
	}

	desc := strings.ToLower(p.Description)
	for _, r := range categoryRules {
		if match.ContainsAny(desc, r.keywords) {
			return model.CategoryDecision{Category: r.category, PriorityRank: categoryPriority[r.category]}
		}
	}

	return model.CategoryDecision{}
}

// Classify runs the full rule pass. With no detected category, no extractors
// run: attribute rules are category-gated and a category-less product goes to
// escalation or the untagged tier instead.
func (c *Classifier) Classify(p *model.Product) Result {
	decision := c.DetectCategory(p)
	res := Result{Category: decision}
	if decision.Category == "" {
		return res
	}
	c.extract(&res, p, decision.Category)
	return res
}

// ClassifyAs runs the extractors under an externally resolved category.
// Used after escalation assigns a category the rules could not detect, so
// the deterministic extractors still get a pass over the text.
func (c *Classifier) ClassifyAs(p *model.Product, category string) Result {
	res := Result{Category: model.CategoryDecision{Category: category, PriorityRank: categoryPriority[category]}}
	if category == "" {
		return res
	}
	c.extract(&res, p, category)
	return res
}

func (c *Classifier) extract(res *Result, p *model.Product, cat string) {
	handleTitle := lowerJoin(p.Handle, p.Title)
	text := lowerJoin(p.Handle, p.Title, p.Description)

	res.add(model.TagCandidate{Value: cat, Dimension: schema.CategoryDimension, Source: model.SourceRule, Confidence: ruleConfidence})

	if _, ok := nicotineCategories[cat]; ok {
		c.extractNicotine(res, text)
		c.extractNicotineType(res, cat, text)
	}
	if cat == "CBD" {
		c.extractCBD(res, handleTitle, text)
	}
	if cat == "e-liquid" {
		c.extractRatio(res, text)
		c.extractShortfill(res, handleTitle, text)
	}
	c.extractSize(res, cat, text)
	if _, ok := flavorCategories[cat]; ok {
		c.extractFlavors(res, text)
	}
	if _, ok := deviceStyleCategories[cat]; ok {
		c.extractDeviceStyle(res, cat, text)
	} else if match.ContainsAny(text, deviceEvidence) {
		// Outside device categories, style keywords alone are not trusted:
		// a CBD "Pen Applicator" is not a vape pen. Independent device
		// evidence (kit, battery, coil) unlocks the extractor.
		c.extractDeviceStyle(res, cat, text)
	}
}

// PriorityOf returns the rank of a category for conflict resolution (0 for
// unknown categories)
func PriorityOf(category string) int {
	return categoryPriority[category]
}

func (r *Result) add(c model.TagCandidate) {
	for _, existing := range r.Tags {
		if existing.Value == c.Value {
			return
		}
	}
	r.Tags = append(r.Tags, c)
}

func (r *Result) addRule(dimension, value string) {
	r.add(model.TagCandidate{Value: value, Dimension: dimension, Source: model.SourceRule, Confidence: ruleConfidence})
}

func lowerJoin(parts ...string) string {
	return strings.ToLower(strings.Join(parts, " "))
}
