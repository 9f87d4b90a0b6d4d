// Package schema loads and queries the approved tag vocabulary. The schema is
// read once at process start and is immutable afterwards, so it is safe to
// share across workers without locking.
package schema

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Dimension is one attribute slot in the vocabulary: its allowed tags and the
// categories it applies to. An empty AppliesTo means the dimension applies to
// every category.
type Dimension struct {
	Name      string   `yaml:"-"`
	Tags      []string `yaml:"tags"`
	AppliesTo []string `yaml:"applies_to"`

	tagSet    map[string]struct{}
	appliesTo map[string]struct{}
}

// RangeRule constrains numeric-suffixed tags (e.g. "1000mg") for one
// dimension. Legal, when present, further restricts values to an enumerated
// set inside [Min, Max].
type RangeRule struct {
	Dimension string    `yaml:"dimension"`
	Unit      string    `yaml:"unit"`
	Min       float64   `yaml:"min"`
	Max       float64   `yaml:"max"`
	Legal     []float64 `yaml:"legal"`
}

// Schema is the approved tag vocabulary
type Schema struct {
	dims       map[string]*Dimension
	rules      map[string]RangeRule
	required   map[string][]string
	categories map[string]struct{}
	tagDim     map[string]string
}

type schemaFile struct {
	Dimensions map[string]*Dimension `yaml:"dimensions"`
	Rules      []RangeRule           `yaml:"rules"`
	Required   map[string][]string   `yaml:"required"`
}

// CategoryDimension is the reserved dimension name holding category tags
const CategoryDimension = "category"

// Load reads the approved tag schema from a YAML file. A load failure is the
// only fatal condition in the pipeline: every downstream component depends on
// a well-formed schema.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Parse(data)
}

// Parse builds a Schema from raw YAML
func Parse(data []byte) (*Schema, error) {
	var f schemaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	catDim, ok := f.Dimensions[CategoryDimension]
	if !ok || len(catDim.Tags) == 0 {
		return nil, fmt.Errorf("schema missing %q dimension", CategoryDimension)
	}

	s := &Schema{
		dims:       make(map[string]*Dimension, len(f.Dimensions)),
		rules:      make(map[string]RangeRule, len(f.Rules)),
		required:   f.Required,
		categories: make(map[string]struct{}, len(catDim.Tags)),
		tagDim:     make(map[string]string),
	}

	for name, d := range f.Dimensions {
		d.Name = name
		d.tagSet = make(map[string]struct{}, len(d.Tags))
		for _, t := range d.Tags {
			d.tagSet[t] = struct{}{}
			if name != CategoryDimension {
				s.tagDim[t] = name
			}
		}
		d.appliesTo = make(map[string]struct{}, len(d.AppliesTo))
		for _, c := range d.AppliesTo {
			d.appliesTo[c] = struct{}{}
		}
		s.dims[name] = d
	}

	for _, c := range catDim.Tags {
		s.categories[c] = struct{}{}
	}

	for _, r := range f.Rules {
		if _, ok := s.dims[r.Dimension]; !ok {
			return nil, fmt.Errorf("range rule references unknown dimension %q", r.Dimension)
		}
		if r.Unit == "" {
			return nil, fmt.Errorf("range rule for %q has no unit", r.Dimension)
		}
		if r.Min > r.Max {
			return nil, fmt.Errorf("range rule for %q has min %g > max %g", r.Dimension, r.Min, r.Max)
		}
		s.rules[r.Dimension] = r
	}

	for cat, dims := range f.Required {
		if _, ok := s.categories[cat]; !ok {
			return nil, fmt.Errorf("required-dimension rule references unknown category %q", cat)
		}
		for _, d := range dims {
			if _, ok := s.dims[d]; !ok {
				return nil, fmt.Errorf("required dimension %q for category %q not in schema", d, cat)
			}
		}
	}

	return s, nil
}

// IsCategory reports whether tag is an approved category name
func (s *Schema) IsCategory(tag string) bool {
	_, ok := s.categories[tag]
	return ok
}

// Categories returns all approved category names, sorted
func (s *Schema) Categories() []string {
	out := make([]string, 0, len(s.categories))
	for c := range s.categories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// DimensionOf resolves the dimension a tag belongs to. Enumerated tags map
// directly; numeric-suffixed tags resolve to the range-ruled dimension whose
// unit matches and whose applies_to covers the category.
func (s *Schema) DimensionOf(tag, category string) (string, bool) {
	if d, ok := s.tagDim[tag]; ok {
		return d, true
	}
	_, unit, ok := ParseQuantity(tag)
	if !ok {
		return "", false
	}
	// Deterministic order: sort rule dimensions so ties never depend on map
	// iteration.
	names := make([]string, 0, len(s.rules))
	for name := range s.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := s.rules[name]
		if r.Unit != unit {
			continue
		}
		if s.AppliesTo(name, category) {
			return name, true
		}
	}
	return "", false
}

// IsApproved reports whether tag is in the vocabulary and applicable to the
// given category. Numeric-suffixed tags must additionally satisfy their range
// rule.
func (s *Schema) IsApproved(tag, category string) bool {
	if s.IsCategory(tag) {
		return tag == category
	}
	dim, ok := s.DimensionOf(tag, category)
	if !ok {
		return false
	}
	if !s.AppliesTo(dim, category) {
		return false
	}
	if _, ruled := s.rules[dim]; ruled {
		if _, enumerated := s.dims[dim].tagSet[tag]; enumerated {
			return true
		}
		return s.InRange(tag, dim)
	}
	_, ok = s.dims[dim].tagSet[tag]
	return ok
}

// InRange parses the numeric prefix of a quantity tag and checks it against
// the dimension's configured range rule (and legal set, if any)
func (s *Schema) InRange(tag, dimension string) bool {
	r, ok := s.rules[dimension]
	if !ok {
		return false
	}
	value, unit, ok := ParseQuantity(tag)
	if !ok || unit != r.Unit {
		return false
	}
	if value < r.Min || value > r.Max {
		return false
	}
	if len(r.Legal) > 0 {
		for _, l := range r.Legal {
			if value == l {
				return true
			}
		}
		return false
	}
	return true
}

// AppliesTo reports whether a dimension applies to a category. Dimensions
// with no applies_to restriction apply everywhere.
func (s *Schema) AppliesTo(dimension, category string) bool {
	d, ok := s.dims[dimension]
	if !ok {
		return false
	}
	if len(d.appliesTo) == 0 {
		return true
	}
	_, ok = d.appliesTo[category]
	return ok
}

// RequiredDimensions returns the dimensions a category must carry together
// for validation to pass (nil for non-compound categories)
func (s *Schema) RequiredDimensions(category string) []string {
	return s.required[category]
}

// AllowedValues returns the enumerated tags of a dimension, or nil for purely
// range-ruled dimensions
func (s *Schema) AllowedValues(dimension string) []string {
	d, ok := s.dims[dimension]
	if !ok {
		return nil
	}
	return d.Tags
}

// Rule returns the range rule for a dimension, if one exists
func (s *Schema) Rule(dimension string) (RangeRule, bool) {
	r, ok := s.rules[dimension]
	return r, ok
}

// QuantityDimensions returns, sorted, every range-ruled dimension whose unit
// matches, regardless of category. Used to tell "wrong category" apart from
// "not in vocabulary" for quantity tags.
func (s *Schema) QuantityDimensions(unit string) []string {
	var out []string
	for name, r := range s.rules {
		if r.Unit == unit {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// HasDimension reports whether the schema defines the named dimension
func (s *Schema) HasDimension(name string) bool {
	_, ok := s.dims[name]
	return ok
}

// ParseQuantity splits a quantity tag like "1000mg" or "2ml" into its numeric
// value and unit suffix. The numeric part must be the entire prefix: "70/30"
// or "x10mg" are not quantities.
func ParseQuantity(tag string) (float64, string, bool) {
	i := 0
	for i < len(tag) && (tag[i] >= '0' && tag[i] <= '9' || tag[i] == '.') {
		i++
	}
	if i == 0 || i == len(tag) {
		return 0, "", false
	}
	unit := strings.ToLower(tag[i:])
	for _, r := range unit {
		if r < 'a' || r > 'z' {
			return 0, "", false
		}
	}
	value, err := strconv.ParseFloat(tag[:i], 64)
	if err != nil {
		return 0, "", false
	}
	return value, unit, true
}
