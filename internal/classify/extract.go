package classify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shand-j/tagforge/internal/match"
)

// Quantity tokens are anchored on both sides so "12ml" can never satisfy a
// "2ml" lookup and "20mg" never reads as "0mg".
var (
	mgPattern = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\s*mg\b`)
	mlPattern = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\s*ml\b`)

	ratioPairPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(\d+)\s*%?\s*vg\s*[/\-:]\s*(\d+)\s*%?\s*pg\b`),
		regexp.MustCompile(`\b(\d+)vg(\d+)pg\b`),
		regexp.MustCompile(`\bvg\s*[/\-:]\s*pg\s*(\d+)\s*[/\-:]\s*(\d+)\b`),
		regexp.MustCompile(`\b(\d+)\s*%?\s*vg\s+(\d+)\s*%?\s*pg\b`),
	}
	ratioBarePattern   = regexp.MustCompile(`\b(\d+)\s*[/\-]\s*(\d+)\b`)
	ratioSinglePattern = regexp.MustCompile(`\b(\d+)\s*%?\s*vg\b`)
)

func quantityTags(re *regexp.Regexp, text, unit string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1]+unit)
	}
	return out
}

func (c *Classifier) extractNicotine(res *Result, text string) {
	// mg on a CBD-adjacent product means CBD strength, not nicotine, even
	// when the detected category is a vaping one
	if match.Contains(text, "cbd") || match.Contains(text, "cbg") {
		return
	}
	if match.ContainsAny(text, zeroNicotinePhrases) {
		res.addRule("nicotine_strength", "0mg")
		return
	}
	tags := quantityTags(mgPattern, text, "mg")
	if len(tags) == 0 {
		return
	}
	for _, tag := range tags {
		if c.schema.InRange(tag, "nicotine_strength") {
			res.addRule("nicotine_strength", tag)
			return
		}
	}
	// No legal value found: keep the first illegal one so validation flags
	// it instead of the product being silently under-tagged
	res.addRule("nicotine_strength", tags[0])
}

func (c *Classifier) extractNicotineType(res *Result, category, text string) {
	if !c.schema.AppliesTo("nicotine_type", category) {
		return
	}
	switch {
	case match.Contains(text, "nic salt") || match.Contains(text, "nicotine salt") ||
		(match.Contains(text, "nic") && match.Contains(text, "salt")):
		res.addRule("nicotine_type", "nic_salt")
	case match.Contains(text, "freebase"):
		res.addRule("nicotine_type", "freebase")
	case match.ContainsAny(text, zeroNicotinePhrases):
		res.addRule("nicotine_type", "nicotine_free")
	}
}

func (c *Classifier) extractCBD(res *Result, handleTitle, text string) {
	// Strength: first in-range mg token wins. Out-of-range values are
	// dropped, never recorded, so a mislabeled 60000mg product surfaces as
	// missing-strength rather than as a fabricated tag.
	for _, tag := range quantityTags(mgPattern, text, "mg") {
		if c.schema.InRange(tag, "cbd_strength") {
			res.addRule("cbd_strength", tag)
			break
		}
	}

	// Form: handle+title evidence first, full text second. Titles are
	// curated; descriptions routinely mention other forms in passing.
	form, found := "", false
	for _, r := range cbdFormRules {
		if match.ContainsAny(handleTitle, r.keywords) {
			form, found = r.form, true
			break
		}
	}
	if !found {
		for _, r := range cbdFormRules {
			if match.ContainsAny(text, r.keywords) {
				form, found = r.form, true
				break
			}
		}
	}
	if found {
		res.addRule("cbd_form", form)
	}

	for _, r := range cbdTypeRules {
		if !match.ContainsAny(text, r.keywords) {
			continue
		}
		// cbg/cbda are only standalone types when the product is not also a
		// CBD blend
		if (r.cbdType == "cbg" || r.cbdType == "cbda") && match.Contains(text, "cbd") {
			continue
		}
		res.addRule("cbd_type", r.cbdType)
		break
	}
}

func (c *Classifier) extractRatio(res *Result, text string) {
	vg, pg, found := 0, 0, false

	for _, re := range ratioPairPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			vg, _ = strconv.Atoi(m[1])
			pg, _ = strconv.Atoi(m[2])
			found = true
			break
		}
	}
	if !found && match.Contains(text, "vg") && match.Contains(text, "pg") {
		if m := ratioBarePattern.FindStringSubmatch(text); m != nil {
			vg, _ = strconv.Atoi(m[1])
			pg, _ = strconv.Atoi(m[2])
			found = true
		}
	}
	if !found {
		if match.ContainsAny(text, []string{"pure vg", "max vg", "100% vg"}) {
			vg, pg, found = 100, 0, true
		} else if m := ratioSinglePattern.FindStringSubmatch(text); m != nil && !match.Contains(text, "pg") {
			// One-sided ratio: the two sides are complementary
			vg, _ = strconv.Atoi(m[1])
			pg, found = 100-vg, true
		}
	}
	if !found {
		return
	}
	if pg > vg {
		vg, pg = pg, vg
	}

	ratio := fmt.Sprintf("%d/%d", vg, pg)
	if c.schema.IsApproved(ratio, "e-liquid") {
		res.addRule("vg_ratio", ratio)
	}

	switch {
	case pg >= 50:
		res.addRule("vaping_style", "mouth-to-lung")
	case vg >= 60 && vg <= 70:
		res.addRule("vaping_style", "restricted-direct-to-lung")
	case vg > 70:
		res.addRule("vaping_style", "direct-to-lung")
	}
}

func (c *Classifier) extractShortfill(res *Result, handleTitle, text string) {
	// Nic shots are added TO shortfills; they are never shortfills
	// themselves, even when their copy says so
	isNicShot := (match.Contains(handleTitle, "nic") && match.Contains(handleTitle, "shot")) ||
		match.Contains(handleTitle, "nicshot") || match.Contains(handleTitle, "nic-shot")
	if isNicShot {
		res.addRule("liquid_features", "nic_shot")
		return
	}

	shortfillSize := false
	sawSize := false
	for _, m := range mlPattern.FindAllStringSubmatch(text, -1) {
		sawSize = true
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 50 {
			shortfillSize = true
		}
	}

	zeroNic := match.ContainsAny(text, zeroNicotinePhrases)
	if match.Contains(text, "shortfill") && (shortfillSize || !sawSize) {
		res.addRule("liquid_features", "shortfill")
	} else if shortfillSize && zeroNic {
		res.addRule("liquid_features", "shortfill")
	}
}

func (c *Classifier) extractSize(res *Result, category, text string) {
	var dim string
	switch {
	case category == "e-liquid":
		dim = "bottle_size"
	default:
		if _, ok := capacityCategories[category]; !ok {
			return
		}
		dim = "capacity"
	}
	for _, tag := range quantityTags(mlPattern, text, "ml") {
		if c.schema.InRange(tag, dim) {
			res.addRule(dim, tag)
			return
		}
	}
}

func (c *Classifier) extractFlavors(res *Result, text string) {
	seen := make(map[string]struct{})
	for _, f := range flavorFamilies {
		evidence := match.All(text, f.keywords)
		if f.family == "ice" && strings.Contains(text, "ice cream") {
			// "ice cream" is a dessert; bare "ice" inside it is not cooling
			// evidence
			filtered := evidence[:0]
			for _, w := range evidence {
				if w != "ice" {
					filtered = append(filtered, w)
				}
			}
			evidence = filtered
		}
		if len(evidence) == 0 {
			continue
		}
		res.addRule("flavor_profile", f.family)
		for _, w := range evidence {
			if _, isLabel := familyLabels[w]; isLabel {
				continue
			}
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			res.SecondaryFlavors = append(res.SecondaryFlavors, w)
		}
	}
}

func (c *Classifier) extractDeviceStyle(res *Result, category, text string) {
	if c.schema.AppliesTo("device_type", category) {
		switch {
		case match.Contains(text, "starter kit"):
			res.addRule("device_type", "starter_kit")
		case match.Contains(text, "pod kit"):
			res.addRule("device_type", "pod_kit")
		case match.Contains(text, "mod kit"):
			res.addRule("device_type", "mod_kit")
		case match.Contains(text, "rechargeable"):
			res.addRule("device_type", "rechargeable")
		}
	}
	if !c.schema.AppliesTo("device_style", category) {
		return
	}
	for _, r := range deviceStyleRules {
		if match.ContainsAny(text, r.keywords) {
			res.addRule("device_style", r.style)
			return
		}
	}
}
