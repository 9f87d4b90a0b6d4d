package escalate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	codeFencePattern  = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	fillerPrefixes    = regexp.MustCompile(`^(the |a |answer: |result: )+`)
	trailingPunct     = regexp.MustCompile(`[.,;:!]+$`)
	confidencePattern = regexp.MustCompile(`(?i)confidence[:=]?\s*([0-9]*\.?[0-9]+)`)
	ratioPattern      = regexp.MustCompile(`(\d+)\s*[/:]\s*(\d+)`)
	numberPattern     = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// ParseResponse splits a raw model response into its answer value and a
// self-reported confidence. Absent confidence defaults to 0.5, which is low
// enough to trigger the second-opinion tier when one is configured.
func ParseResponse(raw string) (value string, confidence float64) {
	confidence = 0.5

	if m := codeFencePattern.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}
	if m := confidencePattern.FindStringSubmatch(raw); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil && f >= 0 && f <= 1 {
			confidence = f
		}
		raw = confidencePattern.ReplaceAllString(raw, "")
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			value = line
			break
		}
	}
	return value, confidence
}

// Normalize cleans a model answer into tag form: trim, lowercase, strip
// filler and punctuation, then apply dimension-specific shaping. Returns ""
// when the answer carries no usable value.
func Normalize(dimension, value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	value = strings.Trim(value, `"'`)
	value = fillerPrefixes.ReplaceAllString(value, "")
	value = trailingPunct.ReplaceAllString(value, "")
	value = strings.TrimSpace(value)

	if value == "" || value == "unknown" || value == "none" || value == "n/a" {
		return ""
	}

	switch dimension {
	case "vg_ratio":
		if m := ratioPattern.FindStringSubmatch(value); m != nil {
			return m[1] + "/" + m[2]
		}
		// One-sided answer: the two sides are complementary
		if m := numberPattern.FindString(value); m != "" {
			if vg, err := strconv.Atoi(m); err == nil && vg <= 100 {
				return fmt.Sprintf("%d/%d", vg, 100-vg)
			}
		}
		return ""

	case "nicotine_strength", "cbd_strength":
		if m := numberPattern.FindString(value); m != "" {
			return m + "mg"
		}
		return ""

	case "category":
		// Category tags are the one dimension with canonical uppercase
		if value == "cbd" {
			return "CBD"
		}
	}

	return value
}

// ClosestMatch maps a normalized answer onto the allowed values: an exact hit
// first, then a substring match in either direction ("broad spectrum cbd" ->
// "broad_spectrum" style slips). Returns "" when nothing matches: a failed
// escalation, never a guess.
func ClosestMatch(value string, allowed []string) string {
	if value == "" {
		return ""
	}
	for _, option := range allowed {
		if value == option {
			return option
		}
	}
	squashed := strings.NewReplacer(" ", "_", "-", "_").Replace(value)
	for _, option := range allowed {
		if squashed == strings.NewReplacer(" ", "_", "-", "_").Replace(option) {
			return option
		}
	}
	for _, option := range allowed {
		lower := strings.ToLower(option)
		if strings.Contains(value, lower) || strings.Contains(lower, value) {
			return option
		}
	}
	return ""
}
