// Package match provides boundary-safe keyword matching over product text.
// A raw substring test is never good enough here: "pod" lives inside
// "airpod", "ice" inside "device", and "2ml" inside "12ml". Every lookup in
// the classifier goes through this package so the boundary rules live in one
// place.
package match

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// isWordRune reports whether r continues a token. Digits count, so "2ml"
// inside "12ml" is not at a token start.
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// Contains reports whether keyword appears in text at token boundaries,
// case-insensitively. A trailing plural "s" on the text side is tolerated:
// "pods" matches keyword "pod". Multi-word keywords match across whatever
// separators the text uses, as long as both ends sit on boundaries.
func Contains(text, keyword string) bool {
	if keyword == "" {
		return false
	}
	text = strings.ToLower(text)
	keyword = strings.ToLower(keyword)

	for start := 0; ; {
		i := strings.Index(text[start:], keyword)
		if i < 0 {
			return false
		}
		i += start
		if boundedAt(text, i, len(keyword)) {
			return true
		}
		start = i + 1
	}
}

// ContainsAny reports whether any of keywords matches text
func ContainsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if Contains(text, k) {
			return true
		}
	}
	return false
}

// First returns the first keyword (in slice order) that matches text
func First(text string, keywords []string) (string, bool) {
	for _, k := range keywords {
		if Contains(text, k) {
			return k, true
		}
	}
	return "", false
}

// All returns every keyword that matches text, preserving slice order
func All(text string, keywords []string) []string {
	var out []string
	for _, k := range keywords {
		if Contains(text, k) {
			out = append(out, k)
		}
	}
	return out
}

// boundedAt checks that the occurrence of a keyword at text[i:i+n] starts and
// ends on token boundaries. The rune before must not be a word rune, and the
// rune after must not be either, except for a single plural "s" that is
// itself followed by a boundary.
func boundedAt(text string, i, n int) bool {
	if i > 0 {
		prev, _ := utf8.DecodeLastRuneInString(text[:i])
		if isWordRune(prev) {
			return false
		}
	}
	rest := text[i+n:]
	if rest == "" {
		return true
	}
	next, size := utf8.DecodeRuneInString(rest)
	if !isWordRune(next) {
		return true
	}
	if next != 's' {
		return false
	}
	after := rest[size:]
	if after == "" {
		return true
	}
	r, _ := utf8.DecodeRuneInString(after)
	return !isWordRune(r)
}
