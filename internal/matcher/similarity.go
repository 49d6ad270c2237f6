package matcher

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Similarity computes a normalized edit-distance similarity between two
// strings, in [0, 1]. Both strings are lowercased, runs of whitespace
// are collapsed to single spaces, and the result is trimmed before
// comparison. Two empty strings are identical (1.0); exactly one empty
// string shares nothing with the other (0.0).
func Similarity(a, b string) float64 {
	na := normalizeDescription(a)
	nb := normalizeDescription(b)

	if na == "" && nb == "" {
		return 1.0
	}
	if na == "" || nb == "" {
		return 0.0
	}

	distance := levenshtein.ComputeDistance(na, nb)

	maxLen := utf8.RuneCountInString(na)
	if l := utf8.RuneCountInString(nb); l > maxLen {
		maxLen = l
	}

	return 1.0 - float64(distance)/float64(maxLen)
}

// normalizeDescription lowercases, collapses whitespace runs to a
// single space, and trims the input.
func normalizeDescription(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
