package grading

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// normalize trims, collapses inner whitespace, applies NFC and case folding.
func normalize(s string) string {
	s = norm.NFC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	return folder.String(s)
}

// MatchText is the short-answer comparison: case-insensitive and whitespace-trimmed.
func MatchText(answer, reference string) bool {
	return normalize(answer) == normalize(reference)
}
