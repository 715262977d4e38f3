// Package match associates free-text recommendations with canonical
// fraud-pattern labels using a tiered fuzzy-matching heuristic.
package match

import (
	"regexp"
	"strings"
)

var (
	nonAlnum   = regexp.MustCompile(`[^a-z0-9\s]`)
	whitespace = regexp.MustCompile(`\s+`)
)

// Normalize canonicalizes text for comparison: lower-case, every character
// outside [a-z0-9\s] replaced with a single space, whitespace runs
// collapsed, then trimmed. Total and idempotent; Normalize("") is "".
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = nonAlnum.ReplaceAllString(s, " ")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
