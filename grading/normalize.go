// Package grading holds the pure computation core: free-text numeric input
// normalization and score-to-grade mapping against the configurable scale.
package grading

import "strings"

// NormalizeNumber validates and normalizes free-text numeric input as typed by
// a user. A comma is rewritten to a dot before validation. Partial states such
// as "3." or the empty string are accepted so that live typing round-trips
// through the store unchanged. The second return is false for anything that is
// not "digits, at most one dot, digits" (second dot, letters, signs); callers
// must then drop the keystroke without mutating state.
//
// The result is never parsed to a number here. Parsing happens only at commit
// or computation time, keeping intermediate typing states intact.
func NormalizeNumber(raw string) (string, bool) {
	s := strings.Replace(raw, ",", ".", 1)
	if s == "" {
		return "", true
	}
	dots := 0
	for _, r := range s {
		switch {
		case r == '.':
			dots++
			if dots > 1 {
				return "", false
			}
		case r < '0' || r > '9':
			return "", false
		}
	}
	return s, true
}
