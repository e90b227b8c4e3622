package workflow

import (
	"strings"
	"time"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// NormalizeReference upper-cases and strips everything but letters and digits, so
// "rk 12-ab/9" and "RK12AB9" compare equal.
func NormalizeReference(ref string) string {
	var b strings.Builder
	b.Grow(len(ref))
	for _, r := range strings.ToUpper(ref) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ReferenceSimilarity is 1 - distance/maxLen over normalized references, in [0, 1].
// Two empty references have no similarity.
func ReferenceSimilarity(a, b string) float64 {
	a, b = NormalizeReference(a), NormalizeReference(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	maxLen := len([]rune(a))
	if n := len([]rune(b)); n > maxLen {
		maxLen = n
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

// withinDays compares calendar days in UTC.
func withinDays(a, b time.Time, tolerance int) bool {
	diff := startOfDay(a).Sub(startOfDay(b))
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(tolerance)*24*time.Hour
}
