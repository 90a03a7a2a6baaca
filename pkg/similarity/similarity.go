// Package similarity scores how far a translated title drifted from the canonical one.
package similarity

import (
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Quiz-fairness band [FairMin, FairMax): titles scoring inside it are neither
// trivially identical to the canonical title nor unrecognizable.
const (
	FairMin = 0.25
	FairMax = 0.75
)

// Score returns the difference ratio between a canonical title and its translation,
// rounded to three decimals. 1.0 means identical after normalization.
//
// Both titles are lower-cased without locale rules. When the canonical title does not
// end with a period, trailing periods are trimmed from the translation.
func Score(canonical, translated string) float64 {
	lower := cases.Lower(language.Und)
	a := lower.String(canonical)
	b := lower.String(translated)
	if !strings.HasSuffix(a, ".") {
		b = strings.TrimRight(b, ".")
	}
	return round3(quickRatio(a, b))
}

// IsFair reports whether ratio falls inside [FairMin, FairMax).
func IsFair(ratio float64) bool {
	return ratio >= FairMin && ratio < FairMax
}

// quickRatio compares the two strings as character multisets. Two empty strings
// score 1.0.
func quickRatio(a, b string) float64 {
	return difflib.NewMatcher(runes(a), runes(b)).QuickRatio()
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func round3(f float64) float64 {
	r, _ := strconv.ParseFloat(strconv.FormatFloat(f, 'f', 3, 64), 64)
	return r
}
