// Package textparse implements vision analysis over a plain-text meal
// description. It matches a built-in food dictionary against the text,
// longest term first, and estimates portions from inline weights. It needs
// no network and is fully deterministic, which makes it the default for
// local runs and tests.
package textparse

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"nutripilot"
	"nutripilot/state"
)

const (
	// Multi-word dictionary hits are more specific, so they score higher.
	confidenceMultiWord  = 0.7
	confidenceSingleWord = 0.6
	// Hedged mentions ("maybe rice") are demoted.
	confidenceHedged = 0.4
)

// dictionary maps a food term to its default portion in grams when the text
// does not state a weight.
var dictionary = map[string]float64{
	"grilled chicken": 150,
	"fried chicken":   150,
	"chicken breast":  150,
	"chicken":         150,
	"white rice":      200,
	"brown rice":      200,
	"fried rice":      220,
	"rice":            200,
	"salmon":          140,
	"beef steak":      200,
	"steak":           200,
	"ground beef":     150,
	"pork chop":       170,
	"tofu":            120,
	"egg":             50,
	"scrambled eggs":  120,
	"oatmeal":         240,
	"pasta":           220,
	"spaghetti":       220,
	"noodles":         220,
	"pizza":           250,
	"french fries":    120,
	"fries":           120,
	"bread":           60,
	"toast":           60,
	"bagel":           100,
	"broccoli":        90,
	"spinach":         60,
	"carrots":         80,
	"salad":           150,
	"apple":           180,
	"banana":          120,
	"orange juice":    250,
	"smoothie":        300,
	"yogurt":          170,
	"cheese":          40,
	"milk":            240,
	"coffee":          240,
}

var hedgeWords = []string{"maybe", "possibly", "might be", "some kind of"}

// weightRe captures an explicit portion weight immediately preceding a food
// term, e.g. "150g chicken" or "200 grams of rice".
var weightRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:g|grams?)\s*(?:of\s+)?$`)

// Analyzer implements nutripilot.VisionAnalysis over text descriptions.
type Analyzer struct{}

func NewAnalyzer() *Analyzer { return &Analyzer{} }

// Analyze scans the input text for known food terms. Terms are matched
// longest first and each character of the text belongs to at most one match,
// so "grilled chicken" never also yields "chicken". An empty match set is
// not an error; it is reported as a zero-confidence result.
func (a *Analyzer) Analyze(ctx context.Context, in nutripilot.VisionInput) (nutripilot.VisionResult, error) {
	if err := ctx.Err(); err != nil {
		return nutripilot.VisionResult{}, err
	}

	text := strings.ToLower(in.Text)
	masked := []byte(text)

	terms := make([]string, 0, len(dictionary))
	for term := range dictionary {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if len(terms[i]) != len(terms[j]) {
			return len(terms[i]) > len(terms[j])
		}
		return terms[i] < terms[j]
	})

	type match struct {
		term string
		pos  int
	}
	var matches []match
	for _, term := range terms {
		from := 0
		for {
			idx := strings.Index(string(masked[from:]), term)
			if idx < 0 {
				break
			}
			pos := from + idx
			if isWordBounded(text, pos, len(term)) {
				matches = append(matches, match{term: term, pos: pos})
				for i := pos; i < pos+len(term); i++ {
					masked[i] = 0
				}
			}
			from = pos + len(term)
			if from >= len(text) {
				break
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].pos < matches[j].pos })

	foods := make([]state.FoodItem, 0, len(matches))
	var confidenceSum float64
	for _, m := range matches {
		confidence := confidenceSingleWord
		if strings.Contains(m.term, " ") {
			confidence = confidenceMultiWord
		}
		if hedged(text, m.pos) {
			confidence = confidenceHedged
		}

		portion := dictionary[m.term]
		description := ""
		if w := weightRe.FindStringSubmatch(text[:m.pos]); w != nil {
			portion = parseWeight(w[1], portion)
			description = w[1] + "g"
		}

		foods = append(foods, state.FoodItem{
			Name:               m.term,
			PortionGrams:       portion,
			PortionDescription: description,
			Confidence:         confidence,
		})
		confidenceSum += confidence
	}

	result := nutripilot.VisionResult{Foods: foods}
	if len(foods) > 0 {
		result.Confidence = confidenceSum / float64(len(foods))
	}
	return result, nil
}

func isWordBounded(text string, pos, length int) bool {
	if pos > 0 && isWordChar(text[pos-1]) {
		return false
	}
	end := pos + length
	// A trailing "s" still bounds the word so plurals match ("eggs").
	if end < len(text) && text[end] == 's' {
		end++
	}
	return end >= len(text) || !isWordChar(text[end])
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

// hedged reports whether a hedge word appears shortly before the match.
func hedged(text string, pos int) bool {
	start := pos - 20
	if start < 0 {
		start = 0
	}
	window := text[start:pos]
	for _, h := range hedgeWords {
		if strings.Contains(window, h) {
			return true
		}
	}
	return false
}

func parseWeight(s string, fallback float64) float64 {
	var v float64
	for _, c := range s {
		if c == '.' {
			break
		}
		v = v*10 + float64(c-'0')
	}
	if v <= 0 {
		return fallback
	}
	return v
}
