// Package intent extracts price, comparison and feature signals from query
// text with pattern matching.
package intent

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spherical-ai/commerce-rag/internal/domain"
)

const amount = `\$?\s*(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d+))?\s*(k)?\b(?:\s*(?:dollars?|usd|bucks))?`

// pricePatterns are tried in order; spans claimed by an earlier pattern are
// not re-read by later ones.
var pricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:under|below|less\s+than|cheaper\s+than|no\s+more\s+than|at\s+most|up\s+to|within|max(?:imum)?(?:\s+of)?)\s+` + amount),
	regexp.MustCompile(`\bbudget\s+(?:of|is|around|about|at|:)?\s*` + amount),
	regexp.MustCompile(`\b` + strings.TrimPrefix(amount, `\$?\s*`) + `\s+(?:or\s+less|or\s+under|max|tops)\b`),
	regexp.MustCompile(`(?:^|\s)(?:<|<=)\s*` + amount),
}

var comparisonPattern = regexp.MustCompile(`\b(?:compare|compared|comparing|comparison|vs|versus|difference|differences|better\s+than)\b`)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+(?:[-'][a-z0-9]+)*`)

var budgetKeywords = map[string]bool{
	"budget": true, "cheap": true, "cheaper": true, "cheapest": true, "affordable": true,
	"inexpensive": true, "bargain": true, "economical": true, "low-cost": true, "deal": true,
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "for": true, "to": true, "of": true,
	"in": true, "on": true, "with": true, "is": true, "are": true, "be": true, "it": true, "its": true,
	"i": true, "me": true, "my": true, "we": true, "you": true, "your": true, "need": true, "want": true,
	"looking": true, "look": true, "find": true, "show": true, "get": true, "give": true, "some": true,
	"any": true, "that": true, "this": true, "which": true, "what": true, "whats": true, "good": true,
	"best": true, "recommend": true, "recommendation": true, "recommendations": true, "please": true,
	"can": true, "could": true, "should": true, "would": true, "do": true, "does": true, "has": true,
	"have": true, "at": true, "by": true, "from": true, "about": true, "between": true, "like": true,
	"something": true, "one": true, "ones": true, "around": true, "under": true, "below": true,
	"less": true, "up": true, "max": true, "maximum": true, "within": true, "most": true, "dollars": true,
	"dollar": true, "usd": true, "bucks": true, "price": true, "priced": true, "than": true,
}

// Detector classifies queries. It holds only immutable tables and is safe
// for concurrent use.
type Detector struct{}

// NewDetector creates an intent detector.
func NewDetector() *Detector {
	return &Detector{}
}

type span struct{ start, end int }

// Detect derives a QueryIntent from query text. It makes no external calls.
// When several price ceilings are stated the smallest wins.
func (d *Detector) Detect(query string) domain.QueryIntent {
	q := strings.ToLower(query)

	ceiling, priceSpans := extractCeiling(q)
	comparisonSpans := matchSpans(comparisonPattern, q)

	intent := domain.QueryIntent{
		PriceCeiling: ceiling,
		IsComparison: len(comparisonSpans) > 0,
	}

	keywords := map[string]bool{}
	for _, loc := range tokenPattern.FindAllStringIndex(q, -1) {
		tok := q[loc[0]:loc[1]]
		if budgetKeywords[tok] {
			intent.IsBudgetQuery = true
			continue
		}
		if inSpans(loc[0], priceSpans) || inSpans(loc[0], comparisonSpans) || stopwords[tok] || len(tok) < 2 {
			continue
		}
		keywords[tok] = true
	}
	if ceiling != nil {
		intent.IsBudgetQuery = true
	}

	intent.FeatureKeywords = make([]string, 0, len(keywords))
	for k := range keywords {
		intent.FeatureKeywords = append(intent.FeatureKeywords, k)
	}
	sort.Strings(intent.FeatureKeywords)
	return intent
}

func extractCeiling(q string) (*float64, []span) {
	var claimed []span
	var best *float64

	for _, re := range pricePatterns {
		for _, m := range re.FindAllStringSubmatchIndex(q, -1) {
			s := span{m[0], m[1]}
			if overlaps(s, claimed) {
				continue
			}
			v, ok := parseAmount(q, m)
			if !ok {
				continue
			}
			claimed = append(claimed, s)
			if best == nil || v < *best {
				val := v
				best = &val
			}
		}
	}
	return best, claimed
}

// parseAmount reads submatches 1 (integer part), 2 (fraction) and 3 (k suffix).
func parseAmount(q string, m []int) (float64, bool) {
	if m[2] < 0 {
		return 0, false
	}
	num := strings.ReplaceAll(q[m[2]:m[3]], ",", "")
	if m[4] >= 0 {
		num += "." + q[m[4]:m[5]]
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	if m[6] >= 0 {
		v *= 1000
	}
	return v, true
}

func overlaps(s span, claimed []span) bool {
	for _, c := range claimed {
		if s.start < c.end && c.start < s.end {
			return true
		}
	}
	return false
}

func matchSpans(re *regexp.Regexp, q string) []span {
	var spans []span
	for _, loc := range re.FindAllStringIndex(q, -1) {
		spans = append(spans, span{loc[0], loc[1]})
	}
	return spans
}

func inSpans(pos int, spans []span) bool {
	for _, s := range spans {
		if pos >= s.start && pos < s.end {
			return true
		}
	}
	return false
}
