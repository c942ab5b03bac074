// Package category expands a primary product category to related categories
// from a static relation map.
package category

import (
	"regexp"
	"sort"
	"strings"
)

// Config is the static relation map. It is copied on construction; the
// Expander never mutates it.
type Config struct {
	Related      map[string][]string
	Aliases      map[string][]string
	MaxExpansion int // 0 means unbounded
}

type alias struct {
	category string
	length   int
	pattern  *regexp.Regexp
}

// Expander is immutable after construction and safe for concurrent reads.
type Expander struct {
	related      map[string][]string
	canonical    map[string]string
	aliases      []alias
	maxExpansion int
}

// NewExpander builds an expander from cfg.
func NewExpander(cfg Config) *Expander {
	e := &Expander{
		related:      make(map[string][]string, len(cfg.Related)),
		canonical:    make(map[string]string),
		maxExpansion: cfg.MaxExpansion,
	}

	register := func(name string) string {
		key := strings.ToLower(strings.TrimSpace(name))
		if c, ok := e.canonical[key]; ok {
			return c
		}
		e.canonical[key] = name
		return name
	}

	for cat, rel := range cfg.Related {
		register(cat)
		for _, r := range rel {
			register(r)
		}
	}
	for cat := range cfg.Aliases {
		register(cat)
	}

	for cat, rel := range cfg.Related {
		c := register(cat)
		e.related[c] = append([]string(nil), rel...)
	}

	for key, name := range e.canonical {
		e.aliases = append(e.aliases, newAlias(name, key))
	}
	for cat, words := range cfg.Aliases {
		c := register(cat)
		for _, w := range words {
			e.aliases = append(e.aliases, newAlias(c, strings.ToLower(w)))
		}
	}
	sort.Slice(e.aliases, func(i, j int) bool {
		if e.aliases[i].length != e.aliases[j].length {
			return e.aliases[i].length > e.aliases[j].length
		}
		return e.aliases[i].category < e.aliases[j].category
	})

	return e
}

func newAlias(category, word string) alias {
	return alias{
		category: category,
		length:   len(word),
		pattern:  regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`),
	}
}

// Canonical returns the configured spelling of category, or category
// unchanged when it is unknown.
func (e *Expander) Canonical(category string) string {
	if c, ok := e.canonical[strings.ToLower(strings.TrimSpace(category))]; ok {
		return c
	}
	return category
}

// Related returns the ordered related categories of primary, or nil.
func (e *Expander) Related(primary string) []string {
	return append([]string(nil), e.related[e.Canonical(primary)]...)
}

// Expand returns primary first. Related categories are appended in mapping
// order, deduplicated and bounded, only when resultCount < minDesired.
// Unmapped categories expand to nothing.
func (e *Expander) Expand(primary string, resultCount, minDesired int) []string {
	if strings.TrimSpace(primary) == "" {
		return nil
	}
	primary = e.Canonical(primary)
	out := []string{primary}
	if resultCount >= minDesired {
		return out
	}

	seen := map[string]bool{strings.ToLower(primary): true}
	added := 0
	for _, rel := range e.related[primary] {
		if e.maxExpansion > 0 && added >= e.maxExpansion {
			break
		}
		key := strings.ToLower(rel)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e.Canonical(rel))
		added++
	}
	return out
}

// Infer picks the category named earliest in query, by category name or
// alias. Longer aliases win at the same position.
func (e *Expander) Infer(query string) (string, bool) {
	q := strings.ToLower(query)
	best, bestPos := "", -1
	for _, a := range e.aliases {
		loc := a.pattern.FindStringIndex(q)
		if loc == nil {
			continue
		}
		if bestPos == -1 || loc[0] < bestPos {
			best, bestPos = a.category, loc[0]
		}
	}
	return best, bestPos >= 0
}
