package resolver

import (
	"strings"
	"unicode"
)

// ProjectCandidate is a resolvable project.
type ProjectCandidate struct {
	Tag  string
	Name string
}

// MatchProject resolves free text to a project tag: exact name, substring either
// way, exact tag, then any query word of three or more letters inside the name.
func MatchProject(text string, cands []ProjectCandidate) (Match, bool) {
	q := normalizeName(text)
	if q == "" || len(cands) == 0 {
		return Match{}, false
	}
	hit := func(c ProjectCandidate, s Strategy) (Match, bool) {
		return Match{ID: c.Tag, Name: c.Name, Strategy: s, Score: 1}, true
	}
	for _, c := range cands {
		if normalizeName(c.Name) == q {
			return hit(c, StrategyExact)
		}
	}
	for _, c := range cands {
		name := normalizeName(c.Name)
		if name != "" && (strings.Contains(name, q) || strings.Contains(q, name)) {
			return hit(c, StrategySubstring)
		}
	}
	for _, c := range cands {
		if strings.EqualFold(strings.TrimSpace(c.Tag), q) {
			return hit(c, StrategyTag)
		}
	}
	words := strings.FieldsFunc(q, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
	for _, c := range cands {
		name := normalizeName(c.Name)
		for _, w := range words {
			if len([]rune(w)) >= 3 && strings.Contains(name, w) {
				return hit(c, StrategyWord)
			}
		}
	}
	return Match{}, false
}
