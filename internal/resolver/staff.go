package resolver

import (
	"sort"
	"strings"
)

// Candidate is a resolvable staff member.
type Candidate struct {
	ID   string
	Name string
}

type staffStage func(q string, cands []Candidate, opts Options) (Match, bool)

// MatchStaff runs the name cascade over cands. Each stage only runs when every
// earlier stage found nothing; within a stage the first candidate wins.
func MatchStaff(query string, cands []Candidate, opts Options) (Match, bool) {
	q := normalizeName(query)
	if q == "" || len(cands) == 0 {
		return Match{}, false
	}
	stages := []staffStage{exactName, substringName, firstToken, lastToken, similarity}
	if opts.DeletionVariants {
		stages = append(stages, deletionVariants)
	}
	for _, stage := range stages {
		if m, ok := stage(q, cands, opts); ok {
			return m, true
		}
	}
	return Match{}, false
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func exactName(q string, cands []Candidate, _ Options) (Match, bool) {
	for _, c := range cands {
		if normalizeName(c.Name) == q {
			return Match{ID: c.ID, Name: c.Name, Strategy: StrategyExact, Score: 1}, true
		}
	}
	return Match{}, false
}

func substringName(q string, cands []Candidate, _ Options) (Match, bool) {
	for _, c := range cands {
		name := normalizeName(c.Name)
		if name == "" {
			continue
		}
		if strings.Contains(name, q) || strings.Contains(q, name) {
			return Match{ID: c.ID, Name: c.Name, Strategy: StrategySubstring, Score: 1}, true
		}
	}
	return Match{}, false
}

func firstToken(q string, cands []Candidate, _ Options) (Match, bool) {
	qt := strings.Fields(q)
	if len(qt) == 0 || len([]rune(qt[0])) < 3 {
		return Match{}, false
	}
	for _, c := range cands {
		ct := strings.Fields(normalizeName(c.Name))
		if len(ct) > 0 && ct[0] == qt[0] {
			return Match{ID: c.ID, Name: c.Name, Strategy: StrategyFirstToken, Score: 1}, true
		}
	}
	return Match{}, false
}

func lastToken(q string, cands []Candidate, _ Options) (Match, bool) {
	qt := strings.Fields(q)
	if len(qt) < 2 {
		return Match{}, false
	}
	for _, c := range cands {
		ct := strings.Fields(normalizeName(c.Name))
		if len(ct) >= 2 && ct[len(ct)-1] == qt[len(qt)-1] {
			return Match{ID: c.ID, Name: c.Name, Strategy: StrategyLastToken, Score: 1}, true
		}
	}
	return Match{}, false
}

// SimilarityScore is the best of full-name phonetic, first-token phonetic and raw
// edit similarity.
func SimilarityScore(query, name string) float64 {
	q, n := normalizeName(query), normalizeName(name)
	score := PhoneticSimilarity(q, n)
	qt, nt := strings.Fields(q), strings.Fields(n)
	if len(qt) > 0 && len(nt) > 0 {
		score = max(score, PhoneticSimilarity(qt[0], nt[0]))
	}
	return max(score, EditSimilarity(q, n))
}

func similarity(q string, cands []Candidate, opts Options) (Match, bool) {
	type scored struct {
		c     Candidate
		score float64
	}
	ranked := make([]scored, 0, len(cands))
	for _, c := range cands {
		if normalizeName(c.Name) == "" {
			continue
		}
		ranked = append(ranked, scored{c: c, score: SimilarityScore(q, c.Name)})
	}
	if len(ranked) == 0 {
		return Match{}, false
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	top := ranked[0]
	if top.score <= opts.threshold() {
		return Match{}, false
	}
	return Match{ID: top.c.ID, Name: top.c.Name, Strategy: StrategySimilarity, Score: top.score}, true
}

func deletionVariants(q string, cands []Candidate, _ Options) (Match, bool) {
	for _, c := range cands {
		name := normalizeName(c.Name)
		if name == "" {
			continue
		}
		forms := []string{name}
		if first := strings.Fields(name)[0]; first != name {
			forms = append(forms, first)
		}
		for _, form := range forms {
			if deletionVariant(q, form) || deletionVariant(form, q) {
				return Match{ID: c.ID, Name: c.Name, Strategy: StrategyDeletion, Score: 1}, true
			}
		}
	}
	return Match{}, false
}
