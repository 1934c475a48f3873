package resolver

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

var clusterReductions = strings.NewReplacer(
	"aa", "a",
	"ee", "e",
	"ii", "i",
	"oo", "o",
	"uu", "u",
	"ph", "f",
	"ck", "k",
	"qu", "kw",
)

func lettersOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func collapseDoubles(s string) string {
	var b strings.Builder
	var prev rune = -1
	for _, r := range s {
		if r == prev {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

func reduce(s string) string {
	return collapseDoubles(clusterReductions.Replace(s))
}

// PhoneticSimilarity scores two names in [0,1] after stripping everything but letters.
// Containment scores the length ratio so nicknames rank well; names equal after
// sound-alike reductions score 0.9.
func PhoneticSimilarity(a, b string) float64 {
	a, b = lettersOnly(a), lettersOnly(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return float64(min(la, lb)) / float64(max(la, lb))
	}
	ra, rb := reduce(a), reduce(b)
	if ra == rb {
		return 0.9
	}
	return EditSimilarity(ra, rb)
}

// EditSimilarity is 1 - levenshtein/maxlen over runes.
func EditSimilarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// deletionVariant reports whether removing exactly one rune from a yields b.
func deletionVariant(a, b string) bool {
	ra := []rune(a)
	if len(ra) != utf8.RuneCountInString(b)+1 {
		return false
	}
	for i := range ra {
		if string(ra[:i])+string(ra[i+1:]) == b {
			return true
		}
	}
	return false
}
