package auditlog

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Limits bounds a task's interaction log.
type Limits struct {
	MaxChars           int
	KeepLines          int
	EmergencyKeepLines int
}

func DefaultLimits() Limits {
	return Limits{MaxChars: 45000, KeepLines: 150, EmergencyKeepLines: 100}
}

func (l Limits) normalized() Limits {
	d := DefaultLimits()
	if l.MaxChars <= 0 {
		l.MaxChars = d.MaxChars
	}
	if l.KeepLines <= 0 {
		l.KeepLines = d.KeepLines
	}
	if l.EmergencyKeepLines <= 0 {
		l.EmergencyKeepLines = min(d.EmergencyKeepLines, l.KeepLines)
	}
	return l
}

type Outcome string

const (
	OutcomeAppended  Outcome = "appended"
	OutcomeCompacted Outcome = "compacted"
	OutcomeEmergency Outcome = "emergency"
	OutcomeFailed    Outcome = "failed"
)

var tokenPattern = regexp.MustCompile(`(Thread ID|Message ID):\s*([^\s,;)\]]+)`)

// token is a correlation reference such as "Thread ID: abc".
type token struct {
	kind  string
	value string
}

func (t token) String() string { return t.kind + ": " + t.value }

func collectTokens(text string) []token {
	seen := map[token]bool{}
	var out []token
	for _, m := range tokenPattern.FindAllStringSubmatch(text, -1) {
		// a sentence period is not part of the ID; dots inside it are
		t := token{kind: m[1], value: strings.TrimRight(m[2], ".")}
		if t.value != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func missingFrom(all []token, lines []string) []token {
	present := map[token]bool{}
	for _, t := range collectTokens(strings.Join(lines, "\n")) {
		present[t] = true
	}
	var out []token
	for _, t := range all {
		if !present[t] {
			out = append(out, t)
		}
	}
	return out
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func lastN(lines []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

func runes(s string) int { return utf8.RuneCountInString(s) }

func joinEntry(lines []string, entry string) string {
	if len(lines) == 0 {
		return entry
	}
	return strings.Join(lines, "\n") + "\n" + entry
}

func preservationLines(tokens []token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = "[Preserved] " + t.String()
	}
	return out
}

// Compose returns the log that results from appending entry to current under lim.
// entry must already carry its timestamp prefix.
func Compose(current, entry string, lim Limits) (string, Outcome) {
	lim = lim.normalized()
	if runes(current)+1+runes(entry) <= lim.MaxChars {
		if current == "" {
			return entry, OutcomeAppended
		}
		return current + "\n" + entry, OutcomeAppended
	}

	tokens := collectTokens(current)
	tail := lastN(splitLines(current), lim.KeepLines)
	missing := missingFrom(tokens, tail)
	compacted := append(append([]string{}, tail...), preservationLines(missing)...)
	compacted = append(compacted, fmt.Sprintf("[Log truncated: kept last %d entries, preserved %d correlation IDs]", len(tail), len(missing)))
	result := joinEntry(compacted, entry)
	if runes(result) <= lim.MaxChars {
		return result, OutcomeCompacted
	}
	return emergency(compacted, tokens, entry, lim), OutcomeEmergency
}

// emergency keeps at most EmergencyKeepLines lines, correlation lines included,
// followed by a notice and the entry. It never calls back into Compose.
func emergency(lines []string, tokens []token, entry string, lim Limits) string {
	budget := lim.EmergencyKeepLines
	keep := budget
	var tail []string
	var missing []token
	for {
		tail = lastN(lines, keep)
		missing = missingFrom(tokens, tail)
		if len(missing) > budget {
			missing = missing[len(missing)-budget:]
		}
		if len(tail)+len(missing) <= budget || keep == 0 {
			break
		}
		keep = max(0, budget-len(missing))
	}
	preserved := preservationLines(missing)
	notice := func() string {
		return fmt.Sprintf("[Emergency truncation: kept last %d lines, preserved %d correlation IDs]", len(tail), len(preserved))
	}
	build := func() string {
		block := append(append([]string{}, tail...), preserved...)
		block = append(block, notice())
		return joinEntry(block, entry)
	}

	result := build()
	for runes(result) > lim.MaxChars && len(tail) > 0 {
		tail = tail[1:]
		result = build()
	}
	if over := runes(result) - lim.MaxChars; over > 0 {
		entry = clip(entry, runes(entry)-over)
		result = build()
	}
	for runes(result) > lim.MaxChars && len(preserved) > 0 {
		preserved = preserved[1:]
		result = build()
	}
	if runes(result) > lim.MaxChars {
		r := []rune(result)
		result = string(r[len(r)-lim.MaxChars:])
	}
	return result
}

const clipMarker = " [clipped]"

func clip(s string, n int) string {
	r := []rune(s)
	if n >= len(r) {
		return s
	}
	if n <= len([]rune(clipMarker)) {
		if n <= 0 {
			return ""
		}
		return string(r[:n])
	}
	return string(r[:n-len([]rune(clipMarker))]) + clipMarker
}
