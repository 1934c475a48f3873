package resolver

import (
	"context"
	"testing"

	"taskdesk/internal/db"
	"taskdesk/internal/migrate"
	"taskdesk/internal/store"
)

func staff(names ...string) []Candidate {
	out := make([]Candidate, len(names))
	for i, n := range names {
		out[i] = Candidate{ID: n + "@corp.io", Name: n}
	}
	return out
}

func TestPhoneticBeatsThresholdForDoubledVowel(t *testing.T) {
	m, ok := MatchStaff("anaya", staff("Anaaya Udhas"), DefaultOptions())
	if !ok {
		t.Fatalf("expected a match")
	}
	if m.Strategy != StrategySimilarity {
		t.Fatalf("expected similarity strategy, got %s", m.Strategy)
	}
	if m.Score <= 0.7 {
		t.Fatalf("expected score above 0.7, got %v", m.Score)
	}
	if m.ID != "Anaaya Udhas@corp.io" {
		t.Fatalf("unexpected id %s", m.ID)
	}
}

func TestShortQueryNeverMatchesByFirstToken(t *testing.T) {
	cands := staff("Jo Smith", "Jo Park")
	if _, ok := firstToken("jo", cands, DefaultOptions()); ok {
		t.Fatalf("two-letter query matched by first token")
	}
	if m, ok := MatchStaff("jo", cands, DefaultOptions()); ok && m.Strategy == StrategyFirstToken {
		t.Fatalf("cascade used first token for %q", "jo")
	}
}

func TestCascadePrecedence(t *testing.T) {
	cands := staff("Samantha Lee", "Sam Lee", "Priyanka Sharma", "Abe Lincoln")
	cases := []struct {
		query    string
		want     string
		strategy Strategy
	}{
		{"SAM  lee", "Sam Lee", StrategyExact},
		{"samantha", "Samantha Lee", StrategySubstring},
		{"Priyanka Shah", "Priyanka Sharma", StrategyFirstToken},
		{"R. Sharma", "Priyanka Sharma", StrategyLastToken},
		{"Philip", "", ""},
		{"Ae", "Abe Lincoln", StrategyDeletion},
	}
	for _, tc := range cases {
		m, ok := MatchStaff(tc.query, cands, DefaultOptions())
		if tc.want == "" {
			if ok {
				t.Fatalf("%q: expected no match, got %+v", tc.query, m)
			}
			continue
		}
		if !ok {
			t.Fatalf("%q: expected match", tc.query)
		}
		if m.Name != tc.want || m.Strategy != tc.strategy {
			t.Fatalf("%q: got %s via %s, want %s via %s", tc.query, m.Name, m.Strategy, tc.want, tc.strategy)
		}
	}
}

func TestDeletionVariantsCanBeDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.DeletionVariants = false
	if m, ok := MatchStaff("Ae", staff("Abe Lincoln"), opts); ok {
		t.Fatalf("expected no match, got %+v", m)
	}
}

func TestThresholdIsConfigurable(t *testing.T) {
	opts := Options{Threshold: 0.95}
	if m, ok := MatchStaff("anaya", staff("Anaaya Udhas"), opts); ok {
		t.Fatalf("expected no match at 0.95, got %+v", m)
	}
	opts.DeletionVariants = true
	m, ok := MatchStaff("anaya", staff("Anaaya Udhas"), opts)
	if !ok || m.Strategy != StrategyDeletion {
		t.Fatalf("expected deletion variant fallback, got %+v %v", m, ok)
	}
}

func TestSimilarityTiesKeepCandidateOrder(t *testing.T) {
	m, ok := MatchStaff("anaya", staff("Anaaya Udhas", "Anaaya Patel"), DefaultOptions())
	if !ok || m.Name != "Anaaya Udhas" {
		t.Fatalf("expected first candidate on tie, got %+v", m)
	}
	m, ok = MatchStaff("anaya", staff("Anaaya Patel", "Anaaya Udhas"), DefaultOptions())
	if !ok || m.Name != "Anaaya Patel" {
		t.Fatalf("expected first candidate on tie, got %+v", m)
	}
}

func TestEmptyInputsAreNotFound(t *testing.T) {
	if _, ok := MatchStaff("   ", staff("Sam Lee"), DefaultOptions()); ok {
		t.Fatalf("blank query matched")
	}
	if _, ok := MatchStaff("sam", nil, DefaultOptions()); ok {
		t.Fatalf("empty candidates matched")
	}
	if _, ok := MatchStaff("sam", []Candidate{{ID: "x@corp.io", Name: ""}}, DefaultOptions()); ok {
		t.Fatalf("nameless candidate matched")
	}
	if _, ok := MatchProject("", []ProjectCandidate{{Tag: "ops", Name: "Ops"}}); ok {
		t.Fatalf("blank project text matched")
	}
}

func TestPhoneticSimilarity(t *testing.T) {
	if got := PhoneticSimilarity("Philip", "Filip"); got != 0.9 {
		t.Fatalf("ph reduction: %v", got)
	}
	if got := PhoneticSimilarity("Jon", "Jonathan"); got != 3.0/8.0 {
		t.Fatalf("containment ratio: %v", got)
	}
	if got := PhoneticSimilarity("O'Neil", "oneil"); got != 1 {
		t.Fatalf("punctuation should be ignored: %v", got)
	}
	if got := PhoneticSimilarity("", "x"); got != 0 {
		t.Fatalf("empty input: %v", got)
	}
}

func TestMatchProjectCascade(t *testing.T) {
	cands := []ProjectCandidate{
		{Tag: "ops", Name: "Operations Revamp"},
		{Tag: "bd", Name: "Board Deck"},
	}
	cases := []struct {
		text     string
		want     string
		strategy Strategy
	}{
		{"operations revamp", "ops", StrategyExact},
		{"board", "bd", StrategySubstring},
		{"BD", "bd", StrategyTag},
		{"the revamp plan", "ops", StrategyWord},
		{"of it", "", ""},
	}
	for _, tc := range cases {
		m, ok := MatchProject(tc.text, cands)
		if tc.want == "" {
			if ok {
				t.Fatalf("%q: expected no match, got %+v", tc.text, m)
			}
			continue
		}
		if !ok || m.ID != tc.want || m.Strategy != tc.strategy {
			t.Fatalf("%q: got %+v (ok=%v), want %s via %s", tc.text, m, ok, tc.want, tc.strategy)
		}
	}
}

func TestResolverReadsStore(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	s := store.New(conn)
	s.Append(ctx, store.Staff, store.Record{"email": "anaaya@corp.io", "name": "Anaaya Udhas"})
	s.Append(ctx, store.Projects, store.Record{"project_tag": "q3", "project_name": "Q3 Planning"})

	r := Resolver{Store: s, Options: DefaultOptions()}
	if m, ok := r.ResolveStaff(ctx, "anaya"); !ok || m.ID != "anaaya@corp.io" {
		t.Fatalf("staff: %+v %v", m, ok)
	}
	if m, ok := r.ResolveProject(ctx, "planning doc"); !ok || m.ID != "q3" {
		t.Fatalf("project: %+v %v", m, ok)
	}
	if _, ok := r.ResolveStaff(ctx, "zzz"); ok {
		t.Fatalf("unexpected staff match")
	}
}
