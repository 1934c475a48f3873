package rules

import "testing"

func mustConds(t *testing.T, raw any) []Condition {
	t.Helper()
	conds, err := ParseConditions(raw)
	if err != nil {
		t.Fatalf("parse conditions: %v", err)
	}
	return conds
}

func TestEmptyConditionsAlwaysHold(t *testing.T) {
	for _, raw := range []any{nil, "", "  ", "{}", map[string]any{}} {
		conds := mustConds(t, raw)
		for _, c := range []Context{nil, {}, {"task": map[string]any{"status": "x"}}} {
			ok, err := Matches(conds, c)
			if err != nil || !ok {
				t.Fatalf("raw %#v ctx %v: got %v %v", raw, c, ok, err)
			}
		}
	}
}

func TestInAndNotInAreExactNegations(t *testing.T) {
	set := []any{"a", "b"}
	for _, x := range []any{"a", "b", "c", nil, 1} {
		c := Context{"x": x}
		in, err := Comparison{Key: "x", Op: OpIn, Value: set}.Eval(c)
		if err != nil {
			t.Fatalf("in: %v", err)
		}
		notIn, err := Comparison{Key: "x", Op: OpNotIn, Value: set}.Eval(c)
		if err != nil {
			t.Fatalf("not_in: %v", err)
		}
		want := x == "a" || x == "b"
		if in != want || notIn == in {
			t.Fatalf("x=%v: in=%v not_in=%v", x, in, notIn)
		}
	}
}

func TestInWithNonListIsAnError(t *testing.T) {
	conds := mustConds(t, map[string]any{"x": map[string]any{"operator": "in", "value": "a"}})
	ok, err := Matches(conds, Context{"x": "a"})
	if err == nil || ok {
		t.Fatalf("expected fail-closed error, got %v %v", ok, err)
	}
}

func TestLooseEquality(t *testing.T) {
	cases := []struct {
		actual, expected any
		want             bool
	}{
		{"5", 5, true},
		{5.0, "5", true},
		{"05", "5", false},
		{true, "true", true},
		{"false", false, true},
		{nil, nil, true},
		{"", nil, false},
		{"urgent", "urgent", true},
	}
	for _, tc := range cases {
		if got := looseEqual(tc.actual, tc.expected); got != tc.want {
			t.Fatalf("looseEqual(%#v, %#v) = %v", tc.actual, tc.expected, got)
		}
	}
}

func TestMissingPathEqualsOnlyNil(t *testing.T) {
	c := Context{"task": map[string]any{"status": "open"}}
	if ok, _ := (Literal{Key: "task.assignee", Value: nil}).Eval(c); !ok {
		t.Fatalf("missing path should equal nil")
	}
	if ok, _ := (Literal{Key: "task.assignee", Value: ""}).Eval(c); ok {
		t.Fatalf("missing path should not equal empty string")
	}
	if ok, _ := (Comparison{Key: "task.assignee", Op: OpGT, Value: 1}).Eval(c); ok {
		t.Fatalf("ordering on missing path must be false")
	}
}

func TestOrderingOperators(t *testing.T) {
	c := Context{"n": "10", "due": "2024-05-01"}
	check := func(key string, op Operator, v any, want bool) {
		t.Helper()
		got, err := Comparison{Key: key, Op: op, Value: v}.Eval(c)
		if err != nil || got != want {
			t.Fatalf("%s %s %v: got %v %v", key, op, v, got, err)
		}
	}
	check("n", OpGT, 9, true)
	check("n", OpGTE, 10, true)
	check("n", OpLT, 2, false)
	check("n", OpLTE, "10", true)
	check("due", OpLT, "2024-06-01", true)
	check("due", OpGT, "2024-06-01", false)
	check("n", OpNE, 11, true)
	check("n", Operator("~="), 10, false)
}

func TestParseConditionsFromText(t *testing.T) {
	json := `{"task.priority": {"operator": "in", "value": ["high", "urgent"]}, "task": {"status": "not_started"}}`
	conds := mustConds(t, json)
	if len(conds) != 2 {
		t.Fatalf("expected 2 conditions, got %d", len(conds))
	}
	if conds[0].Path() != "task.priority" || conds[1].Path() != "task.status" {
		t.Fatalf("unexpected paths: %s %s", conds[0].Path(), conds[1].Path())
	}
	c := Context{"task": map[string]any{"priority": "urgent", "status": "not_started"}}
	if ok, err := Matches(conds, c); err != nil || !ok {
		t.Fatalf("expected match: %v %v", ok, err)
	}
	yamlConds := mustConds(t, "task.priority: low\n")
	if ok, _ := Matches(yamlConds, c); ok {
		t.Fatalf("expected mismatch")
	}
	if _, err := ParseConditions("[1, 2]"); err == nil {
		t.Fatalf("list conditions should be rejected")
	}
}

func TestLookupReadsStringMaps(t *testing.T) {
	c := Context{"task": map[string]string{"status": "on_hold"}}
	v, ok := c.Lookup("task.status")
	if !ok || v != "on_hold" {
		t.Fatalf("lookup: %v %v", v, ok)
	}
	if _, ok := c.Lookup("task.status.deeper"); ok {
		t.Fatalf("lookup through a scalar should miss")
	}
}

type panicky struct{}

func (panicky) Path() string { return "boom" }
func (panicky) Eval(Context) (bool, error) { panic("bad condition") }

func TestMatchesRecoversPanics(t *testing.T) {
	ok, err := Matches([]Condition{panicky{}}, Context{})
	if ok || err == nil {
		t.Fatalf("expected fail-closed on panic, got %v %v", ok, err)
	}
}
