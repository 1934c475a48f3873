package rules

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Context is the event data conditions are evaluated against. Nested maps are
// addressed with dotted paths such as task.status.
type Context map[string]any

type Operator string

const (
	OpGT    Operator = ">"
	OpGTE   Operator = ">="
	OpLT    Operator = "<"
	OpLTE   Operator = "<="
	OpEQ    Operator = "=="
	OpNE    Operator = "!="
	OpIn    Operator = "in"
	OpNotIn Operator = "not_in"
)

var ErrNotAList = errors.New("operand is not a list")

// Condition is either a Literal or a Comparison.
type Condition interface {
	Path() string
	Eval(c Context) (bool, error)
}

// Literal holds when the value at Key loosely equals Value.
type Literal struct {
	Key   string
	Value any
}

func (l Literal) Path() string { return l.Key }

func (l Literal) Eval(c Context) (bool, error) {
	actual, _ := c.Lookup(l.Key)
	return looseEqual(actual, l.Value), nil
}

// Comparison applies Op between the value at Key and Value.
type Comparison struct {
	Key   string
	Op    Operator
	Value any
}

func (cmp Comparison) Path() string { return cmp.Key }

func (cmp Comparison) Eval(c Context) (bool, error) {
	actual, found := c.Lookup(cmp.Key)
	switch cmp.Op {
	case OpEQ:
		return looseEqual(actual, cmp.Value), nil
	case OpNE:
		return !looseEqual(actual, cmp.Value), nil
	case OpIn, OpNotIn:
		list, ok := asList(cmp.Value)
		if !ok {
			return false, fmt.Errorf("%s %s: %w", cmp.Key, cmp.Op, ErrNotAList)
		}
		in := false
		for _, v := range list {
			if looseEqual(actual, v) {
				in = true
				break
			}
		}
		if cmp.Op == OpIn {
			return in, nil
		}
		return !in, nil
	case OpGT, OpGTE, OpLT, OpLTE:
		if !found || actual == nil || cmp.Value == nil {
			return false, nil
		}
		order, ok := compare(actual, cmp.Value)
		if !ok {
			return false, nil
		}
		switch cmp.Op {
		case OpGT:
			return order > 0, nil
		case OpGTE:
			return order >= 0, nil
		case OpLT:
			return order < 0, nil
		default:
			return order <= 0, nil
		}
	}
	return false, nil
}

// Lookup resolves a dotted path. Missing segments report found=false.
func (c Context) Lookup(path string) (any, bool) {
	var cur any = map[string]any(c)
	for _, seg := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case Context:
			v, ok := m[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := m[seg]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

// ParseConditions normalizes a stored condition map. raw may be nil, a decoded map,
// or JSON/YAML text. Nested maps without an operator flatten into dotted keys.
func ParseConditions(raw any) ([]Condition, error) {
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" || s == "{}" || s == "null" {
			return nil, nil
		}
		var decoded any
		if err := yaml.Unmarshal([]byte(s), &decoded); err != nil {
			return nil, fmt.Errorf("decode conditions: %w", err)
		}
		raw = decoded
	}
	if raw == nil {
		return nil, nil
	}
	m, ok := asMap(raw)
	if !ok {
		return nil, fmt.Errorf("conditions must be a map, got %T", raw)
	}
	var out []Condition
	if err := flatten("", m, &out); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out, nil
}

func flatten(prefix string, m map[string]any, out *[]Condition) error {
	for key, v := range m {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		sub, isMap := asMap(v)
		if !isMap {
			*out = append(*out, Literal{Key: path, Value: v})
			continue
		}
		op, hasOp := sub["operator"]
		if !hasOp {
			op, hasOp = sub["op"]
		}
		if !hasOp {
			if err := flatten(path, sub, out); err != nil {
				return err
			}
			continue
		}
		opName, ok := op.(string)
		if !ok {
			return fmt.Errorf("condition %s: operator must be a string", path)
		}
		*out = append(*out, Comparison{Key: path, Op: Operator(strings.ToLower(strings.TrimSpace(opName))), Value: sub["value"]})
	}
	return nil
}

// Matches ANDs every condition. An evaluation error or panic makes the whole set false.
func Matches(conds []Condition, c Context) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("condition panic: %v", r)
		}
	}()
	for _, cond := range conds {
		hold, err := cond.Eval(c)
		if err != nil {
			return false, err
		}
		if !hold {
			return false, nil
		}
	}
	return true, nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Context:
		return map[string]any(m), true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

// looseEqual treats nil and missing alike, coerces numeric strings when the other
// side is a number and boolean strings when the other side is a bool.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if isNumber(a) || isNumber(b) {
		fa, okA := toFloat(a)
		fb, okB := toFloat(b)
		return okA && okB && fa == fb
	}
	if _, isBool := a.(bool); isBool {
		ba, _ := toBool(a)
		bb, ok := toBool(b)
		return ok && ba == bb
	}
	if _, isBool := b.(bool); isBool {
		ba, ok := toBool(a)
		bb, _ := toBool(b)
		return ok && ba == bb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compare orders numerically when both sides are numeric, else lexically.
func compare(a, b any) (int, bool) {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if !okA || !okB {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}
