package filter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type Logic string

const (
	And Logic = "AND"
	Or  Logic = "OR"
)

type Op string

const (
	Eq       Op = "eq"
	Neq      Op = "neq"
	Gt       Op = "gt"
	Gte      Op = "gte"
	Lt       Op = "lt"
	Lte      Op = "lte"
	In       Op = "in"
	NotIn    Op = "not_in"
	Contains Op = "contains"
	IsNull   Op = "is_null"
	NotNull  Op = "not_null"
)

// Node is either a group (Logic + Children) or a clause (Field, Op, Value).
type Node struct {
	Logic    Logic  `json:"logic,omitempty"`
	Children []Node `json:"children,omitempty"`

	Field string `json:"field,omitempty"`
	Op    Op     `json:"op,omitempty"`
	Value any    `json:"value,omitempty"`
}

func Clause(field string, op Op, value any) Node {
	return Node{Field: field, Op: op, Value: value}
}

func AllOf(children ...Node) Node { return Node{Logic: And, Children: children} }
func AnyOf(children ...Node) Node { return Node{Logic: Or, Children: children} }

func (n Node) IsGroup() bool { return n.Logic != "" || len(n.Children) > 0 }

// IsEmpty reports a group with no clauses anywhere below it.
func (n *Node) IsEmpty() bool {
	if n == nil {
		return true
	}
	if !n.IsGroup() {
		return n.Field == ""
	}
	for i := range n.Children {
		if !n.Children[i].IsEmpty() {
			return false
		}
	}
	return true
}

// Fields lists every field referenced by the tree, sorted and deduplicated.
func (n *Node) Fields() []string {
	set := map[string]struct{}{}
	var walk func(*Node)
	walk = func(x *Node) {
		if x == nil {
			return
		}
		if x.Field != "" {
			set[x.Field] = struct{}{}
		}
		for i := range x.Children {
			walk(&x.Children[i])
		}
	}
	walk(n)
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Canonical renders the tree as stable JSON so equal trees give equal strings.
func (n *Node) Canonical() string {
	if n.IsEmpty() {
		return ""
	}
	b, _ := json.Marshal(n)
	return string(b)
}

func (n Node) validateClause() error {
	switch n.Op {
	case Eq, Neq, Gt, Gte, Lt, Lte, Contains:
		if n.Value == nil {
			return fmt.Errorf("filter %s %s needs a value", n.Field, n.Op)
		}
		if _, ok := n.Value.([]any); ok {
			return fmt.Errorf("filter %s %s takes a single value", n.Field, n.Op)
		}
	case In, NotIn:
		if len(listValue(n.Value)) == 0 {
			return fmt.Errorf("filter %s %s needs a non-empty list", n.Field, n.Op)
		}
	case IsNull, NotNull:
	default:
		return fmt.Errorf("unknown filter operator %q", n.Op)
	}
	return nil
}

// listValue accepts []any (JSON arrays), []string and scalars.
func listValue(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []float64:
		out := make([]any, len(t))
		for i, f := range t {
			out[i] = f
		}
		return out
	default:
		return []any{t}
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
