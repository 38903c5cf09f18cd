package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Predicate is a parameterised WHERE fragment using $n placeholders.
type Predicate struct {
	SQL  string
	Args []any
}

// Builder turns filter trees into predicates. Only whitelisted columns may
// appear in a tree; identifiers are quoted with pgx.
type Builder struct {
	allowed map[string]struct{}
}

func NewBuilder(columns []string) *Builder {
	b := &Builder{allowed: make(map[string]struct{}, len(columns))}
	for _, c := range columns {
		b.allowed[c] = struct{}{}
	}
	return b
}

// Build renders n with placeholders numbered from first. An empty tree
// renders as TRUE. The output is a pure function of the tree.
func (b *Builder) Build(n *Node, first int) (Predicate, error) {
	if first < 1 {
		first = 1
	}
	if n.IsEmpty() {
		return Predicate{SQL: "TRUE"}, nil
	}
	st := &buildState{next: first}
	sql, err := b.render(n, st)
	if err != nil {
		return Predicate{}, err
	}
	return Predicate{SQL: sql, Args: st.args}, nil
}

type buildState struct {
	next int
	args []any
}

func (s *buildState) bind(v any) string {
	s.args = append(s.args, v)
	p := "$" + strconv.Itoa(s.next)
	s.next++
	return p
}

func (b *Builder) render(n *Node, st *buildState) (string, error) {
	if n.IsGroup() {
		logic := n.Logic
		if logic == "" {
			logic = And
		}
		if logic != And && logic != Or {
			return "", fmt.Errorf("unknown filter logic %q", n.Logic)
		}
		parts := make([]string, 0, len(n.Children))
		for i := range n.Children {
			if n.Children[i].IsEmpty() {
				continue
			}
			s, err := b.render(&n.Children[i], st)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		switch len(parts) {
		case 0:
			return "TRUE", nil
		case 1:
			return parts[0], nil
		}
		return "(" + strings.Join(parts, " "+string(logic)+" ") + ")", nil
	}

	if _, ok := b.allowed[n.Field]; !ok {
		return "", fmt.Errorf("filter field %q is not allowed", n.Field)
	}
	if err := n.validateClause(); err != nil {
		return "", err
	}
	col := pgx.Identifier{n.Field}.Sanitize()
	switch n.Op {
	case Eq:
		return col + " = " + st.bind(scalar(n.Value)), nil
	case Neq:
		return col + " <> " + st.bind(scalar(n.Value)), nil
	case Gt:
		return col + " > " + st.bind(scalar(n.Value)), nil
	case Gte:
		return col + " >= " + st.bind(scalar(n.Value)), nil
	case Lt:
		return col + " < " + st.bind(scalar(n.Value)), nil
	case Lte:
		return col + " <= " + st.bind(scalar(n.Value)), nil
	case In:
		return col + " = ANY(" + st.bind(arrayArg(n.Value)) + ")", nil
	case NotIn:
		return "NOT (" + col + " = ANY(" + st.bind(arrayArg(n.Value)) + "))", nil
	case Contains:
		return col + "::text ILIKE " + st.bind("%"+escapeLike(toString(n.Value))+"%"), nil
	case IsNull:
		return col + " IS NULL", nil
	case NotNull:
		return col + " IS NOT NULL", nil
	}
	return "", fmt.Errorf("unknown filter operator %q", n.Op)
}

func scalar(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	}
	return v
}

// arrayArg keeps numeric lists numeric so they compare against numeric columns.
func arrayArg(v any) any {
	vals := listValue(v)
	nums := make([]float64, 0, len(vals))
	for _, x := range vals {
		switch x.(type) {
		case float64, int, int64:
			f, _ := toFloat(x)
			nums = append(nums, f)
		}
	}
	if len(nums) == len(vals) {
		return nums
	}
	strs := make([]string, len(vals))
	for i, x := range vals {
		strs[i] = toString(x)
	}
	return strs
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
