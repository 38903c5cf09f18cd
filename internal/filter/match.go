package filter

import "strings"

// Match evaluates n against one row of string dimensions, mirroring the SQL
// semantics of Build: a missing dimension is NULL and only matches is_null.
func Match(n *Node, row map[string]string) bool {
	if n.IsEmpty() {
		return true
	}
	if n.IsGroup() {
		or := n.Logic == Or
		evaluated := false
		for i := range n.Children {
			c := &n.Children[i]
			if c.IsEmpty() {
				continue
			}
			evaluated = true
			ok := Match(c, row)
			if or && ok {
				return true
			}
			if !or && !ok {
				return false
			}
		}
		return !or || !evaluated
	}

	v, present := row[n.Field]
	present = present && v != ""
	switch n.Op {
	case IsNull:
		return !present
	case NotNull:
		return present
	}
	if !present {
		return false
	}
	switch n.Op {
	case Eq:
		return equal(v, n.Value)
	case Neq:
		return !equal(v, n.Value)
	case Gt, Gte, Lt, Lte:
		c := compare(v, n.Value)
		switch n.Op {
		case Gt:
			return c > 0
		case Gte:
			return c >= 0
		case Lt:
			return c < 0
		default:
			return c <= 0
		}
	case In, NotIn:
		hit := false
		for _, x := range listValue(n.Value) {
			if equal(v, x) {
				hit = true
				break
			}
		}
		return hit == (n.Op == In)
	case Contains:
		return strings.Contains(strings.ToLower(v), strings.ToLower(toString(n.Value)))
	}
	return false
}

func equal(v string, want any) bool {
	switch want.(type) {
	case float64, int, int64:
		f, _ := toFloat(want)
		g, ok := toFloat(v)
		return ok && f == g
	}
	return v == toString(want)
}

func compare(v string, want any) int {
	a, okA := toFloat(v)
	b, okB := toFloat(want)
	if okA && okB {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
	return strings.Compare(v, toString(want))
}
