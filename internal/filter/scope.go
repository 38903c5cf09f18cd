package filter

import (
	"sort"

	"github.com/AngelCh415/deepdive/internal/perspective"
)

// Scope maps grouping keys to selected entity ids. Several ids under one key
// are OR-ed; keys are AND-ed.
type Scope map[perspective.GroupingKey][]string

func (s Scope) Clone() Scope {
	out := make(Scope, len(s))
	for k, v := range s {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Canonical drops empty keys and sorts and dedups each value list.
func (s Scope) Canonical() Scope {
	out := make(Scope, len(s))
	for k, vals := range s {
		seen := map[string]struct{}{}
		var clean []string
		for _, v := range vals {
			if v == "" {
				continue
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			clean = append(clean, v)
		}
		if len(clean) == 0 {
			continue
		}
		sort.Strings(clean)
		out[k] = clean
	}
	return out
}

func (s Scope) Keys() []perspective.GroupingKey {
	out := make([]perspective.GroupingKey, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Node renders the scope as an AND of eq/in clauses in key order.
func (s Scope) Node() *Node {
	c := s.Canonical()
	if len(c) == 0 {
		return nil
	}
	n := AllOf()
	for _, k := range c.Keys() {
		vals := c[k]
		if len(vals) == 1 {
			n.Children = append(n.Children, Clause(string(k), Eq, vals[0]))
			continue
		}
		n.Children = append(n.Children, Clause(string(k), In, vals))
	}
	return &n
}

// Combine ANDs any number of trees, skipping empty ones.
func Combine(nodes ...*Node) *Node {
	var kids []Node
	for _, n := range nodes {
		if !n.IsEmpty() {
			kids = append(kids, *n)
		}
	}
	switch len(kids) {
	case 0:
		return nil
	case 1:
		return &kids[0]
	}
	n := AllOf(kids...)
	return &n
}
