package perspective

import (
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/AngelCh415/deepdive/internal/models"
)

type ID string

const (
	Team    ID = "team"
	PIC     ID = "pic"
	PID     ID = "pid"
	MID     ID = "mid"
	Product ID = "product"
	Zone    ID = "zone"
)

// GroupingKey is the warehouse column an entity id is read from.
type GroupingKey string

type Perspective struct {
	ID             ID          `yaml:"id" json:"id"`
	GroupingKey    GroupingKey `yaml:"grouping_key" json:"grouping_key"`
	NameExpression string      `yaml:"name_expression" json:"name_expression"`
	Child          ID          `yaml:"child,omitempty" json:"child,omitempty"`
	IsLeaf         bool        `yaml:"leaf" json:"is_leaf"`
}

// Registry is the static drill-down hierarchy. It is immutable after
// construction and safe for concurrent reads.
type Registry struct {
	byID  map[ID]Perspective
	byKey map[GroupingKey]ID
	// parent is derived from Child links.
	parent map[ID]ID
	order  []ID
}

// Default is team → pic → pid → mid → zone with product as its own leaf.
func Default() *Registry {
	r, err := New([]Perspective{
		{ID: Team, GroupingKey: "team_id", NameExpression: "team_name", Child: PIC},
		{ID: PIC, GroupingKey: "pic_id", NameExpression: "pic_name", Child: PID},
		{ID: PID, GroupingKey: "publisher_id", NameExpression: "publisher_name", Child: MID},
		{ID: MID, GroupingKey: "media_id", NameExpression: "media_name", Child: Zone},
		{ID: Zone, GroupingKey: "zone_id", NameExpression: "zone_name", IsLeaf: true},
		{ID: Product, GroupingKey: "product_id", NameExpression: "product_name", IsLeaf: true},
	})
	if err != nil {
		panic(err)
	}
	return r
}

func New(ps []Perspective) (*Registry, error) {
	r := &Registry{
		byID:   make(map[ID]Perspective, len(ps)),
		byKey:  make(map[GroupingKey]ID, len(ps)),
		parent: make(map[ID]ID, len(ps)),
	}
	for _, p := range ps {
		if p.ID == "" || p.GroupingKey == "" {
			return nil, models.Invariant("perspective %q needs an id and a grouping key", p.ID)
		}
		if _, dup := r.byID[p.ID]; dup {
			return nil, models.Invariant("duplicate perspective %q", p.ID)
		}
		if other, dup := r.byKey[p.GroupingKey]; dup {
			return nil, models.Invariant("grouping key %q used by %q and %q", p.GroupingKey, other, p.ID)
		}
		if p.NameExpression == "" {
			p.NameExpression = string(p.GroupingKey)
		}
		r.byID[p.ID] = p
		r.byKey[p.GroupingKey] = p.ID
		r.order = append(r.order, p.ID)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	for _, p := range r.byID {
		if p.Child != "" {
			r.parent[p.Child] = p.ID
		}
	}
	return r, nil
}

// LoadYAML reads a list of perspectives:
//
//	perspectives:
//	  - id: team
//	    grouping_key: team_id
//	    name_expression: team_name
//	    child: pic
func LoadYAML(rd io.Reader) (*Registry, error) {
	var doc struct {
		Perspectives []Perspective `yaml:"perspectives"`
	}
	if err := yaml.NewDecoder(rd).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode perspectives: %w", err)
	}
	if len(doc.Perspectives) == 0 {
		return nil, models.Invariant("perspective file lists no perspectives")
	}
	return New(doc.Perspectives)
}

// Validate checks that the child links form a forest: leaves have no child,
// non-leaves have exactly one known child, no perspective has two parents,
// and there are no cycles.
func (r *Registry) Validate() error {
	parents := map[ID]ID{}
	for _, id := range r.order {
		p := r.byID[id]
		if p.IsLeaf && p.Child != "" {
			return models.Invariant("leaf perspective %q declares child %q", id, p.Child)
		}
		if !p.IsLeaf && p.Child == "" {
			return models.Invariant("non-leaf perspective %q has no child", id)
		}
		if p.Child == "" {
			continue
		}
		if _, ok := r.byID[p.Child]; !ok {
			return models.Invariant("perspective %q points to unknown child %q", id, p.Child)
		}
		if prev, ok := parents[p.Child]; ok {
			return models.Invariant("perspective %q has two parents: %q and %q", p.Child, prev, id)
		}
		parents[p.Child] = id
	}
	for _, id := range r.order {
		seen := map[ID]bool{}
		for cur := id; cur != ""; cur = r.byID[cur].Child {
			if seen[cur] {
				return models.Invariant("drill-down cycle through %q", cur)
			}
			seen[cur] = true
		}
	}
	return nil
}

func (r *Registry) Get(id ID) (Perspective, error) {
	p, ok := r.byID[id]
	if !ok {
		return Perspective{}, models.Invariant("unknown perspective %q", id)
	}
	return p, nil
}

// Child returns the drill-down target of id, false for leaves.
func (r *Registry) Child(id ID) (Perspective, bool) {
	p, ok := r.byID[id]
	if !ok || p.Child == "" {
		return Perspective{}, false
	}
	return r.byID[p.Child], true
}

func (r *Registry) Parent(id ID) (Perspective, bool) {
	pid, ok := r.parent[id]
	if !ok {
		return Perspective{}, false
	}
	return r.byID[pid], true
}

// Ancestors lists the perspectives above id, root first.
func (r *Registry) Ancestors(id ID) []Perspective {
	var out []Perspective
	for p, ok := r.Parent(id); ok; p, ok = r.Parent(p.ID) {
		out = append(out, p)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (r *Registry) ByGroupingKey(k GroupingKey) (Perspective, bool) {
	id, ok := r.byKey[k]
	if !ok {
		return Perspective{}, false
	}
	return r.byID[id], true
}

// Roots are perspectives without a parent, in declaration order.
func (r *Registry) Roots() []Perspective {
	var out []Perspective
	for _, id := range r.order {
		if _, ok := r.parent[id]; !ok {
			out = append(out, r.byID[id])
		}
	}
	return out
}

func (r *Registry) All() []Perspective {
	out := make([]Perspective, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Columns is every grouping key and name expression, sorted. It is the
// whitelist of identifiers the predicate builder accepts.
func (r *Registry) Columns() []string {
	set := map[string]struct{}{}
	for _, p := range r.byID {
		set[string(p.GroupingKey)] = struct{}{}
		set[p.NameExpression] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
