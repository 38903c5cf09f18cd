package warehouse

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/AngelCh415/deepdive/internal/filter"
	"github.com/AngelCh415/deepdive/internal/models"
)

// Memory is an in-process fact table used when no DSN is configured and in tests.
type Memory struct {
	mu    sync.RWMutex
	facts map[string]models.Fact
	// Err, when set, is returned by every query.
	err error
}

func NewMemory() *Memory {
	return &Memory{facts: make(map[string]models.Fact)}
}

// Upsert stores f under its (date, dimensions) identity, replacing any
// previous fact with the same identity. Negative metrics are clamped to zero.
func (m *Memory) Upsert(f models.Fact) {
	f.Date = models.Day(f.Date)
	f.Requests = max0(f.Requests)
	f.Paid = max0(f.Paid)
	f.Revenue = maxf(f.Revenue)
	f.CPM = maxf(f.CPM)
	k := factKey(f)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts[k] = f
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.facts)
}

// Fail makes subsequent queries return err; nil restores normal operation.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *Memory) QueryAggregates(ctx context.Context, q Query) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	name := q.NameExpression
	if name == "" {
		name = q.GroupingKey
	}

	type acc struct {
		Row
		cpmSum float64
	}
	groups := map[string]*acc{}
	for _, f := range m.facts {
		if !q.Range.Contains(f.Date) {
			continue
		}
		id := f.Dims[q.GroupingKey]
		if id == "" {
			continue
		}
		if !filter.Match(q.Filter, f.Dims) {
			continue
		}
		a, ok := groups[id]
		if !ok {
			a = &acc{Row: Row{EntityID: id}}
			groups[id] = a
		}
		if n := f.Dims[name]; n > a.DisplayName {
			a.DisplayName = n
		}
		a.Requests += f.Requests
		a.Paid += f.Paid
		a.Revenue += f.Revenue
		a.cpmSum += f.CPM
		a.Matched++
	}

	out := make([]Row, 0, len(groups))
	for _, a := range groups {
		r := a.Row
		if r.Matched > 0 {
			r.CPM = a.cpmSum / float64(r.Matched)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

func factKey(f models.Fact) string {
	keys := make([]string, 0, len(f.Dims))
	for k := range f.Dims {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(f.Date.Format(models.DateLayout))
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(f.Dims[k])
	}
	return b.String()
}

func max0(i int64) int64 {
	if i < 0 {
		return 0
	}
	return i
}

func maxf(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}
