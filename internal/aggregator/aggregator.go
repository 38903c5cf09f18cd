package aggregator

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/AngelCh415/deepdive/internal/filter"
	"github.com/AngelCh415/deepdive/internal/models"
	"github.com/AngelCh415/deepdive/internal/perspective"
	"github.com/AngelCh415/deepdive/internal/warehouse"
)

// Params selects one period of one perspective.
type Params struct {
	Perspective perspective.ID
	Range       models.PeriodRange
	// Scope holds the parent-scoping ids introduced by drill-down; only
	// ancestor grouping keys are allowed.
	Scope filter.Scope
	// Selection holds user-picked ids for any grouping key.
	Selection filter.Scope
	Where     *filter.Node
}

type Aggregator struct {
	wh      warehouse.Warehouse
	reg     *perspective.Registry
	table   string
	timeout time.Duration
	log     *slog.Logger
}

func New(wh warehouse.Warehouse, reg *perspective.Registry, table string, timeout time.Duration, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{wh: wh, reg: reg, table: table, timeout: timeout, log: log}
}

// Aggregate returns one aggregate per entity of the perspective, sorted by
// entity id. Warehouse failures come back as *models.DataSourceError and are
// not retried here.
func (a *Aggregator) Aggregate(ctx context.Context, p Params) ([]models.EntityAggregate, error) {
	persp, err := a.Validate(p)
	if err != nil {
		return nil, err
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	q := warehouse.Query{
		Table:          a.table,
		GroupingKey:    string(persp.GroupingKey),
		NameExpression: persp.NameExpression,
		Range:          p.Range,
		Filter:         filter.Combine(p.Scope.Node(), p.Selection.Node(), p.Where),
	}
	start := time.Now()
	rows, err := a.wh.QueryAggregates(ctx, q)
	if err != nil {
		a.log.Warn("aggregate failed",
			slog.String("perspective", string(persp.ID)),
			slog.String("range", p.Range.String()),
			slog.String("err", err.Error()))
		return nil, &models.DataSourceError{Op: "aggregate " + string(persp.ID) + " " + p.Range.String(), Err: err}
	}
	out := fold(rows)
	a.log.Debug("aggregate",
		slog.String("perspective", string(persp.ID)),
		slog.String("range", p.Range.String()),
		slog.Int("entities", len(out)),
		slog.Duration("latency", time.Since(start)))
	return out, nil
}

// Validate checks p against the registry and returns the perspective.
func (a *Aggregator) Validate(p Params) (perspective.Perspective, error) {
	persp, err := a.reg.Get(p.Perspective)
	if err != nil {
		return perspective.Perspective{}, err
	}
	if err := p.Range.Validate(); err != nil {
		return perspective.Perspective{}, err
	}
	ancestors := map[perspective.GroupingKey]bool{}
	for _, anc := range a.reg.Ancestors(persp.ID) {
		ancestors[anc.GroupingKey] = true
	}
	for _, k := range p.Scope.Keys() {
		if !ancestors[k] {
			return perspective.Perspective{}, models.Invariant("scope key %q is not an ancestor of %q", k, persp.ID)
		}
	}
	for _, k := range p.Selection.Keys() {
		if _, ok := a.reg.ByGroupingKey(k); !ok {
			return perspective.Perspective{}, models.Invariant("unknown grouping key %q in selection", k)
		}
	}
	known := map[string]bool{}
	for _, c := range a.reg.Columns() {
		known[c] = true
	}
	for _, f := range p.Where.Fields() {
		if !known[f] {
			return perspective.Perspective{}, models.Invariant("unknown filter field %q", f)
		}
	}
	return persp, nil
}

// fold merges rows sharing an entity id. Sums add up; the CPM mean is
// re-weighted by matched row counts so it stays a plain mean over facts.
func fold(rows []warehouse.Row) []models.EntityAggregate {
	type acc struct {
		agg     models.EntityAggregate
		cpmSum  float64
		matched int64
	}
	byID := make(map[string]*acc, len(rows))
	for _, r := range rows {
		if r.EntityID == "" {
			continue
		}
		a, ok := byID[r.EntityID]
		if !ok {
			a = &acc{agg: models.EntityAggregate{EntityID: r.EntityID}}
			byID[r.EntityID] = a
		}
		if a.agg.DisplayName == "" {
			a.agg.DisplayName = r.DisplayName
		}
		n := r.Matched
		if n <= 0 {
			n = 1
		}
		a.agg.Requests += max0(r.Requests)
		a.agg.Paid += max0(r.Paid)
		a.agg.Revenue += maxf(r.Revenue)
		a.cpmSum += maxf(r.CPM) * float64(n)
		a.matched += n
	}

	out := make([]models.EntityAggregate, 0, len(byID))
	for _, a := range byID {
		if a.matched > 0 {
			a.agg.AvgCPM = a.cpmSum / float64(a.matched)
		}
		out = append(out, a.agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
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
