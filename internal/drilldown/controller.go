package drilldown

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AngelCh415/deepdive/internal/cache"
	"github.com/AngelCh415/deepdive/internal/filter"
	"github.com/AngelCh415/deepdive/internal/models"
	"github.com/AngelCh415/deepdive/internal/observability"
	"github.com/AngelCh415/deepdive/internal/perspective"
)

// ErrStaleResult is returned to a caller whose fetch finished after a newer
// request had already been issued; its data was discarded.
var ErrStaleResult = errors.New("result superseded by a newer request")

type Mode string

const (
	ModeTable     Mode = "table"
	ModeSegmented Mode = "segmented"
)

type Breadcrumb struct {
	Perspective perspective.ID          `json:"perspective"`
	GroupingKey perspective.GroupingKey `json:"grouping_key"`
	EntityID    string                  `json:"entity_id"`
	DisplayName string                  `json:"display_name"`
}

// State is the navigation position: what the next fetch will ask for.
type State struct {
	Perspective perspective.ID     `json:"perspective"`
	Path        []Breadcrumb       `json:"path"`
	Scope       filter.Scope       `json:"scope"`
	Selection   filter.Scope       `json:"selection,omitempty"`
	Where       *filter.Node       `json:"where,omitempty"`
	Period1     models.PeriodRange `json:"period1"`
	Period2     models.PeriodRange `json:"period2"`
	Mode        Mode               `json:"mode"`
}

// Segment is one selected entity's independent comparison.
type Segment struct {
	EntityID string                    `json:"entity_id"`
	Records  []models.ComparisonRecord `json:"records"`
	Summary  models.Summary            `json:"summary"`
}

// View is a rendered result together with the state it was computed for.
type View struct {
	State
	Seq       uint64                    `json:"seq"`
	Records   []models.ComparisonRecord `json:"records,omitempty"`
	Summary   models.Summary            `json:"summary"`
	Segments  []Segment                 `json:"segments,omitempty"`
	FromCache bool                      `json:"from_cache"`
	FetchedAt time.Time                 `json:"fetched_at"`
}

type Deps struct {
	Registry *perspective.Registry
	Comparer Comparer
	Cache    *cache.Cache
	Log      *slog.Logger
	Metrics  *observability.Metrics
}

// Controller is one user's drill-down session. Events mutate the navigation
// state synchronously and then load the matching view, from cache when a
// fresh entry exists. Every load takes a sequence number; only the newest
// load may publish its result.
type Controller struct {
	reg     *perspective.Registry
	cmp     Comparer
	cache   *cache.Cache
	log     *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	state   State
	seq     uint64
	view    *View
	lastErr error
}

func NewController(d Deps, start perspective.ID, p1, p2 models.PeriodRange) (*Controller, error) {
	if d.Registry == nil || d.Comparer == nil {
		return nil, models.Invariant("controller needs a registry and a comparer")
	}
	if d.Cache == nil {
		d.Cache = cache.New(cache.DefaultTTL, cache.DefaultCapacity)
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if _, err := d.Registry.Get(start); err != nil {
		return nil, err
	}
	if err := validPeriods(p1, p2); err != nil {
		return nil, err
	}
	c := &Controller{
		reg:     d.Registry,
		cmp:     d.Comparer,
		cache:   d.Cache,
		log:     d.Log,
		metrics: d.Metrics,
		state: State{
			Perspective: start,
			Scope:       filter.Scope{},
			Selection:   filter.Scope{},
			Period1:     p1,
			Period2:     p2,
		},
	}
	c.state.Mode = c.modeLocked()
	return c, nil
}

// State returns a copy of the navigation state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.copy()
}

// View returns the last published view, false before the first load.
func (c *Controller) View() (View, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view == nil {
		return View{}, false
	}
	return *c.view, true
}

// Err is the error of the latest load, nil once a load succeeds.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Refresh reloads the current state; it is the manual retry after a failure.
func (c *Controller) Refresh(ctx context.Context) (View, error) {
	c.mu.Lock()
	p := c.planLocked()
	c.mu.Unlock()
	return c.execute(ctx, p)
}

// DrillDown descends from the current perspective into child, scoped to
// entityID. child must be the current perspective's configured child.
func (c *Controller) DrillDown(ctx context.Context, child perspective.ID, entityID, displayName string) (View, error) {
	c.mu.Lock()
	cur, err := c.reg.Get(c.state.Perspective)
	if err != nil {
		c.mu.Unlock()
		return View{}, err
	}
	if cur.IsLeaf || cur.Child == "" {
		c.mu.Unlock()
		return View{}, models.Invariant("cannot drill down from leaf perspective %q", cur.ID)
	}
	if child != cur.Child {
		c.mu.Unlock()
		return View{}, models.Invariant("%q is not the child of %q (want %q)", child, cur.ID, cur.Child)
	}
	if entityID == "" {
		c.mu.Unlock()
		return View{}, models.Invariant("drill down from %q needs an entity id", cur.ID)
	}
	if _, taken := c.state.Scope[cur.GroupingKey]; taken {
		c.mu.Unlock()
		return View{}, models.Invariant("scope already holds %q", cur.GroupingKey)
	}
	if displayName == "" {
		displayName = entityID
	}

	c.state.Path = append(c.state.Path, Breadcrumb{
		Perspective: cur.ID,
		GroupingKey: cur.GroupingKey,
		EntityID:    entityID,
		DisplayName: displayName,
	})
	c.state.Scope[cur.GroupingKey] = []string{entityID}
	c.state.Perspective = child
	c.state.Mode = c.modeLocked()
	p := c.planLocked()
	c.mu.Unlock()

	c.log.Debug("drill down",
		slog.String("from", string(cur.ID)),
		slog.String("to", string(child)),
		slog.String("entity", entityID))
	return c.execute(ctx, p)
}

// Back pops the last breadcrumb, removing exactly the scope key it added and
// returning to the perspective it was taken from.
func (c *Controller) Back(ctx context.Context) (View, error) {
	c.mu.Lock()
	n := len(c.state.Path)
	if n == 0 {
		c.mu.Unlock()
		return View{}, models.Invariant("already at the root of the drill-down path")
	}
	last := c.state.Path[n-1]
	c.state.Path = c.state.Path[:n-1]
	delete(c.state.Scope, last.GroupingKey)
	c.state.Perspective = last.Perspective
	c.state.Mode = c.modeLocked()
	p := c.planLocked()
	c.mu.Unlock()

	c.log.Debug("drill up", slog.String("to", string(last.Perspective)), slog.Int("depth", n-1))
	return c.execute(ctx, p)
}

// SetPerspective starts a fresh analysis at id, clearing the drill-down path.
func (c *Controller) SetPerspective(ctx context.Context, id perspective.ID) (View, error) {
	if _, err := c.reg.Get(id); err != nil {
		return View{}, err
	}
	c.mu.Lock()
	c.state.Perspective = id
	c.state.Path = nil
	c.state.Scope = filter.Scope{}
	c.state.Mode = c.modeLocked()
	p := c.planLocked()
	c.mu.Unlock()
	return c.execute(ctx, p)
}

func (c *Controller) SetPeriods(ctx context.Context, p1, p2 models.PeriodRange) (View, error) {
	if err := validPeriods(p1, p2); err != nil {
		return View{}, err
	}
	c.mu.Lock()
	c.state.Period1 = p1
	c.state.Period2 = p2
	p := c.planLocked()
	c.mu.Unlock()
	return c.execute(ctx, p)
}

// SetFilters replaces the user's selection and advanced filter tree. The
// parent scope from drill-down is left alone.
func (c *Controller) SetFilters(ctx context.Context, selection filter.Scope, where *filter.Node) (View, error) {
	selection = selection.Canonical()
	if err := c.validFilters(selection, where); err != nil {
		return View{}, err
	}
	c.mu.Lock()
	c.state.Selection = selection
	c.state.Where = where
	c.state.Mode = c.modeLocked()
	p := c.planLocked()
	c.mu.Unlock()
	return c.execute(ctx, p)
}

// Load replaces the whole analysis in one step: perspective, selection and
// filter tree, with the drill-down path cleared. Periods are kept.
func (c *Controller) Load(ctx context.Context, id perspective.ID, selection filter.Scope, where *filter.Node) (View, error) {
	if _, err := c.reg.Get(id); err != nil {
		return View{}, err
	}
	selection = selection.Canonical()
	if err := c.validFilters(selection, where); err != nil {
		return View{}, err
	}
	c.mu.Lock()
	c.state.Perspective = id
	c.state.Path = nil
	c.state.Scope = filter.Scope{}
	c.state.Selection = selection
	c.state.Where = where
	c.state.Mode = c.modeLocked()
	p := c.planLocked()
	c.mu.Unlock()
	return c.execute(ctx, p)
}

func (c *Controller) validFilters(selection filter.Scope, where *filter.Node) error {
	for _, k := range selection.Keys() {
		if _, ok := c.reg.ByGroupingKey(k); !ok {
			return models.Invariant("unknown grouping key %q in selection", k)
		}
	}
	known := map[string]bool{}
	for _, col := range c.reg.Columns() {
		known[col] = true
	}
	for _, f := range where.Fields() {
		if !known[f] {
			return models.Invariant("unknown filter field %q", f)
		}
	}
	return nil
}

// modeLocked is segmented when several entities of the current perspective
// itself are selected.
func (c *Controller) modeLocked() Mode {
	p, err := c.reg.Get(c.state.Perspective)
	if err != nil {
		return ModeTable
	}
	if len(c.state.Selection.Canonical()[p.GroupingKey]) > 1 {
		return ModeSegmented
	}
	return ModeTable
}

type job struct {
	key      string
	entityID string
	req      Request
}

type plan struct {
	seq   uint64
	state State
	jobs  []job
}

func (c *Controller) planLocked() plan {
	c.seq++
	st := c.state.copy()
	p := plan{seq: c.seq, state: st}

	base := Request{
		Perspective: st.Perspective,
		Period1:     st.Period1,
		Period2:     st.Period2,
		Scope:       st.Scope,
		Selection:   st.Selection,
		Where:       st.Where,
	}
	if st.Mode != ModeSegmented {
		p.jobs = []job{{key: c.key(base), req: base}}
		return p
	}
	persp, _ := c.reg.Get(st.Perspective)
	for _, id := range st.Selection.Canonical()[persp.GroupingKey] {
		req := base
		req.Selection = st.Selection.Clone()
		req.Selection[persp.GroupingKey] = []string{id}
		p.jobs = append(p.jobs, job{key: c.key(req), entityID: id, req: req})
	}
	return p
}

func (c *Controller) key(r Request) string {
	return cache.Key(string(r.Perspective), r.Scope, r.Selection, r.Where, r.Period1, r.Period2)
}

// execute serves every job from cache when possible and fetches the rest.
// Nothing is cached or published unless the plan is still the newest.
func (c *Controller) execute(ctx context.Context, p plan) (View, error) {
	entries := make([]cache.Entry, len(p.jobs))
	var missing []int
	for i, j := range p.jobs {
		if e, ok := c.cache.Get(j.key); ok {
			entries[i] = e
			continue
		}
		missing = append(missing, i)
	}

	if len(missing) > 0 {
		fetchedAt := c.cache.Now()
		g, gctx := errgroup.WithContext(ctx)
		for _, i := range missing {
			i := i
			g.Go(func() error {
				cmp, err := c.cmp.Compare(gctx, p.jobs[i].req)
				if err != nil {
					return err
				}
				entries[i] = cache.Entry{Key: p.jobs[i].key, Data: cmp.Records, Summary: cmp.Summary, FetchedAt: fetchedAt}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			c.mu.Lock()
			if p.seq == c.seq {
				c.lastErr = err
			}
			c.mu.Unlock()
			c.log.Warn("comparison fetch failed",
				slog.String("perspective", string(p.state.Perspective)),
				slog.Uint64("seq", p.seq),
				slog.String("err", err.Error()))
			return View{}, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p.seq != c.seq {
		c.metrics.StaleResult()
		c.log.Debug("discarding stale result", slog.Uint64("seq", p.seq), slog.Uint64("latest", c.seq))
		return View{}, ErrStaleResult
	}
	for _, i := range missing {
		c.cache.Put(p.jobs[i].key, entries[i])
	}

	v := View{State: p.state, Seq: p.seq, FromCache: len(missing) == 0}
	if p.state.Mode == ModeSegmented {
		for i, j := range p.jobs {
			v.Segments = append(v.Segments, Segment{EntityID: j.entityID, Records: entries[i].Data, Summary: entries[i].Summary})
			if v.FetchedAt.IsZero() || entries[i].FetchedAt.Before(v.FetchedAt) {
				v.FetchedAt = entries[i].FetchedAt
			}
		}
	} else {
		v.Records = entries[0].Data
		v.Summary = entries[0].Summary
		v.FetchedAt = entries[0].FetchedAt
	}
	c.view = &v
	c.lastErr = nil
	return v, nil
}

func (s State) copy() State {
	out := s
	out.Path = append([]Breadcrumb(nil), s.Path...)
	out.Scope = s.Scope.Clone()
	out.Selection = s.Selection.Clone()
	return out
}

func validPeriods(p1, p2 models.PeriodRange) error {
	if err := p1.Validate(); err != nil {
		return err
	}
	return p2.Validate()
}
