package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AngelCh415/deepdive/internal/drilldown"
	"github.com/AngelCh415/deepdive/internal/models"
	"github.com/AngelCh415/deepdive/internal/observability"
	"github.com/AngelCh415/deepdive/internal/perspective"
)

type countingComparer struct{ n int }

func (c *countingComparer) Compare(ctx context.Context, req drilldown.Request) (drilldown.Comparison, error) {
	c.n++
	return drilldown.Comparison{}, nil
}

func periods(t *testing.T) (models.PeriodRange, models.PeriodRange) {
	t.Helper()
	p1, err := models.NewPeriodRange("2025-06-01", "2025-06-30")
	require.NoError(t, err)
	p2, err := models.NewPeriodRange("2025-07-01", "2025-07-31")
	require.NoError(t, err)
	return p1, p2
}

func TestManagerLifecycle(t *testing.T) {
	mgr := NewManager(perspective.Default(), &countingComparer{}, nil, observability.New(prometheus.NewRegistry()), Options{})
	p1, p2 := periods(t)

	id, ctl, err := mgr.Create(perspective.Team, p1, p2)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, 1, mgr.Len())

	got, err := mgr.Lookup(id.String())
	require.NoError(t, err)
	assert.Same(t, ctl, got)

	_, err = mgr.Lookup("not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = mgr.Get(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mgr.Delete(id))
	assert.ErrorIs(t, mgr.Delete(id), ErrNotFound)
	assert.Equal(t, 0, mgr.Len())
}

func TestSessionsHaveIndependentCaches(t *testing.T) {
	cmp := &countingComparer{}
	mgr := NewManager(perspective.Default(), cmp, nil, nil, Options{})
	p1, p2 := periods(t)
	ctx := context.Background()

	_, a, err := mgr.Create(perspective.Team, p1, p2)
	require.NoError(t, err)
	_, b, err := mgr.Create(perspective.Team, p1, p2)
	require.NoError(t, err)

	_, err = a.Refresh(ctx)
	require.NoError(t, err)
	v, err := b.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, v.FromCache)
	assert.Equal(t, 2, cmp.n)
}

func TestCreateRejectsUnknownPerspective(t *testing.T) {
	mgr := NewManager(perspective.Default(), &countingComparer{}, nil, nil, Options{})
	p1, p2 := periods(t)
	_, _, err := mgr.Create("country", p1, p2)
	require.Error(t, err)
	assert.Equal(t, 0, mgr.Len())
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCapacityClosesLeastRecentlyUsed(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)}
	reg := prometheus.NewRegistry()
	m := observability.New(reg)
	mgr := NewManager(perspective.Default(), &countingComparer{}, nil, m, Options{MaxSessions: 2, Clock: clk.Now})
	p1, p2 := periods(t)

	a, _, err := mgr.Create(perspective.Team, p1, p2)
	require.NoError(t, err)
	clk.Advance(time.Minute)
	b, _, err := mgr.Create(perspective.Team, p1, p2)
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = mgr.Get(a)
	require.NoError(t, err, "touching a makes b the oldest")

	c, _, err := mgr.Create(perspective.Team, p1, p2)
	require.NoError(t, err)
	assert.Equal(t, 2, mgr.Len())
	_, err = mgr.Get(b)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = mgr.Get(a)
	assert.NoError(t, err)
	_, err = mgr.Get(c)
	assert.NoError(t, err)
}

func TestIdleSessionsExpire(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)}
	mgr := NewManager(perspective.Default(), &countingComparer{}, nil, nil, Options{IdleTTL: 10 * time.Minute, Clock: clk.Now})
	p1, p2 := periods(t)

	old, _, err := mgr.Create(perspective.Team, p1, p2)
	require.NoError(t, err)
	clk.Advance(9 * time.Minute)
	_, err = mgr.Get(old)
	require.NoError(t, err)

	clk.Advance(9 * time.Minute)
	fresh, _, err := mgr.Create(perspective.Team, p1, p2)
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = mgr.Get(old)
	assert.ErrorIs(t, err, ErrNotFound, "idle for 10 minutes")
	_, err = mgr.Get(fresh)
	assert.NoError(t, err)
	assert.Equal(t, 1, mgr.Len())
}
