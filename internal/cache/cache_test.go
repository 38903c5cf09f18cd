package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AngelCh415/deepdive/internal/filter"
	"github.com/AngelCh415/deepdive/internal/models"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

type counter struct{ hits, misses, evictions int }

func (c *counter) CacheHit()   { c.hits++ }
func (c *counter) CacheMiss()  { c.misses++ }
func (c *counter) CacheEvict() { c.evictions++ }

func TestGetHonoursTTL(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)}
	obs := &counter{}
	c := New(5*time.Minute, 10, WithClock(clk.Now), WithObserver(obs))

	c.Put("k", Entry{Data: []models.ComparisonRecord{{EntityID: "a"}}})
	e, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "k", e.Key)
	assert.Equal(t, clk.t, e.FetchedAt)

	clk.Advance(5*time.Minute - time.Second)
	_, ok = c.Get("k")
	assert.True(t, ok, "still fresh just under the TTL")

	clk.Advance(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok, "stale at exactly the TTL")
	assert.Equal(t, 0, c.Len(), "stale entries are dropped on read")

	assert.Equal(t, 2, obs.hits)
	assert.Equal(t, 1, obs.misses)
}

func TestPutEvictsLeastRecentlyUsed(t *testing.T) {
	obs := &counter{}
	c := New(time.Hour, 2, WithObserver(obs))
	c.Put("a", Entry{})
	c.Put("b", Entry{})
	_, _ = c.Get("a")
	c.Put("c", Entry{})

	_, okA := c.Get("a")
	_, okB := c.Get("b")
	_, okC := c.Get("c")
	assert.True(t, okA)
	assert.False(t, okB, "b was least recently used")
	assert.True(t, okC)
	assert.Equal(t, 1, obs.evictions)

	c.Put("a", Entry{Summary: models.Summary{Entities: 9}})
	e, _ := c.Get("a")
	assert.Equal(t, 9, e.Summary.Entities)
	assert.Equal(t, 2, c.Len())

	c.Delete("a")
	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestKeyIsOrderIndependent(t *testing.T) {
	p1 := models.PeriodRange{Start: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 7, 7, 0, 0, 0, 0, time.UTC)}
	p2 := models.PeriodRange{Start: time.Date(2025, 7, 8, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC)}

	a := filter.Scope{}
	a["team_id"] = []string{"1"}
	a["pic_id"] = []string{"2"}
	b := filter.Scope{}
	b["pic_id"] = []string{"2"}
	b["team_id"] = []string{"1"}

	ka := Key("pid", a, nil, nil, p1, p2)
	kb := Key("pid", b, nil, nil, p1, p2)
	assert.Equal(t, ka, kb)
	assert.Equal(t, `pid_{"pic_id":["2"],"team_id":["1"]}_2025-07-01_2025-07-07_2025-07-08_2025-07-14`, ka)

	sel1 := Key("team", nil, filter.Scope{"team_id": {"b", "a"}}, nil, p1, p2)
	sel2 := Key("team", nil, filter.Scope{"team_id": {"a", "b"}}, nil, p1, p2)
	assert.Equal(t, sel1, sel2)
	assert.NotEqual(t, Key("team", filter.Scope{"team_id": {"a"}}, nil, nil, p1, p2),
		Key("team", nil, filter.Scope{"team_id": {"a"}}, nil, p1, p2),
		"scope and selection are distinct")

	w := filter.Clause("zone_id", filter.Eq, "z")
	assert.NotEqual(t, ka, Key("pid", a, nil, &w, p1, p2))
	assert.NotEqual(t, ka, Key("pid", a, nil, nil, p2, p1))
	assert.NotEqual(t, ka, Key("mid", a, nil, nil, p1, p2))
}
