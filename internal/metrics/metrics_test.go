package metrics

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AngelCh415/deepdive/internal/models"
)

func TestPctChange(t *testing.T) {
	p := PctChange(100, 150)
	require.NotNil(t, p)
	assert.Equal(t, 50.0, *p)

	p = PctChange(200, 50)
	require.NotNil(t, p)
	assert.Equal(t, -75.0, *p)

	assert.Nil(t, PctChange(0, 50), "zero baseline is a new spike, not Inf")

	p = PctChange(0, 0)
	require.NotNil(t, p)
	assert.Equal(t, 0.0, *p)

	p = PctChange(3, 4)
	require.NotNil(t, p)
	assert.Equal(t, 33.33, *p)
}

func TestShare(t *testing.T) {
	assert.Equal(t, 0.0, Share(5, 0))
	assert.Equal(t, 0.25, Share(25, 100))
	assert.Equal(t, 1.0, Share(150, 100))
}

func rec(id, name string, rev float64, tier models.Tier, status models.Lifecycle, delta *float64) models.ComparisonRecord {
	r := models.ComparisonRecord{EntityID: id, DisplayName: name, Tier: tier, Lifecycle: status}
	agg := &models.EntityAggregate{EntityID: id, Revenue: rev}
	if status == models.LifecycleLost {
		r.Period1 = agg
	} else {
		r.Period2 = agg
	}
	r.Deltas.RevenuePct = delta
	return r
}

func f(v float64) *float64 { return &v }

func ids(p Page) []string {
	var out []string
	for _, r := range p.Records {
		out = append(out, r.EntityID)
	}
	return out
}

func TestTableQueryApply(t *testing.T) {
	records := []models.ComparisonRecord{
		rec("e1", "Echo", 500, models.TierA, models.LifecycleExisting, f(10)),
		rec("e2", "alpha", 300, models.TierNewA, models.LifecycleNew, nil),
		rec("e3", "Bravo", 300, models.TierB, models.LifecycleExisting, f(-20)),
		rec("e4", "delta", 900, models.TierLostA, models.LifecycleLost, f(-100)),
		rec("e5", "Charlie", 10, models.TierC, models.LifecycleExisting, f(0)),
	}

	page := ParseTableQuery(url.Values{}).Apply(records)
	assert.Equal(t, []string{"e4", "e1", "e2", "e3", "e5"}, ids(page), "revenue desc, ties by id")
	assert.Equal(t, 5, page.Total)

	page = ParseTableQuery(url.Values{"tier": {"a"}}).Apply(records)
	assert.Equal(t, []string{"e4", "e1", "e2"}, ids(page))

	page = ParseTableQuery(url.Values{"tier": {"NEW-A, c"}}).Apply(records)
	assert.Equal(t, []string{"e2", "e5"}, ids(page))

	page = ParseTableQuery(url.Values{"status": {"existing"}, "sort": {"delta_desc"}}).Apply(records)
	assert.Equal(t, []string{"e1", "e5", "e3"}, ids(page))

	page = ParseTableQuery(url.Values{"sort": {"delta_desc"}}).Apply(records)
	assert.Equal(t, []string{"e2", "e1", "e5", "e3", "e4"}, ids(page))

	page = ParseTableQuery(url.Values{"sort": {"name_asc"}, "limit": {"2"}, "offset": {"1"}}).Apply(records)
	assert.Equal(t, []string{"e3", "e5"}, ids(page))
	assert.Equal(t, 2, page.Limit)
	assert.Equal(t, 1, page.Offset)

	page = ParseTableQuery(url.Values{"offset": {"50"}}).Apply(records)
	assert.Empty(t, page.Records)
	assert.Equal(t, 5, page.Total)
}
