package warehouse

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AngelCh415/deepdive/internal/filter"
	"github.com/AngelCh415/deepdive/internal/models"
)

func day(s string) time.Time {
	d, _ := time.Parse(models.DateLayout, s)
	return d
}

func fact(date, team, teamName, zone string, req, paid int64, rev, cpm float64) models.Fact {
	return models.Fact{
		Date:     day(date),
		Dims:     map[string]string{"team_id": team, "team_name": teamName, "zone_id": zone},
		Requests: req,
		Paid:     paid,
		Revenue:  rev,
		CPM:      cpm,
	}
}

func TestMemoryGroupsWithinRange(t *testing.T) {
	m := NewMemory()
	m.Upsert(fact("2025-08-01", "t1", "Team One", "z1", 100, 50, 10, 2))
	m.Upsert(fact("2025-08-02", "t1", "Team One", "z2", 100, 30, 20, 4))
	m.Upsert(fact("2025-08-02", "t2", "Team Two", "z3", 10, 5, 1, 9))
	m.Upsert(fact("2025-08-09", "t1", "Team One", "z1", 999, 999, 999, 99))
	// same identity replaces
	m.Upsert(fact("2025-08-01", "t1", "Team One", "z1", 100, 50, 10, 6))
	require.Equal(t, 4, m.Len())

	rows, err := m.QueryAggregates(context.Background(), Query{
		GroupingKey:    "team_id",
		NameExpression: "team_name",
		Range:          models.PeriodRange{Start: day("2025-08-01"), End: day("2025-08-02")},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{EntityID: "t1", DisplayName: "Team One", Requests: 200, Paid: 80, Revenue: 30, CPM: 5, Matched: 2}, rows[0])
	assert.Equal(t, "t2", rows[1].EntityID)
}

func TestMemoryAppliesFilter(t *testing.T) {
	m := NewMemory()
	m.Upsert(fact("2025-08-01", "t1", "A", "z1", 1, 1, 1, 1))
	m.Upsert(fact("2025-08-01", "t1", "A", "z2", 1, 1, 5, 1))
	m.Upsert(fact("2025-08-01", "t2", "B", "z1", 1, 1, 7, 1))

	n := filter.Clause("zone_id", filter.Eq, "z1")
	rows, err := m.QueryAggregates(context.Background(), Query{
		GroupingKey: "team_id",
		Range:       models.PeriodRange{Start: day("2025-08-01"), End: day("2025-08-01")},
		Filter:      &n,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1.0, rows[0].Revenue)
	assert.Equal(t, "t1", rows[0].DisplayName, "falls back to the id column")
}

func TestMemoryFailure(t *testing.T) {
	m := NewMemory()
	boom := errors.New("warehouse down")
	m.Fail(boom)
	_, err := m.QueryAggregates(context.Background(), Query{GroupingKey: "team_id"})
	assert.ErrorIs(t, err, boom)

	m.Fail(nil)
	_, err = m.QueryAggregates(context.Background(), Query{GroupingKey: "team_id"})
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.QueryAggregates(ctx, Query{GroupingKey: "team_id"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPostgresBuildSQL(t *testing.T) {
	p := &Postgres{builder: filter.NewBuilder([]string{"team_id", "pic_id"})}
	n := filter.Clause("team_id", filter.Eq, "t1")
	r := models.PeriodRange{Start: day("2025-08-01"), End: day("2025-08-07")}

	sql, args, err := p.buildSQL(Query{
		Table:          "analytics.ad_daily",
		GroupingKey:    "pic_id",
		NameExpression: "pic_name",
		Range:          r,
		Filter:         &n,
	})
	require.NoError(t, err)
	assert.Contains(t, sql, `FROM "analytics"."ad_daily"`)
	assert.Contains(t, sql, `SELECT "pic_id"::text AS entity_id`)
	assert.Contains(t, sql, `MAX("pic_name"::text)`)
	assert.Contains(t, sql, `AND "team_id" = $3`)
	assert.True(t, strings.HasSuffix(sql, "GROUP BY 1"))
	assert.Equal(t, []any{r.Start, r.End, "t1"}, args)

	_, _, err = p.buildSQL(Query{GroupingKey: "pic_id"})
	assert.Error(t, err)

	bad := filter.Clause("secret", filter.Eq, "x")
	_, _, err = p.buildSQL(Query{Table: "t", GroupingKey: "pic_id", Filter: &bad})
	assert.Error(t, err)
}
