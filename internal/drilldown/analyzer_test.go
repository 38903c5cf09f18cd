package drilldown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AngelCh415/deepdive/internal/aggregator"
	"github.com/AngelCh415/deepdive/internal/filter"
	"github.com/AngelCh415/deepdive/internal/models"
	"github.com/AngelCh415/deepdive/internal/perspective"
	"github.com/AngelCh415/deepdive/internal/warehouse"
)

func seed(wh *warehouse.Memory, date, team, pic string, revenue float64) {
	d, _ := time.Parse(models.DateLayout, date)
	wh.Upsert(models.Fact{
		Date:     d,
		Dims:     map[string]string{"team_id": team, "team_name": "Team " + team, "pic_id": pic},
		Requests: 100,
		Paid:     50,
		Revenue:  revenue,
		CPM:      1,
	})
}

func TestAnalyzerComparesBothPeriods(t *testing.T) {
	wh := warehouse.NewMemory()
	seed(wh, "2025-07-02", "t1", "u1", 400)
	seed(wh, "2025-07-09", "t1", "u1", 800)
	seed(wh, "2025-07-09", "t2", "u2", 150)
	seed(wh, "2025-07-10", "t3", "u3", 50)
	seed(wh, "2025-07-03", "t4", "u4", 10)

	an := NewAnalyzer(aggregator.New(wh, perspective.Default(), "facts", time.Second, nil), nil)
	p1, p2 := periods()
	cmp, err := an.Compare(context.Background(), Request{Perspective: perspective.Team, Period1: p1, Period2: p2})
	require.NoError(t, err)

	byID := map[string]models.ComparisonRecord{}
	for _, r := range cmp.Records {
		byID[r.EntityID] = r
	}
	require.Len(t, byID, 4)
	assert.Equal(t, models.TierA, byID["t1"].Tier)
	assert.Equal(t, models.TierNewB, byID["t2"].Tier)
	assert.Equal(t, models.TierNewC, byID["t3"].Tier)
	assert.Equal(t, models.TierLostA, byID["t4"].Tier)
	require.NotNil(t, byID["t1"].Deltas.RevenuePct)
	assert.Equal(t, 100.0, *byID["t1"].Deltas.RevenuePct)
	assert.Equal(t, 4, cmp.Summary.Entities)

	scoped, err := an.Compare(context.Background(), Request{
		Perspective: perspective.PIC, Period1: p1, Period2: p2,
		Scope: filter.Scope{"team_id": {"t1"}},
	})
	require.NoError(t, err)
	require.Len(t, scoped.Records, 1)
	assert.Equal(t, "u1", scoped.Records[0].EntityID)
}

func TestAnalyzerFailsAsAWhole(t *testing.T) {
	wh := warehouse.NewMemory()
	seed(wh, "2025-07-09", "t1", "u1", 1)
	wh.Fail(errors.New("connection refused"))

	an := NewAnalyzer(aggregator.New(wh, perspective.Default(), "facts", time.Second, nil), nil)
	p1, p2 := periods()
	_, err := an.Compare(context.Background(), Request{Perspective: perspective.Team, Period1: p1, Period2: p2})
	var ds *models.DataSourceError
	require.True(t, errors.As(err, &ds))
	assert.Contains(t, err.Error(), "connection refused")
}
