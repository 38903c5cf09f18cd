package compare

import (
	"sort"

	"github.com/AngelCh415/deepdive/internal/metrics"
	"github.com/AngelCh415/deepdive/internal/models"
)

// Merge full-outer-joins the baseline (p1) and current (p2) aggregates on
// entity id. Output is ordered by entity id; callers re-sort as they need.
// Duplicate ids within one period keep the last occurrence.
func Merge(p1, p2 []models.EntityAggregate) []models.ComparisonRecord {
	base := index(p1)
	cur := index(p2)

	ids := make([]string, 0, len(base)+len(cur))
	for id := range base {
		ids = append(ids, id)
	}
	for id := range cur {
		if _, ok := base[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]models.ComparisonRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, Record(base[id], cur[id]))
	}
	return out
}

// Record builds one comparison from an optional baseline and current aggregate.
// At least one of a1, a2 must be non-nil. A missing side counts as all zeros,
// so a lost entity drops by 100% and a new one is a spike.
func Record(a1, a2 *models.EntityAggregate) models.ComparisonRecord {
	r := models.ComparisonRecord{Period1: a1, Period2: a2}
	switch {
	case a1 != nil && a2 != nil:
		r.EntityID = a2.EntityID
		r.Lifecycle = models.LifecycleExisting
		r.DisplayName = a2.DisplayName
		if r.DisplayName == "" {
			r.DisplayName = a1.DisplayName
		}
		r.Deltas = Deltas(*a1, *a2)
	case a2 != nil:
		r.EntityID = a2.EntityID
		r.Lifecycle = models.LifecycleNew
		r.DisplayName = a2.DisplayName
		r.Deltas = Deltas(models.EntityAggregate{}, *a2)
	case a1 != nil:
		r.EntityID = a1.EntityID
		r.Lifecycle = models.LifecycleLost
		r.DisplayName = a1.DisplayName
		r.Deltas = Deltas(*a1, models.EntityAggregate{})
	}
	if r.DisplayName == "" {
		r.DisplayName = r.EntityID
	}
	return r
}

// Deltas compares two aggregates of the same entity.
func Deltas(a1, a2 models.EntityAggregate) models.Deltas {
	return models.Deltas{
		RevenuePct:  metrics.PctChange(a1.Revenue, a2.Revenue),
		RequestsPct: metrics.PctChange(float64(a1.Requests), float64(a2.Requests)),
		CPMPct:      metrics.PctChange(a1.AvgCPM, a2.AvgCPM),
		FillRatePct: metrics.PctChange(a1.FillRate(), a2.FillRate()),
	}
}

func index(aggs []models.EntityAggregate) map[string]*models.EntityAggregate {
	m := make(map[string]*models.EntityAggregate, len(aggs))
	for i := range aggs {
		a := aggs[i]
		if a.EntityID == "" {
			continue
		}
		m[a.EntityID] = &a
	}
	return m
}
