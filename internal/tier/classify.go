package tier

import (
	"sort"

	"github.com/AngelCh415/deepdive/internal/metrics"
	"github.com/AngelCh415/deepdive/internal/models"
)

const (
	// Cumulative share bounds. The entity that reaches or crosses a bound
	// still belongs to the tier it completes.
	BoundA = 0.80
	BoundB = 0.95

	// epsilon absorbs float drift in running sums so that a share of exactly
	// 0.8 computed as 0.7999999999999999 is still treated as complete.
	epsilon = 1e-9
)

// Classify sets Tier on every record and returns records.
//
// Existing and new entities are ranked together by period-2 revenue; lost
// entities are ranked among themselves by period-1 revenue. Within a group
// records are walked in descending revenue (ties by entity id). An entity is
// A while the share accumulated before it is below 80%, B while below 95%,
// C afterwards; so the entity whose inclusion completes 80% is the last A and
// a lone entity holding 100% is A. A group with zero total revenue is all C.
func Classify(records []models.ComparisonRecord) []models.ComparisonRecord {
	var current, lost []int
	for i := range records {
		if records[i].Lifecycle == models.LifecycleLost {
			lost = append(lost, i)
		} else {
			current = append(current, i)
		}
	}
	assign(records, current)
	assign(records, lost)
	return records
}

func assign(records []models.ComparisonRecord, idx []int) {
	if len(idx) == 0 {
		return
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := records[idx[a]], records[idx[b]]
		va, vb := nonNeg(ra.RankingRevenue()), nonNeg(rb.RankingRevenue())
		if va != vb {
			return va > vb
		}
		return ra.EntityID < rb.EntityID
	})

	var total float64
	for _, i := range idx {
		total += nonNeg(records[i].RankingRevenue())
	}

	var cumulative float64
	for _, i := range idx {
		r := &records[i]
		if total <= 0 {
			r.Tier = label(r.Lifecycle, models.TierC)
			continue
		}
		r.Tier = label(r.Lifecycle, Band(metrics.Share(cumulative, total)))
		cumulative += nonNeg(r.RankingRevenue())
	}
}

// Band maps the cumulative share held by higher-ranked entities to a tier.
func Band(prior float64) models.Tier {
	switch {
	case prior < BoundA-epsilon:
		return models.TierA
	case prior < BoundB-epsilon:
		return models.TierB
	default:
		return models.TierC
	}
}

func label(l models.Lifecycle, base models.Tier) models.Tier {
	switch l {
	case models.LifecycleNew:
		return models.Tier("NEW-" + string(base))
	case models.LifecycleLost:
		return models.Tier("LOST-" + string(base))
	}
	return base
}

func nonNeg(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}

// Summarize totals a classified comparison.
func Summarize(records []models.ComparisonRecord) models.Summary {
	s := models.Summary{
		Entities:   len(records),
		TierCounts: map[models.Tier]int{},
		Lifecycle:  map[models.Lifecycle]int{},
	}
	for _, r := range records {
		if r.Tier != "" {
			s.TierCounts[r.Tier]++
		}
		s.Lifecycle[r.Lifecycle]++
		if r.Period1 != nil {
			s.Revenue1 += r.Period1.Revenue
			s.Requests1 += r.Period1.Requests
		}
		if r.Period2 != nil {
			s.Revenue2 += r.Period2.Revenue
			s.Requests2 += r.Period2.Requests
		}
		switch r.Lifecycle {
		case models.LifecycleNew:
			s.NewRevenue += r.Period2.Revenue
		case models.LifecycleLost:
			s.LostRevenue += r.Period1.Revenue
		}
	}
	s.RevenuePct = metrics.PctChange(s.Revenue1, s.Revenue2)
	return s
}
