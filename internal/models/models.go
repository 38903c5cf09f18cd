package models

import (
	"encoding/json"
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// PeriodRange is an inclusive [Start, End] day range.
type PeriodRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewPeriodRange(start, end string) (PeriodRange, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return PeriodRange{}, fmt.Errorf("bad start date %q: %w", start, err)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return PeriodRange{}, fmt.Errorf("bad end date %q: %w", end, err)
	}
	r := PeriodRange{Start: s, End: e}
	return r, r.Validate()
}

func (r PeriodRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return Invariant("period range requires both start and end")
	}
	if Day(r.Start).After(Day(r.End)) {
		return Invariant("period start %s is after end %s", r.Start.Format(DateLayout), r.End.Format(DateLayout))
	}
	return nil
}

func (r PeriodRange) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(Day(r.Start)) && !d.After(Day(r.End))
}

// Days is the inclusive length of the range.
func (r PeriodRange) Days() int {
	return int(Day(r.End).Sub(Day(r.Start)).Hours()/24) + 1
}

func (r PeriodRange) String() string {
	return r.Start.Format(DateLayout) + "_" + r.End.Format(DateLayout)
}

type periodJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// MarshalJSON writes the range as two calendar dates.
func (r PeriodRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(periodJSON{Start: r.Start.Format(DateLayout), End: r.End.Format(DateLayout)})
}

// UnmarshalJSON accepts {"start":"YYYY-MM-DD","end":"YYYY-MM-DD"} and
// rejects inverted ranges.
func (r *PeriodRange) UnmarshalJSON(b []byte) error {
	var p periodJSON
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	pr, err := NewPeriodRange(p.Start, p.End)
	if err != nil {
		return err
	}
	*r = pr
	return nil
}

// Fact is one warehouse row: a day of traffic for one leaf combination of dimensions.
type Fact struct {
	Date     time.Time
	Dims     map[string]string
	Requests int64
	Paid     int64
	Revenue  float64
	CPM      float64
}

type EntityAggregate struct {
	EntityID    string  `json:"entity_id"`
	DisplayName string  `json:"display_name"`
	Requests    int64   `json:"requests"`
	Paid        int64   `json:"paid"`
	Revenue     float64 `json:"revenue"`
	AvgCPM      float64 `json:"avg_cpm"`
}

// FillRate is paid/requests, 0 when nothing was requested.
func (a EntityAggregate) FillRate() float64 {
	if a.Requests <= 0 {
		return 0
	}
	return float64(a.Paid) / float64(a.Requests)
}

type Lifecycle string

const (
	LifecycleExisting Lifecycle = "existing"
	LifecycleNew      Lifecycle = "new"
	LifecycleLost     Lifecycle = "lost"
)

type Tier string

const (
	TierA     Tier = "A"
	TierB     Tier = "B"
	TierC     Tier = "C"
	TierNewA  Tier = "NEW-A"
	TierNewB  Tier = "NEW-B"
	TierNewC  Tier = "NEW-C"
	TierLostA Tier = "LOST-A"
	TierLostB Tier = "LOST-B"
	TierLostC Tier = "LOST-C"
)

// Base strips the NEW-/LOST- prefix.
func (t Tier) Base() Tier {
	switch t {
	case TierNewA, TierLostA:
		return TierA
	case TierNewB, TierLostB:
		return TierB
	case TierNewC, TierLostC:
		return TierC
	}
	return t
}

// Deltas are percentage changes from period 1 to period 2.
// A nil field is the "new spike" case: zero baseline, positive current value.
type Deltas struct {
	RevenuePct  *float64 `json:"revenue_pct"`
	RequestsPct *float64 `json:"requests_pct"`
	CPMPct      *float64 `json:"cpm_pct"`
	FillRatePct *float64 `json:"fill_rate_pct"`
}

type ComparisonRecord struct {
	EntityID    string           `json:"entity_id"`
	DisplayName string           `json:"display_name"`
	Period1     *EntityAggregate `json:"period1"`
	Period2     *EntityAggregate `json:"period2"`
	Lifecycle   Lifecycle        `json:"lifecycle_status"`
	Deltas      Deltas           `json:"deltas"`
	Tier        Tier             `json:"tier"`
}

// RankingRevenue is the revenue used to tier the record: period 1 for lost
// entities, period 2 otherwise.
func (r ComparisonRecord) RankingRevenue() float64 {
	if r.Lifecycle == LifecycleLost {
		if r.Period1 == nil {
			return 0
		}
		return r.Period1.Revenue
	}
	if r.Period2 == nil {
		return 0
	}
	return r.Period2.Revenue
}

type Summary struct {
	Entities    int               `json:"entities"`
	TierCounts  map[Tier]int      `json:"tier_counts"`
	Lifecycle   map[Lifecycle]int `json:"lifecycle_counts"`
	Revenue1    float64           `json:"revenue_period1"`
	Revenue2    float64           `json:"revenue_period2"`
	Requests1   int64             `json:"requests_period1"`
	Requests2   int64             `json:"requests_period2"`
	RevenuePct  *float64          `json:"revenue_pct"`
	NewRevenue  float64           `json:"new_revenue"`
	LostRevenue float64           `json:"lost_revenue"`
}

func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
