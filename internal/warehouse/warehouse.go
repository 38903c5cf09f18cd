package warehouse

import (
	"context"

	"github.com/AngelCh415/deepdive/internal/filter"
	"github.com/AngelCh415/deepdive/internal/models"
)

// Query asks for one aggregate row per distinct GroupingKey value over the
// inclusive Range, restricted by Filter.
type Query struct {
	Table          string
	GroupingKey    string
	NameExpression string
	Range          models.PeriodRange
	Filter         *filter.Node
}

// Row is one entity's totals. CPM is the mean of per-fact CPM over Matched facts.
type Row struct {
	EntityID    string
	DisplayName string
	Requests    int64
	Paid        int64
	Revenue     float64
	CPM         float64
	Matched     int64
}

type Warehouse interface {
	QueryAggregates(ctx context.Context, q Query) ([]Row, error)
}

// Fixed fact columns. Dimension columns come from the perspective registry.
const (
	ColDate     = "date"
	ColRequests = "requests"
	ColPaid     = "paid"
	ColRevenue  = "revenue"
	ColCPM      = "cpm"
)
