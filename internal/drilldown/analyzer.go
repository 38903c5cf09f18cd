package drilldown

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AngelCh415/deepdive/internal/aggregator"
	"github.com/AngelCh415/deepdive/internal/compare"
	"github.com/AngelCh415/deepdive/internal/filter"
	"github.com/AngelCh415/deepdive/internal/models"
	"github.com/AngelCh415/deepdive/internal/observability"
	"github.com/AngelCh415/deepdive/internal/perspective"
	"github.com/AngelCh415/deepdive/internal/tier"
)

// Request is everything one comparison depends on.
type Request struct {
	Perspective perspective.ID
	Period1     models.PeriodRange
	Period2     models.PeriodRange
	Scope       filter.Scope
	Selection   filter.Scope
	Where       *filter.Node
}

type Comparison struct {
	Records []models.ComparisonRecord
	Summary models.Summary
}

// Comparer runs the aggregate → merge → classify pipeline.
type Comparer interface {
	Compare(ctx context.Context, req Request) (Comparison, error)
}

type Analyzer struct {
	agg     *aggregator.Aggregator
	metrics *observability.Metrics
}

func NewAnalyzer(agg *aggregator.Aggregator, m *observability.Metrics) *Analyzer {
	return &Analyzer{agg: agg, metrics: m}
}

// Compare fetches both periods concurrently and only merges once both
// succeeded; any failure fails the whole comparison.
func (a *Analyzer) Compare(ctx context.Context, req Request) (Comparison, error) {
	start := time.Now()
	var p1, p2 []models.EntityAggregate
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		p1, err = a.agg.Aggregate(gctx, a.params(req, req.Period1))
		return err
	})
	g.Go(func() error {
		var err error
		p2, err = a.agg.Aggregate(gctx, a.params(req, req.Period2))
		return err
	})
	err := g.Wait()
	a.metrics.Fetch(err, time.Since(start))
	if err != nil {
		return Comparison{}, err
	}

	records := tier.Classify(compare.Merge(p1, p2))
	return Comparison{Records: records, Summary: tier.Summarize(records)}, nil
}

func (a *Analyzer) params(req Request, r models.PeriodRange) aggregator.Params {
	return aggregator.Params{
		Perspective: req.Perspective,
		Range:       r,
		Scope:       req.Scope,
		Selection:   req.Selection,
		Where:       req.Where,
	}
}
