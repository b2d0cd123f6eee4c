package pipeline

import (
	"context"

	"github.com/terra-clan/pricing-arena/internal/catalog"
	"github.com/terra-clan/pricing-arena/internal/models"
)

// Result is everything derived from one submission
type Result struct {
	Rows       []models.PriceRow
	Demands    []models.DemandRow
	Score      int64
	DemandText string
}

// Pipeline runs a submission through parse, align, estimate and score
type Pipeline struct {
	catalog   *catalog.Catalog
	estimator *Estimator
}

// New creates a pipeline over a loaded catalog
func New(cat *catalog.Catalog, estimator *Estimator) *Pipeline {
	return &Pipeline{catalog: cat, estimator: estimator}
}

// Catalog returns the catalog submissions are scored against
func (p *Pipeline) Catalog() *catalog.Catalog {
	return p.catalog
}

// Run scores text against the given prediction functions. It has no side effects.
func (p *Pipeline) Run(ctx context.Context, text string, fns []*models.PredictionFunction) (*Result, error) {
	rows, err := ParseSubmission(text, p.catalog.Len())
	if err != nil {
		return nil, err
	}

	if err := CheckAlignment(p.catalog, rows); err != nil {
		return nil, err
	}

	demands, err := p.estimator.Estimate(ctx, p.catalog, rows, fns)
	if err != nil {
		return nil, err
	}

	prices := make([]int, len(rows))
	units := make([]int, len(demands))
	for i := range rows {
		prices[i] = rows[i].Price
		units[i] = demands[i].Demand
	}

	score, err := Score(prices, units, p.catalog.Costs())
	if err != nil {
		return nil, err
	}

	return &Result{
		Rows:       rows,
		Demands:    demands,
		Score:      score,
		DemandText: Serialize(demands),
	}, nil
}

// CheckPredictor verifies that source compiles and runs against the catalog
func (p *Pipeline) CheckPredictor(ctx context.Context, name, source string) error {
	return p.estimator.Check(ctx, p.catalog, name, source)
}
