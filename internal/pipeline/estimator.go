package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/terra-clan/pricing-arena/internal/catalog"
	"github.com/terra-clan/pricing-arena/internal/models"
	"github.com/terra-clan/pricing-arena/internal/sandbox"
)

// Predictor is a materialized demand model
type Predictor interface {
	Name() string
	Evaluate(ctx context.Context, items []models.CatalogItem, rows []models.PriceRow) ([]float64, error)
}

// Compiler materializes stored predictor sources
type Compiler interface {
	Compile(ctx context.Context, name, source string) (Predictor, error)
}

type sandboxCompiler struct {
	evaluator *sandbox.Evaluator
}

func (c sandboxCompiler) Compile(ctx context.Context, name, source string) (Predictor, error) {
	prog, err := c.evaluator.Compile(ctx, name, source)
	if err != nil {
		return nil, err
	}
	return prog, nil
}

type isolatedCompiler struct {
	evaluator *sandbox.IsolatedEvaluator
}

func (c isolatedCompiler) Compile(ctx context.Context, name, source string) (Predictor, error) {
	prog, err := c.evaluator.Compile(ctx, name, source)
	if err != nil {
		return nil, err
	}
	return prog, nil
}

// Estimator averages the demand predicted by every registered function
type Estimator struct {
	compiler Compiler
}

// NewEstimator creates an estimator that runs predictors in the sandbox
func NewEstimator(evaluator *sandbox.Evaluator) *Estimator {
	return &Estimator{compiler: sandboxCompiler{evaluator: evaluator}}
}

// NewIsolatedEstimator creates an estimator that runs each predictor in a worker process
func NewIsolatedEstimator(evaluator *sandbox.IsolatedEvaluator) *Estimator {
	return &Estimator{compiler: isolatedCompiler{evaluator: evaluator}}
}

// NewEstimatorWithCompiler creates an estimator backed by an arbitrary compiler
func NewEstimatorWithCompiler(c Compiler) *Estimator {
	return &Estimator{compiler: c}
}

// Estimate evaluates every function against the catalog and the submitted rows
// and returns the per-product mean, truncated toward zero.
func (e *Estimator) Estimate(
	ctx context.Context,
	cat *catalog.Catalog,
	rows []models.PriceRow,
	fns []*models.PredictionFunction,
) ([]models.DemandRow, error) {
	if len(fns) == 0 {
		return nil, ErrNoPredictors
	}
	if len(rows) != cat.Len() {
		return nil, fmt.Errorf("%w: %w: %d rows for %d products", ErrEstimation, ErrAlignment, len(rows), cat.Len())
	}

	items := cat.Items()
	estimates := mat.NewDense(len(rows), len(fns), nil)

	for j, fn := range fns {
		start := time.Now()

		predictor, err := e.compiler.Compile(ctx, fn.Username, fn.Source)
		if err != nil {
			return nil, fmt.Errorf("%w: predictor of %q: %w", ErrEstimation, fn.Username, err)
		}

		demand, err := predictor.Evaluate(ctx, items, rows)
		if err != nil {
			return nil, fmt.Errorf("%w: predictor of %q: %w", ErrEstimation, fn.Username, err)
		}
		if len(demand) != len(rows) {
			return nil, fmt.Errorf("%w: predictor of %q returned %d values for %d rows",
				ErrEstimation, fn.Username, len(demand), len(rows))
		}

		estimates.SetCol(j, demand)

		slog.Debug("predictor evaluated",
			"owner", fn.Username,
			"revision", fn.Revision,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	demands := make([]models.DemandRow, len(rows))
	row := make([]float64, len(fns))
	for i := range rows {
		mat.Row(row, i, estimates)
		mean := math.Trunc(stat.Mean(row, nil))
		if math.IsNaN(mean) || mean < float64(math.MinInt) || mean >= float64(math.MaxInt) {
			return nil, fmt.Errorf("%w: demand %g for %s is out of range", ErrEstimation, mean, rows[i].ProductID)
		}
		demands[i] = models.DemandRow{
			ProductID: rows[i].ProductID,
			Demand:    int(mean),
		}
	}

	return demands, nil
}

// Check compiles source and runs it once on the first catalog item at its
// list price, so broken functions are rejected at upload time.
func (e *Estimator) Check(ctx context.Context, cat *catalog.Catalog, name, source string) error {
	predictor, err := e.compiler.Compile(ctx, name, source)
	if err != nil {
		return err
	}
	if cat.Len() == 0 {
		return nil
	}

	first := cat.Item(0)
	row := models.PriceRow{ProductID: first.ProductID, Price: first.Price}
	if _, err := predictor.Evaluate(ctx, []models.CatalogItem{first}, []models.PriceRow{row}); err != nil {
		return err
	}
	return nil
}
