package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/pricing-arena/internal/models"
	"github.com/terra-clan/pricing-arena/internal/sandbox"
)

// vectorPredictor returns fixed values regardless of input
type vectorPredictor struct {
	name   string
	values []float64
	err    error
}

func (p vectorPredictor) Name() string { return p.name }

func (p vectorPredictor) Evaluate(_ context.Context, _ []models.CatalogItem, _ []models.PriceRow) ([]float64, error) {
	return p.values, p.err
}

// fakeCompiler maps a source string to a predictor
type fakeCompiler map[string]Predictor

func (c fakeCompiler) Compile(_ context.Context, name, source string) (Predictor, error) {
	p, ok := c[source]
	if !ok {
		return nil, errors.New("unknown source")
	}
	return p, nil
}

var pricesAB = []models.PriceRow{{ProductID: "A", Price: 12}, {ProductID: "B", Price: 18}}

func TestEstimateMeanOfTwo(t *testing.T) {
	est := NewEstimatorWithCompiler(fakeCompiler{
		"two":  vectorPredictor{name: "two", values: []float64{2, 2}},
		"four": vectorPredictor{name: "four", values: []float64{4, 4}},
	})

	demands, err := est.Estimate(context.Background(), twoItemCatalog(t), pricesAB, []*models.PredictionFunction{
		{Username: "u1", Source: "two"},
		{Username: "u2", Source: "four"},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.DemandRow{{ProductID: "A", Demand: 3}, {ProductID: "B", Demand: 3}}, demands)
}

func TestEstimateSinglePredictorIsIdentity(t *testing.T) {
	est := NewEstimatorWithCompiler(fakeCompiler{
		"frac": vectorPredictor{values: []float64{2.9, -2.9}},
	})

	demands, err := est.Estimate(context.Background(), twoItemCatalog(t), pricesAB, []*models.PredictionFunction{
		{Username: "u1", Source: "frac"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, demands[0].Demand)
	assert.Equal(t, -2, demands[1].Demand)
}

func TestEstimateTruncatesMean(t *testing.T) {
	est := NewEstimatorWithCompiler(fakeCompiler{
		"one": vectorPredictor{values: []float64{1, 0}},
		"two": vectorPredictor{values: []float64{2, 1}},
	})

	demands, err := est.Estimate(context.Background(), twoItemCatalog(t), pricesAB, []*models.PredictionFunction{
		{Username: "u1", Source: "one"},
		{Username: "u2", Source: "two"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, demands[0].Demand)
	assert.Equal(t, 0, demands[1].Demand)
}

func TestEstimateRejectsDemandOutsideIntRange(t *testing.T) {
	est := NewEstimatorWithCompiler(fakeCompiler{
		"huge":     vectorPredictor{values: []float64{1e300, 1}},
		"negative": vectorPredictor{values: []float64{1, -1e19}},
	})

	for _, source := range []string{"huge", "negative"} {
		_, err := est.Estimate(context.Background(), twoItemCatalog(t), pricesAB, []*models.PredictionFunction{
			{Username: "u1", Source: source},
		})
		assert.ErrorIs(t, err, ErrEstimation, source)
	}
}

func TestEstimateErrors(t *testing.T) {
	est := NewEstimatorWithCompiler(fakeCompiler{
		"ok":     vectorPredictor{values: []float64{1, 1}},
		"broken": vectorPredictor{err: errors.New("boom")},
		"short":  vectorPredictor{values: []float64{1}},
	})
	cat := twoItemCatalog(t)

	_, err := est.Estimate(context.Background(), cat, pricesAB, nil)
	assert.ErrorIs(t, err, ErrNoPredictors)

	_, err = est.Estimate(context.Background(), cat, pricesAB, []*models.PredictionFunction{
		{Username: "u1", Source: "ok"},
		{Username: "u2", Source: "broken"},
	})
	assert.ErrorIs(t, err, ErrEstimation)

	_, err = est.Estimate(context.Background(), cat, pricesAB, []*models.PredictionFunction{
		{Username: "u1", Source: "short"},
	})
	assert.ErrorIs(t, err, ErrEstimation)

	_, err = est.Estimate(context.Background(), cat, pricesAB, []*models.PredictionFunction{
		{Username: "u1", Source: "missing"},
	})
	assert.ErrorIs(t, err, ErrEstimation)

	_, err = est.Estimate(context.Background(), cat, pricesAB[:1], []*models.PredictionFunction{
		{Username: "u1", Source: "ok"},
	})
	assert.ErrorIs(t, err, ErrEstimation)
	assert.ErrorIs(t, err, ErrAlignment)
}

const constantFive = `package predictor

import "pricing"

func Predict(item pricing.Item) func(productID string, price int) int {
	return func(productID string, price int) int {
		return 5
	}
}
`

func TestPipelineEndToEnd(t *testing.T) {
	est := NewEstimator(sandbox.NewEvaluator(sandbox.Config{
		CallTimeout:    time.Second,
		CompileTimeout: 5 * time.Second,
	}))
	p := New(twoItemCatalog(t), est)

	result, err := p.Run(context.Background(), "A,12\nB,18", []*models.PredictionFunction{
		{Username: "organizer", Source: constantFive},
	})
	require.NoError(t, err)

	assert.Equal(t, []models.DemandRow{{ProductID: "A", Demand: 5}, {ProductID: "B", Demand: 5}}, result.Demands)
	assert.Equal(t, int64(55), result.Score)
	assert.Equal(t, "A,5\nB,5", result.DemandText)
}

func TestPipelineStopsAtFirstError(t *testing.T) {
	p := New(twoItemCatalog(t), NewEstimatorWithCompiler(fakeCompiler{}))
	fns := []*models.PredictionFunction{{Username: "u", Source: "ok"}}

	_, err := p.Run(context.Background(), "A,12", fns)
	assert.ErrorIs(t, err, ErrShape)

	_, err = p.Run(context.Background(), "A;12\nB;18", fns)
	assert.ErrorIs(t, err, ErrFormat)

	_, err = p.Run(context.Background(), "B,12\nA,18", fns)
	assert.ErrorIs(t, err, ErrAlignment)

	_, err = p.Run(context.Background(), "A,12\nB,18", nil)
	assert.ErrorIs(t, err, ErrNoPredictors)
}

func TestCheckPredictor(t *testing.T) {
	p := New(twoItemCatalog(t), NewEstimatorWithCompiler(fakeCompiler{
		"ok":     vectorPredictor{name: "ok", values: []float64{1}},
		"panics": vectorPredictor{name: "panics", err: sandbox.ErrPanic},
	}))

	assert.NoError(t, p.CheckPredictor(context.Background(), "u", "ok"))
	assert.ErrorIs(t, p.CheckPredictor(context.Background(), "u", "panics"), sandbox.ErrPanic)
	assert.Error(t, p.CheckPredictor(context.Background(), "u", "missing"))
}
