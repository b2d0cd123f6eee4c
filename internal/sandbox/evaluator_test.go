package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/pricing-arena/internal/models"
)

const reviewPredictor = `package predictor

import "pricing"

func Predict(item pricing.Item) func(productID string, price int) int {
	return func(productID string, price int) int {
		return int(1/float64(price) + item.ReviewScore)
	}
}
`

var testItems = []models.CatalogItem{
	{ProductID: "A", Price: 10, Cost: 4, ReviewScore: 4.5},
	{ProductID: "B", Price: 20, Cost: 15, ReviewScore: 2.2},
}

var testRows = []models.PriceRow{
	{ProductID: "A", Price: 12},
	{ProductID: "B", Price: 18},
}

func newTestEvaluator() *Evaluator {
	return NewEvaluator(Config{
		CallTimeout:    200 * time.Millisecond,
		CompileTimeout: 5 * time.Second,
	})
}

func TestCompileAndEvaluate(t *testing.T) {
	ev := newTestEvaluator()

	prog, err := ev.Compile(context.Background(), "alice", reviewPredictor)
	require.NoError(t, err)
	assert.Equal(t, "alice", prog.Name())

	demands, err := prog.Evaluate(context.Background(), testItems, testRows)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 2}, demands)
}

func TestCompileWithoutPackageClause(t *testing.T) {
	src := `
import "strings"

func Predict(item pricing.Item) func(string, int) int {
	return func(id string, price int) int {
		if strings.HasPrefix(id, "A") {
			return 7
		}
		return 1
	}
}
`
	// pricing is referenced but not imported, so this must fail to compile
	_, err := newTestEvaluator().Compile(context.Background(), "bob", src)
	assert.ErrorIs(t, err, ErrCompile)

	src = `
import (
	"pricing"
	"strings"
)

func Predict(item pricing.Item) func(string, int) int {
	return func(id string, price int) int {
		if strings.HasPrefix(id, "A") {
			return 7
		}
		return 1
	}
}
`
	prog, err := newTestEvaluator().Compile(context.Background(), "bob", src)
	require.NoError(t, err)

	demands, err := prog.Evaluate(context.Background(), testItems, testRows)
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 1}, demands)
}

func TestFloatResultsAreKept(t *testing.T) {
	src := `package p

import "pricing"

func Predict(item pricing.Item) func(string, int) float64 {
	return func(id string, price int) float64 {
		return float64(item.Price) / float64(price)
	}
}
`
	prog, err := newTestEvaluator().Compile(context.Background(), "carol", src)
	require.NoError(t, err)

	demands, err := prog.Evaluate(context.Background(), testItems, testRows)
	require.NoError(t, err)
	assert.InDelta(t, 10.0/12.0, demands[0], 1e-9)
	assert.InDelta(t, 20.0/18.0, demands[1], 1e-9)
}

func TestCompileRejects(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		wantErr error
	}{
		{
			name: "os import",
			source: `package p
import (
	"os"
	"pricing"
)
func Predict(item pricing.Item) func(string, int) int {
	os.Exit(1)
	return nil
}`,
			wantErr: ErrForbiddenImport,
		},
		{
			name: "goroutine",
			source: `package p
import "pricing"
func Predict(item pricing.Item) func(string, int) int {
	go func() {}()
	return func(string, int) int { return 1 }
}`,
			wantErr: ErrForbiddenSyntax,
		},
		{
			name: "missing entry point",
			source: `package p
func Demand(id string, price int) int { return 1 }`,
			wantErr: ErrSignature,
		},
		{
			name: "wrong shape",
			source: `package p
import "pricing"
func Predict(item pricing.Item) int { return 1 }`,
			wantErr: ErrSignature,
		},
		{
			name:    "syntax error",
			source:  `package p func {`,
			wantErr: ErrCompile,
		},
	}

	ev := newTestEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ev.Compile(context.Background(), "mallory", tt.source)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSourceTooLarge(t *testing.T) {
	ev := NewEvaluator(Config{MaxSourceBytes: 16})
	_, err := ev.Compile(context.Background(), "big", reviewPredictor)
	assert.ErrorIs(t, err, ErrSourceTooLarge)
}

func TestEvaluatePanic(t *testing.T) {
	src := `package p
import "pricing"
func Predict(item pricing.Item) func(string, int) int {
	return func(id string, price int) int {
		var m map[string]int
		m[id] = price
		return 1
	}
}`
	prog, err := newTestEvaluator().Compile(context.Background(), "dave", src)
	require.NoError(t, err)

	_, err = prog.Evaluate(context.Background(), testItems, testRows)
	assert.ErrorIs(t, err, ErrPanic)
}

func TestEvaluateDivideByZeroPanics(t *testing.T) {
	src := `package p
import "pricing"
func Predict(item pricing.Item) func(string, int) int {
	return func(id string, price int) int {
		return item.Cost / (price - price)
	}
}`
	prog, err := newTestEvaluator().Compile(context.Background(), "erin", src)
	require.NoError(t, err)

	_, err = prog.Evaluate(context.Background(), testItems, testRows)
	assert.ErrorIs(t, err, ErrPanic)
}

func TestEvaluateTimeout(t *testing.T) {
	src := `package p
import "pricing"
func Predict(item pricing.Item) func(string, int) int {
	return func(id string, price int) int {
		n := 0
		for n >= 0 {
			n++
		}
		return n
	}
}`
	ev := NewEvaluator(Config{CallTimeout: 20 * time.Millisecond, CompileTimeout: 5 * time.Second})
	prog, err := ev.Compile(context.Background(), "frank", src)
	require.NoError(t, err)

	start := time.Now()
	_, err = prog.Evaluate(context.Background(), testItems, testRows)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestEvaluateLengthMismatch(t *testing.T) {
	prog, err := newTestEvaluator().Compile(context.Background(), "alice", reviewPredictor)
	require.NoError(t, err)

	_, err = prog.Evaluate(context.Background(), testItems, testRows[:1])
	assert.Error(t, err)
}

func TestAllowedImports(t *testing.T) {
	pkgs := AllowedImports()
	assert.Contains(t, pkgs, "pricing")
	assert.Contains(t, pkgs, "math")
	assert.NotContains(t, pkgs, "os")
}
