package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore(t *testing.T) {
	score, err := Score([]int{12, 18}, []int{5, 5}, []int{4, 15})
	require.NoError(t, err)
	assert.Equal(t, int64(55), score)
}

func TestScoreNegativeMargin(t *testing.T) {
	score, err := Score([]int{3}, []int{10}, []int{4})
	require.NoError(t, err)
	assert.Equal(t, int64(-10), score)
}

func TestScoreLinearInMargin(t *testing.T) {
	costs := []int{4, 15, 7, 0}
	prices := []int{12, 18, 7, 3}
	demands := []int{5, 2, 9, 11}

	base, err := Score(prices, demands, costs)
	require.NoError(t, err)

	// doubling every margin: price' = cost + 2*(price - cost)
	doubled := make([]int, len(prices))
	for i := range prices {
		doubled[i] = costs[i] + 2*(prices[i]-costs[i])
	}

	got, err := Score(doubled, demands, costs)
	require.NoError(t, err)
	assert.Equal(t, 2*base, got)
}

func TestScoreAlignment(t *testing.T) {
	_, err := Score([]int{1, 2}, []int{1}, []int{1, 2})
	assert.ErrorIs(t, err, ErrAlignment)

	_, err = Score([]int{1}, []int{1}, []int{1, 2})
	assert.ErrorIs(t, err, ErrAlignment)
}

func TestScoreOverflow(t *testing.T) {
	tests := []struct {
		name    string
		prices  []int
		demands []int
		costs   []int
	}{
		{"product", []int{math.MaxInt64}, []int{2}, []int{0}},
		{"margin", []int{math.MaxInt64}, []int{1}, []int{-1}},
		{"sum", []int{math.MaxInt64, 1}, []int{1, 1}, []int{0, 0}},
		{"negative product", []int{math.MinInt64 + 1}, []int{2}, []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Score(tt.prices, tt.demands, tt.costs)
			assert.ErrorIs(t, err, ErrOverflow)
		})
	}

	score, err := Score([]int{math.MaxInt64}, []int{1}, []int{0})
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), score)
}
