package pipeline

import (
	"fmt"
	"math"
)

// Score returns the total profit: sum of (price - cost) * demand per product.
// ErrOverflow is returned when any step leaves the int64 range.
func Score(prices, demands, costs []int) (int64, error) {
	if len(prices) != len(demands) || len(prices) != len(costs) {
		return 0, fmt.Errorf("%w: %d prices, %d demands, %d costs",
			ErrAlignment, len(prices), len(demands), len(costs))
	}

	var total int64
	for i := range prices {
		margin, ok := subInt64(int64(prices[i]), int64(costs[i]))
		if !ok {
			return 0, fmt.Errorf("%w: row %d margin", ErrOverflow, i+1)
		}
		profit, ok := mulInt64(margin, int64(demands[i]))
		if !ok {
			return 0, fmt.Errorf("%w: row %d profit", ErrOverflow, i+1)
		}
		if total, ok = addInt64(total, profit); !ok {
			return 0, fmt.Errorf("%w: total after row %d", ErrOverflow, i+1)
		}
	}
	return total, nil
}

func addInt64(a, b int64) (int64, bool) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, false
	}
	return s, true
}

func subInt64(a, b int64) (int64, bool) {
	if b == math.MinInt64 {
		if a >= 0 {
			return 0, false
		}
		return a - b, true
	}
	return addInt64(a, -b)
}

func mulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	p := a * b
	if p/b != a {
		return 0, false
	}
	return p, true
}
