package rating

import "math"

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// sanitizeCount maps negative, NaN and infinite Strich counts to zero.
func sanitizeCount(x float64) float64 {
	if !finite(x) || x < 0 {
		return 0
	}
	return x
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
