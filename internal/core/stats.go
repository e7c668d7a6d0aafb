package core

import (
	"math"
	"sort"
)

// mean returns the arithmetic mean, or NaN for an empty slice.
func mean(data []float64) float64 {
	if len(data) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// stddev returns the population standard deviation.
func stddev(data []float64) float64 {
	if len(data) == 0 {
		return math.NaN()
	}
	m := mean(data)
	sumSquares := 0.0
	for _, v := range data {
		d := v - m
		sumSquares += d * d
	}
	return math.Sqrt(sumSquares / float64(len(data)))
}

// coefficientOfVariation returns stddev/|mean|, or 0 when the mean is 0.
func coefficientOfVariation(data []float64) float64 {
	m := mean(data)
	if m == 0 || math.IsNaN(m) {
		return 0
	}
	return stddev(data) / math.Abs(m)
}

// median returns the middle value, averaging the two middle values for an
// even count. The input is not modified.
func median(data []float64) float64 {
	if len(data) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
