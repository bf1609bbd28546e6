// Package trend estimates short-window linear trends over reading history.
package trend

import (
	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/lakeguard/pkg/water"
)

// Slope fits a first-degree least-squares line to the metric values of window
// against their index positions 0..n-1 and returns its slope. Windows with
// fewer than two readings have no trend and yield 0.
func Slope(window []water.Reading, m water.Metric) float64 {
	n := len(window)
	if n < 2 {
		return 0
	}
	x := make([]float64, n)
	y := make([]float64, n)
	for i, r := range window {
		x[i] = float64(i)
		y[i] = r.Value(m)
	}
	_, beta := stat.LinearRegression(x, y, nil, false)
	return beta
}

// Tail returns the last n readings of history, or all of it when shorter.
// The result aliases history.
func Tail(history []water.Reading, n int) []water.Reading {
	if n <= 0 {
		return nil
	}
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
