package model

import (
	"fmt"
	"math"

	"github.com/cptspacemanspiff/power-sensors/internal/polynomial"
)

// Fit returns the least-squares polynomial of the given degree through the
// points (xs[i], ys[i]).
func Fit(xs, ys []float64, degree int) (*polynomial.Function, error) {
	if degree < 0 {
		return nil, fmt.Errorf("degree must not be negative, got %d", degree)
	}
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("mismatched point count: %d x values, %d y values", len(xs), len(ys))
	}
	if len(xs) <= degree {
		return nil, fmt.Errorf("need more than %d points for degree %d, got %d", degree, degree, len(xs))
	}

	n := degree + 1

	// Normal equations: a[i][j] = sum x^(i+j), b[i] = sum y*x^i.
	powSums := make([]float64, 2*n-1)
	b := make([]float64, n)
	for k, x := range xs {
		p := 1.0
		for i := range powSums {
			powSums[i] += p
			if i < n {
				b[i] += ys[k] * p
			}
			p *= x
		}
	}
	a := make([][]float64, n)
	for i := range a {
		a[i] = make([]float64, n)
		for j := range a[i] {
			a[i][j] = powSums[i+j]
		}
	}

	coeffs, err := solve(a, b)
	if err != nil {
		return nil, err
	}
	return polynomial.New(coeffs...), nil
}

// solve runs Gaussian elimination with partial pivoting on a*x = b. Both
// arguments are modified.
func solve(a [][]float64, b []float64) ([]float64, error) {
	n := len(b)
	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("singular system: inputs do not span degree %d", n-1)
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for row := col + 1; row < n; row++ {
			f := a[row][col] / a[col][col]
			for k := col; k < n; k++ {
				a[row][k] -= f * a[col][k]
			}
			b[row] -= f * b[col]
		}
	}

	x := make([]float64, n)
	for row := n - 1; row >= 0; row-- {
		sum := b[row]
		for k := row + 1; k < n; k++ {
			sum -= a[row][k] * x[k]
		}
		x[row] = sum / a[row][row]
	}
	return x, nil
}
