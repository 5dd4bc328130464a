package polynomial

// Function is an immutable polynomial with coefficients ordered from the
// constant term to the highest-degree term.
type Function struct {
	coeffs []float64
}

// New returns the polynomial with the given coefficients, constant term first.
// Exact trailing zeros are trimmed, but at least one coefficient is kept, so
// New() and New(0) both yield the constant 0.
func New(coeffs ...float64) *Function {
	n := len(coeffs)
	for n > 1 && coeffs[n-1] == 0 {
		n--
	}
	c := make([]float64, max(n, 1))
	copy(c, coeffs[:n])
	return &Function{coeffs: c}
}

// Degree returns the degree of the trimmed representation.
func (f *Function) Degree() int {
	return len(f.coeffs) - 1
}

// Coefficients returns a copy of the coefficients, constant term first.
func (f *Function) Coefficients() []float64 {
	out := make([]float64, len(f.coeffs))
	copy(out, f.coeffs)
	return out
}

// Value evaluates the polynomial at x using Horner's method.
func (f *Function) Value(x float64) float64 {
	n := len(f.coeffs) - 1
	result := f.coeffs[n]
	for i := n - 1; i >= 0; i-- {
		result = result*x + f.coeffs[i]
	}
	return result
}
