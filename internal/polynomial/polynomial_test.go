package polynomial

import (
	"math"
	"testing"
)

func TestNew_TrimsTrailingZeros(t *testing.T) {
	tests := []struct {
		name       string
		coeffs     []float64
		wantDegree int
		wantCoeffs []float64
	}{
		{name: "trailing zeros", coeffs: []float64{1, 2, 0, 0}, wantDegree: 1, wantCoeffs: []float64{1, 2}},
		{name: "single zero", coeffs: []float64{0}, wantDegree: 0, wantCoeffs: []float64{0}},
		{name: "all zeros", coeffs: []float64{0, 0, 0}, wantDegree: 0, wantCoeffs: []float64{0}},
		{name: "empty", coeffs: nil, wantDegree: 0, wantCoeffs: []float64{0}},
		{name: "inner zero kept", coeffs: []float64{3, 0, 5}, wantDegree: 2, wantCoeffs: []float64{3, 0, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.coeffs...)
			if f.Degree() != tt.wantDegree {
				t.Fatalf("Degree() = %d, want %d", f.Degree(), tt.wantDegree)
			}
			got := f.Coefficients()
			if len(got) != len(tt.wantCoeffs) {
				t.Fatalf("Coefficients() = %v, want %v", got, tt.wantCoeffs)
			}
			for i := range got {
				if got[i] != tt.wantCoeffs[i] {
					t.Fatalf("Coefficients() = %v, want %v", got, tt.wantCoeffs)
				}
			}
		})
	}
}

func TestNew_CopiesInput(t *testing.T) {
	coeffs := []float64{1, 2, 3}
	f := New(coeffs...)
	coeffs[0] = 100

	if v := f.Value(0); v != 1 {
		t.Fatalf("Value(0) = %v after mutating input, want 1", v)
	}

	out := f.Coefficients()
	out[0] = 100
	if v := f.Value(0); v != 1 {
		t.Fatalf("Value(0) = %v after mutating Coefficients(), want 1", v)
	}
}

func TestValue(t *testing.T) {
	tests := []struct {
		name   string
		coeffs []float64
		x      float64
		want   float64
	}{
		{name: "quadratic", coeffs: []float64{1, -2, 3}, x: 2, want: 9},
		{name: "zero polynomial", coeffs: []float64{0}, x: 42, want: 0},
		{name: "constant", coeffs: []float64{7}, x: -3, want: 7},
		{name: "linear", coeffs: []float64{1, 2, 0, 0}, x: 10, want: 21},
		{name: "cubic negative x", coeffs: []float64{0, 0, 0, 1}, x: -2, want: -8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New(tt.coeffs...).Value(tt.x); got != tt.want {
				t.Fatalf("Value(%v) = %v, want %v", tt.x, got, tt.want)
			}
		})
	}
}

func TestValue_MatchesPowerSum(t *testing.T) {
	coeffs := []float64{0.5, -1.25, 0.75, 0.125, -0.0625}
	f := New(coeffs...)
	for _, x := range []float64{-3, -0.5, 0, 0.5, 1, 4} {
		var want float64
		for i, c := range coeffs {
			want += c * math.Pow(x, float64(i))
		}
		if got := f.Value(x); math.Abs(got-want) > 1e-12 {
			t.Fatalf("Value(%v) = %v, want %v", x, got, want)
		}
	}
}
