package model

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cptspacemanspiff/power-sensors/internal/polynomial"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEvaluate_NilModel(t *testing.T) {
	var m *Model
	_, err := m.Evaluate(QuantityCurrent, 10)
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("Evaluate() error = %v, want ErrModelUnavailable", err)
	}
}

func TestEvaluate_UsesCurve(t *testing.T) {
	m := New(map[Quantity]*polynomial.Function{
		QuantityCurrent: polynomial.New(1, -2, 3),
	}, time.Unix(100, 0))

	got, err := m.Evaluate(QuantityCurrent, 2)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got != 9 {
		t.Fatalf("Evaluate() = %v, want 9", got)
	}

	if _, err := m.Evaluate(QuantityBatteryLife, 2); !errors.Is(err, ErrNoCurve) {
		t.Fatalf("Evaluate(missing) error = %v, want ErrNoCurve", err)
	}
}

func TestFit_RecoversQuadratic(t *testing.T) {
	var xs, ys []float64
	for x := 0.0; x <= 100; x += 10 {
		xs = append(xs, x)
		ys = append(ys, 200+3*x+0.05*x*x)
	}

	f, err := Fit(xs, ys, 2)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	want := []float64{200, 3, 0.05}
	got := f.Coefficients()
	if len(got) != len(want) {
		t.Fatalf("Coefficients() = %v, want %v", got, want)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-6 {
			t.Fatalf("Coefficients() = %v, want %v", got, want)
		}
	}
}

func TestFit_Linear(t *testing.T) {
	f, err := Fit([]float64{0, 1, 2, 3}, []float64{1, 3, 5, 7}, 1)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if v := f.Value(10); math.Abs(v-21) > 1e-9 {
		t.Fatalf("Value(10) = %v, want 21", v)
	}
}

func TestFit_ValidatesArguments(t *testing.T) {
	if _, err := Fit([]float64{1, 2}, []float64{1}, 1); err == nil {
		t.Fatal("expected error for mismatched lengths")
	}
	if _, err := Fit([]float64{1, 2}, []float64{1, 2}, 2); err == nil {
		t.Fatal("expected error for too few points")
	}
	if _, err := Fit([]float64{1, 2}, []float64{1, 2}, -1); err == nil {
		t.Fatal("expected error for negative degree")
	}
	if _, err := Fit([]float64{5, 5, 5}, []float64{1, 2, 3}, 1); err == nil {
		t.Fatal("expected error for singular inputs")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "model.toml")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := New(map[Quantity]*polynomial.Function{
		QuantityScreenPower: polynomial.New(500, 12.5),
		QuantityBatteryLife: polynomial.New(0, 0.08, 0.0005),
	}, at)

	if err := Save(path, m); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !loaded.CalibratedAt().Equal(at) {
		t.Fatalf("CalibratedAt() = %v, want %v", loaded.CalibratedAt(), at)
	}
	got, err := loaded.Evaluate(QuantityScreenPower, 40)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got != 1000 {
		t.Fatalf("Evaluate(screen_power, 40) = %v, want 1000", got)
	}
	if qs := loaded.Quantities(); len(qs) != 2 || qs[0] != QuantityBatteryLife || qs[1] != QuantityScreenPower {
		t.Fatalf("Quantities() = %v", qs)
	}
}

func TestLoad_RejectsEmptyCurve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.toml")
	if err := os.WriteFile(path, []byte("[curves.current]\ncoefficients = []\n"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() error = nil, want empty curve error")
	}
}

func TestHolder_ReloadMissingFile(t *testing.T) {
	h := NewHolder(filepath.Join(t.TempDir(), "model.toml"), testLogger())
	h.Set(New(nil, time.Now()))

	if err := h.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if h.Model() != nil {
		t.Fatal("Model() != nil after reloading a missing file")
	}
}

func TestHolder_WatchPicksUpSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.toml")
	h := NewHolder(path, testLogger())
	ctx := testContext(t)
	if err := h.Watch(ctx); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	t.Cleanup(func() { h.Close() })

	if h.Model() != nil {
		t.Fatal("Model() != nil before any calibration")
	}

	m := New(map[Quantity]*polynomial.Function{QuantityCurrent: polynomial.New(100, 5)}, time.Now())
	if err := Save(path, m); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for h.Model() == nil {
		if time.Now().After(deadline) {
			t.Fatal("model was not reloaded after Save")
		}
		time.Sleep(10 * time.Millisecond)
	}
	got, err := h.Model().Evaluate(QuantityCurrent, 10)
	if err != nil || got != 150 {
		t.Fatalf("Evaluate() = %v, %v, want 150", got, err)
	}
}
