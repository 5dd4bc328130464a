package model

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cptspacemanspiff/power-sensors/internal/polynomial"
)

var (
	// ErrModelUnavailable is returned when an estimate is requested before a
	// calibration run has produced a model.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrNoCurve is returned when the model has no curve for a quantity.
	ErrNoCurve = errors.New("no curve for quantity")
)

// Quantity names an estimated output curve.
type Quantity string

const (
	// QuantityCurrent maps CPU load (%) to battery current draw (mA).
	QuantityCurrent Quantity = "current"
	// QuantityScreenPower maps backlight brightness (%) to display power (mW).
	QuantityScreenPower Quantity = "screen_power"
	// QuantityBatteryLife maps battery capacity (%) to remaining runtime (h).
	QuantityBatteryLife Quantity = "battery_life"
)

// Model is an immutable set of fitted curves.
type Model struct {
	curves       map[Quantity]*polynomial.Function
	calibratedAt time.Time
}

// New creates a model from the given curves.
func New(curves map[Quantity]*polynomial.Function, calibratedAt time.Time) *Model {
	c := make(map[Quantity]*polynomial.Function, len(curves))
	for q, f := range curves {
		if f != nil {
			c[q] = f
		}
	}
	return &Model{curves: c, calibratedAt: calibratedAt}
}

// Evaluate returns the estimate for q at input x. A nil model reports
// ErrModelUnavailable.
func (m *Model) Evaluate(q Quantity, x float64) (float64, error) {
	if m == nil {
		return 0, ErrModelUnavailable
	}
	f, ok := m.curves[q]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoCurve, q)
	}
	return f.Value(x), nil
}

// Curve returns the curve for q, if present.
func (m *Model) Curve(q Quantity) (*polynomial.Function, bool) {
	if m == nil {
		return nil, false
	}
	f, ok := m.curves[q]
	return f, ok
}

// Quantities returns the quantities the model can estimate, sorted.
func (m *Model) Quantities() []Quantity {
	if m == nil {
		return nil
	}
	qs := make([]Quantity, 0, len(m.curves))
	for q := range m.curves {
		qs = append(qs, q)
	}
	sort.Slice(qs, func(i, j int) bool { return qs[i] < qs[j] })
	return qs
}

// CalibratedAt returns when the calibration run finished.
func (m *Model) CalibratedAt() time.Time {
	if m == nil {
		return time.Time{}
	}
	return m.calibratedAt
}
