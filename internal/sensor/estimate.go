package sensor

import (
	"fmt"

	"github.com/cptspacemanspiff/power-sensors/internal/model"
)

// ModelSource supplies the current calibration model, or nil before the
// first calibration run.
type ModelSource interface {
	Model() *model.Model
}

// EstimateSensor evaluates a model curve at the value of its input sensor.
type EstimateSensor struct {
	kind     Kind
	input    Sensor
	models   ModelSource
	quantity model.Quantity
}

// NewEstimateSensor reports kind by evaluating curve q of the current model
// at input's value.
func NewEstimateSensor(kind Kind, input Sensor, models ModelSource, q model.Quantity) *EstimateSensor {
	return &EstimateSensor{kind: kind, input: input, models: models, quantity: q}
}

// Kind returns the kind given to NewEstimateSensor.
func (e *EstimateSensor) Kind() Kind { return e.kind }

// Supported follows the input sensor. A missing model is reported by Measure.
func (e *EstimateSensor) Supported() bool { return allSupported(e.input) }

// Resolve re-resolves the input sensor.
func (e *EstimateSensor) Resolve() bool { return Resolve(e.input) }

// Estimated is always true.
func (e *EstimateSensor) Estimated() bool { return true }

// Quantity is the model curve evaluated.
func (e *EstimateSensor) Quantity() model.Quantity { return e.quantity }

// Available reports whether a curve for the quantity is loaded.
func (e *EstimateSensor) Available() bool {
	_, ok := e.models.Model().Curve(e.quantity)
	return ok
}

// Measure returns model.ErrModelUnavailable before calibration and
// model.ErrNoCurve when the model lacks the quantity.
func (e *EstimateSensor) Measure() (float64, error) {
	if !e.Supported() {
		return 0, fmt.Errorf("%s: %w", e.kind, ErrUnsupported)
	}
	m := e.models.Model()
	if m == nil {
		return 0, fmt.Errorf("%s: %w", e.kind, model.ErrModelUnavailable)
	}
	x, err := e.input.Measure()
	if err != nil {
		return 0, fmt.Errorf("%s input: %w", e.kind, err)
	}
	v, err := m.Evaluate(e.quantity, x)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", e.kind, err)
	}
	if !finite(v) {
		return 0, fmt.Errorf("%s estimate %v: %w", e.kind, v, ErrInvalidReading)
	}
	return v, nil
}
