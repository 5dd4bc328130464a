package sensor

import (
	"errors"
	"math"
)

var (
	// ErrUnsupported is returned by Measure when the backing source, or a
	// dependency's backing source, is missing.
	ErrUnsupported = errors.New("sensor unsupported")
	// ErrInvalidReading is returned when the source was read but did not hold
	// a usable value.
	ErrInvalidReading = errors.New("invalid sensor reading")
)

// Kind names a measured or estimated quantity. It is also the key readings
// are stored under.
type Kind string

const (
	KindFrequency       Kind = "frequency"
	KindCurrent         Kind = "current"
	KindVoltage         Kind = "voltage"
	KindPower           Kind = "power"
	KindPowerEstimation Kind = "power_estimation"
	KindLoad            Kind = "load"
	KindBrightness      Kind = "brightness"
	KindCapacity        Kind = "capacity"
	KindScreenPower     Kind = "screen_power"
	KindBatteryLife     Kind = "battery_life"
)

// Unit returns the canonical unit Measure reports for k.
func (k Kind) Unit() string {
	switch k {
	case KindFrequency:
		return "MHz"
	case KindCurrent:
		return "mA"
	case KindVoltage:
		return "V"
	case KindPower, KindPowerEstimation, KindScreenPower:
		return "mW"
	case KindLoad, KindBrightness, KindCapacity:
		return "%"
	case KindBatteryLife:
		return "h"
	default:
		return ""
	}
}

// Raw-to-canonical divisors.
const (
	KHzPerMHz            = 1000.0
	MicroampsPerMilliamp = 1000.0
	MicrovoltsPerVolt    = 1_000_000.0
	MillivoltsPerVolt    = 1000.0
)

// Convert scales a raw integer reading to its canonical unit.
func Convert(raw int64, divisor float64) float64 {
	return float64(raw) / divisor
}

// Sensor is one readable quantity.
type Sensor interface {
	Kind() Kind
	Supported() bool
	Measure() (float64, error)
}

// Resolver is implemented by sensors whose backing source can change at
// runtime, for example after resume.
type Resolver interface {
	Resolve() bool
}

// Estimator is implemented by sensors whose value comes from a model rather
// than from hardware.
type Estimator interface {
	Estimated() bool
}

// Selector is implemented by sensors that forward to one of several
// alternatives.
type Selector interface {
	Active() Sensor
}

// Active returns the sensor that will actually be measured for s.
func Active(s Sensor) Sensor {
	for {
		sel, ok := s.(Selector)
		if !ok {
			return s
		}
		next := sel.Active()
		if next == nil || next == s {
			return s
		}
		s = next
	}
}

// IsEstimated reports whether s produces model-based values.
func IsEstimated(s Sensor) bool {
	e, ok := s.(Estimator)
	return ok && e.Estimated()
}

// Resolve re-resolves every sensor that supports it and reports whether all
// of them are supported afterwards.
func Resolve(sensors ...Sensor) bool {
	ok := true
	for _, s := range sensors {
		if r, isResolver := s.(Resolver); isResolver {
			r.Resolve()
		}
		if !s.Supported() {
			ok = false
		}
	}
	return ok
}

func allSupported(sensors ...Sensor) bool {
	for _, s := range sensors {
		if s == nil || !s.Supported() {
			return false
		}
	}
	return true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
