package sensor

import (
	"fmt"
	"sync"
)

// VoltageMode selects which voltage file VoltageSensor reads.
type VoltageMode string

const (
	VoltageAuto    VoltageMode = "auto"
	VoltagePrimary VoltageMode = "primary"
	VoltageCharger VoltageMode = "charger"
)

// VoltageSensor reads voltage_now in µV, or the charger's battery voltage in
// mV when the primary path is not used.
type VoltageSensor struct {
	primary *Source
	charger *Source
	mode    VoltageMode

	mu      sync.RWMutex
	active  *Source
	divisor float64
}

// NewVoltageSensor picks a source according to mode. Auto prefers primary.
func NewVoltageSensor(primary, charger *Source, mode VoltageMode) *VoltageSensor {
	v := &VoltageSensor{primary: primary, charger: charger, mode: mode}
	v.selectSource()
	return v
}

func (v *VoltageSensor) selectSource() bool {
	var active *Source
	var divisor float64
	switch {
	case v.mode != VoltageCharger && v.primary != nil && v.primary.Supported():
		active, divisor = v.primary, MicrovoltsPerVolt
	case v.mode != VoltagePrimary && v.charger != nil && v.charger.Supported():
		active, divisor = v.charger, MillivoltsPerVolt
	}
	v.mu.Lock()
	v.active, v.divisor = active, divisor
	v.mu.Unlock()
	return active != nil
}

// Kind returns KindVoltage.
func (v *VoltageSensor) Kind() Kind { return KindVoltage }

// Supported reports whether a source was selected.
func (v *VoltageSensor) Supported() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.active != nil
}

// Resolve re-resolves both paths and selects a source again.
func (v *VoltageSensor) Resolve() bool {
	if v.primary != nil {
		v.primary.Resolve()
	}
	if v.charger != nil {
		v.charger.Resolve()
	}
	return v.selectSource()
}

// UsingCharger reports whether the alternate path is in use.
func (v *VoltageSensor) UsingCharger() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.active != nil && v.active == v.charger
}

// Measure returns the battery voltage in V.
func (v *VoltageSensor) Measure() (float64, error) {
	v.mu.RLock()
	src, divisor := v.active, v.divisor
	v.mu.RUnlock()
	if src == nil {
		return 0, fmt.Errorf("%s: %w", KindVoltage, ErrUnsupported)
	}
	raw, err := src.ReadInt()
	if err != nil {
		return 0, err
	}
	if raw < 0 {
		return 0, fmt.Errorf("%s raw value %d is negative: %w", KindVoltage, raw, ErrInvalidReading)
	}
	return Convert(raw, divisor), nil
}
