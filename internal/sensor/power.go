package sensor

import (
	"fmt"
)

// PowerSensor multiplies current (mA) by voltage (V) giving mW.
type PowerSensor struct {
	current Sensor
	voltage Sensor
}

// NewPowerSensor multiplies the given current and voltage sensors.
func NewPowerSensor(current, voltage Sensor) *PowerSensor {
	return &PowerSensor{current: current, voltage: voltage}
}

// Kind returns KindPower.
func (p *PowerSensor) Kind() Kind { return KindPower }

// Supported requires both current and voltage.
func (p *PowerSensor) Supported() bool { return allSupported(p.current, p.voltage) }

// Resolve re-resolves current and voltage.
func (p *PowerSensor) Resolve() bool { return Resolve(p.current, p.voltage) }

// Measure returns current times voltage in mW.
func (p *PowerSensor) Measure() (float64, error) {
	if !p.Supported() {
		return 0, fmt.Errorf("%s: %w", KindPower, ErrUnsupported)
	}
	return product(p.current, p.voltage)
}

// PowerEstimationSensor uses the same formula as PowerSensor but is gated on
// the load sensor, since its current is a model estimate driven by load.
type PowerEstimationSensor struct {
	current Sensor
	voltage Sensor
	load    Sensor
}

// NewPowerEstimationSensor multiplies an estimated current by voltage, gated
// on load.
func NewPowerEstimationSensor(current, voltage, load Sensor) *PowerEstimationSensor {
	return &PowerEstimationSensor{current: current, voltage: voltage, load: load}
}

// Kind returns KindPowerEstimation.
func (p *PowerEstimationSensor) Kind() Kind { return KindPowerEstimation }

// Supported follows the load sensor.
func (p *PowerEstimationSensor) Supported() bool { return allSupported(p.load) }

// Resolve re-resolves every input and reports the load sensor's state.
func (p *PowerEstimationSensor) Resolve() bool {
	Resolve(p.current, p.voltage)
	return Resolve(p.load)
}

// Estimated is always true.
func (p *PowerEstimationSensor) Estimated() bool { return true }

// Measure returns estimated current times voltage in mW.
func (p *PowerEstimationSensor) Measure() (float64, error) {
	if !p.Supported() {
		return 0, fmt.Errorf("%s: %w", KindPowerEstimation, ErrUnsupported)
	}
	return product(p.current, p.voltage)
}

func product(current, voltage Sensor) (float64, error) {
	c, err := current.Measure()
	if err != nil {
		return 0, fmt.Errorf("current: %w", err)
	}
	v, err := voltage.Measure()
	if err != nil {
		return 0, fmt.Errorf("voltage: %w", err)
	}
	return c * v, nil
}

// Fallback measures primary when it is supported and fallback otherwise.
type Fallback struct {
	primary  Sensor
	fallback Sensor
}

// NewFallback prefers primary and uses fallback only while primary is
// unsupported.
func NewFallback(primary, fallback Sensor) *Fallback {
	return &Fallback{primary: primary, fallback: fallback}
}

// Active returns the sensor Measure currently reads.
func (f *Fallback) Active() Sensor {
	if f.primary.Supported() || !f.fallback.Supported() {
		return f.primary
	}
	return f.fallback
}

// Kind is the kind of the active sensor.
func (f *Fallback) Kind() Kind { return f.Active().Kind() }

// Supported reports whether either sensor is supported.
func (f *Fallback) Supported() bool { return f.primary.Supported() || f.fallback.Supported() }

// Resolve re-resolves both sensors.
func (f *Fallback) Resolve() bool {
	Resolve(f.primary, f.fallback)
	return f.Supported()
}

// Estimated reports whether the active sensor is an estimate.
func (f *Fallback) Estimated() bool { return IsEstimated(f.Active()) }

// Measure reads the active sensor.
func (f *Fallback) Measure() (float64, error) { return f.Active().Measure() }
