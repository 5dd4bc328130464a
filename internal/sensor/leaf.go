package sensor

import (
	"fmt"
	"math"
)

// Leaf reads one integer file and scales it to the kind's unit.
type Leaf struct {
	kind    Kind
	src     *Source
	divisor float64
	abs     bool
	min     float64
	max     float64
}

// NewCurrentSensor reads current_now in µA. Kernels disagree on the sign of
// discharge current, so the magnitude is reported.
func NewCurrentSensor(src *Source) *Leaf {
	return &Leaf{
		kind:    KindCurrent,
		src:     src,
		divisor: MicroampsPerMilliamp,
		abs:     true,
		min:     0,
		max:     math.Inf(1),
	}
}

// NewCoreFrequencySensor reads one core's scaling_cur_freq in kHz.
func NewCoreFrequencySensor(src *Source) *Leaf {
	return &Leaf{
		kind:    KindFrequency,
		src:     src,
		divisor: KHzPerMHz,
		min:     0,
		max:     math.Inf(1),
	}
}

// NewCapacitySensor reads the battery capacity percentage.
func NewCapacitySensor(src *Source) *Leaf {
	return &Leaf{
		kind:    KindCapacity,
		src:     src,
		divisor: 1,
		min:     0,
		max:     100,
	}
}

// Kind returns the leaf's kind.
func (l *Leaf) Kind() Kind { return l.kind }

// Supported reports whether the source resolved.
func (l *Leaf) Supported() bool { return l.src.Supported() }

// Resolve resolves the source again.
func (l *Leaf) Resolve() bool { return l.src.Resolve() }

// Source returns the backing source.
func (l *Leaf) Source() *Source { return l.src }

// Measure reads the source and converts the raw value to the kind's unit.
func (l *Leaf) Measure() (float64, error) {
	if !l.Supported() {
		return 0, fmt.Errorf("%s: %w", l.kind, ErrUnsupported)
	}
	raw, err := l.src.ReadInt()
	if err != nil {
		return 0, err
	}
	v := Convert(raw, l.divisor)
	if l.abs {
		v = math.Abs(v)
	}
	if v < l.min || v > l.max {
		return 0, fmt.Errorf("%s value %v outside [%v, %v]: %w", l.kind, v, l.min, l.max, ErrInvalidReading)
	}
	return v, nil
}
