package collector

import (
	"time"

	"github.com/google/uuid"

	"github.com/cptspacemanspiff/power-sensors/internal/sensor"
)

// Reading is one sensor value in its canonical unit.
type Reading struct {
	Kind      sensor.Kind `json:"kind"`
	Value     float64     `json:"value"`
	Unit      string      `json:"unit"`
	Estimated bool        `json:"estimated"`
}

// Sample is the result of one collection tick.
type Sample struct {
	TaskID    uuid.UUID `json:"task_id"`
	Task      string    `json:"task"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Readings  []Reading `json:"readings"`
	// Unavailable lists the kinds that had no value this tick because the
	// sensor or model behind them is missing.
	Unavailable []sensor.Kind `json:"unavailable,omitempty"`
}

// Value returns the reading for k, if the sample has one.
func (s Sample) Value(k sensor.Kind) (float64, bool) {
	for _, r := range s.Readings {
		if r.Kind == k {
			return r.Value, true
		}
	}
	return 0, false
}

// Power returns the measured power, or the estimated power when the device
// has no direct power reading.
func (s Sample) Power() (float64, bool) {
	if v, ok := s.Value(sensor.KindPower); ok {
		return v, true
	}
	return s.Value(sensor.KindPowerEstimation)
}

func (s Sample) clone() Sample {
	c := s
	c.Readings = append([]Reading(nil), s.Readings...)
	c.Unavailable = append([]sensor.Kind(nil), s.Unavailable...)
	return c
}

// Listener receives every sample a task produces, on the task's goroutine.
// Implementations must not block.
type Listener interface {
	OnMeasurementReceived(Sample)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Sample)

// OnMeasurementReceived calls f(s).
func (f ListenerFunc) OnMeasurementReceived(s Sample) { f(s) }
