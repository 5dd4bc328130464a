package sensor

import (
	"github.com/cptspacemanspiff/power-sensors/internal/config"
	"github.com/cptspacemanspiff/power-sensors/internal/model"
)

// Set is every sensor the daemon knows about, built from one sensors config.
type Set struct {
	Frequency        *FrequencySensor
	Current          *Leaf
	Voltage          *VoltageSensor
	Power            *PowerSensor
	EstimatedCurrent *EstimateSensor
	PowerEstimation  *PowerEstimationSensor
	Load             *LoadSensor
	Brightness       *BrightnessSensor
	Capacity         *Leaf
	ScreenPower      *EstimateSensor
	BatteryLife      *EstimateSensor

	// BestPower is Power when the device reports current and voltage, and
	// PowerEstimation otherwise.
	BestPower *Fallback
}

// NewSet builds every sensor from cfg. Estimates read their curves from
// models on each Measure.
func NewSet(cfg config.SensorsConfig, models ModelSource) *Set {
	root := cfg.SysfsRoot
	s := &Set{}

	s.Frequency = DiscoverFrequencySensor(root, NewSource(root, cfg.CPUDir), cfg.CoreFrequencyTemplate)
	s.Current = NewCurrentSensor(NewSource(root, cfg.CurrentPath))
	s.Voltage = NewVoltageSensor(
		NewSource(root, cfg.VoltagePath),
		NewSource(root, cfg.ChargerVoltagePath),
		VoltageMode(cfg.VoltageSource),
	)
	s.Power = NewPowerSensor(s.Current, s.Voltage)

	s.Load = NewLoadSensor(NewSource(cfg.ProcRoot, "stat"))
	s.EstimatedCurrent = NewEstimateSensor(KindCurrent, s.Load, models, model.QuantityCurrent)
	s.PowerEstimation = NewPowerEstimationSensor(s.EstimatedCurrent, s.Voltage, s.Load)
	s.BestPower = NewFallback(s.Power, s.PowerEstimation)

	s.Brightness = NewBrightnessSensor(NewSource(root, cfg.BacklightPath))
	s.Capacity = NewCapacitySensor(NewSource(root, cfg.CapacityPath))
	s.ScreenPower = NewEstimateSensor(KindScreenPower, s.Brightness, models, model.QuantityScreenPower)
	s.BatteryLife = NewEstimateSensor(KindBatteryLife, s.Capacity, models, model.QuantityBatteryLife)

	return s
}

// PowerSensors are sampled at the fast collection interval.
func (s *Set) PowerSensors() []Sensor {
	return []Sensor{s.Frequency, s.Current, s.Voltage, s.BestPower, s.Load}
}

// BatterySensors change slowly and are sampled at the battery interval.
func (s *Set) BatterySensors() []Sensor {
	return []Sensor{s.Capacity, s.BatteryLife, s.Brightness, s.ScreenPower}
}

// Support reports the support state of every sensor by kind. Current and
// power report the direct sensors.
func (s *Set) Support() map[Kind]bool {
	return map[Kind]bool{
		KindFrequency:       s.Frequency.Supported(),
		KindCurrent:         s.Current.Supported(),
		KindVoltage:         s.Voltage.Supported(),
		KindPower:           s.Power.Supported(),
		KindPowerEstimation: s.PowerEstimation.Supported(),
		KindLoad:            s.Load.Supported(),
		KindBrightness:      s.Brightness.Supported(),
		KindCapacity:        s.Capacity.Supported(),
		KindScreenPower:     s.ScreenPower.Supported(),
		KindBatteryLife:     s.BatteryLife.Supported(),
	}
}
