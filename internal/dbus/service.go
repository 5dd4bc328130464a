package dbus

import (
	"encoding/json"
	"fmt"
	"time"

	godbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/cptspacemanspiff/power-sensors/internal/collector"
	"github.com/cptspacemanspiff/power-sensors/internal/config"
	"github.com/cptspacemanspiff/power-sensors/internal/model"
	"github.com/cptspacemanspiff/power-sensors/internal/sensor"
	"github.com/cptspacemanspiff/power-sensors/internal/storage"
)

const (
	busName   = "org.cptspacemanspiff.PowerSensors"
	objPath   = "/org/cptspacemanspiff/PowerSensors"
	ifaceName = "org.cptspacemanspiff.PowerSensors"
)

// maxHistoryRange bounds history queries to keep replies a sane size.
const maxHistoryRange = 365 * 24 * 60 * 60

const introspectXML = `
<node>
  <interface name="` + ifaceName + `">
    <method name="GetCurrentSample">
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetHistory">
      <arg direction="in" type="x" name="from_epoch"/>
      <arg direction="in" type="x" name="to_epoch"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetEstimate">
      <arg direction="in" type="s" name="quantity"/>
      <arg direction="in" type="d" name="input"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetProcessShares">
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetProcessHistory">
      <arg direction="in" type="x" name="from_epoch"/>
      <arg direction="in" type="x" name="to_epoch"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetSensors">
      <arg direction="out" type="s" name="json"/>
    </method>
  </interface>
` + introspect.IntrospectDataString + `
</node>`

// SharesSource supplies the latest per-process power shares.
type SharesSource interface {
	Shares() []collector.AppShare
}

// Service exposes live samples, history and model estimates over D-Bus.
type Service struct {
	registry *collector.Registry
	store    *storage.DB
	models   sensor.ModelSource
	sensors  *sensor.Set
	shares   SharesSource
}

// NewService creates a new D-Bus service. sensors and shares may be nil.
func NewService(registry *collector.Registry, store *storage.DB, models sensor.ModelSource, sensors *sensor.Set, shares SharesSource) *Service {
	return &Service{
		registry: registry,
		store:    store,
		models:   models,
		sensors:  sensors,
		shares:   shares,
	}
}

// Export registers the service on the configured bus.
func (s *Service) Export(bus string) (*godbus.Conn, error) {
	var conn *godbus.Conn
	var err error
	switch bus {
	case config.BusSession:
		conn, err = godbus.SessionBus()
	default:
		conn, err = godbus.SystemBus()
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s bus: %w", bus, err)
	}

	if err := conn.Export(s, objPath, ifaceName); err != nil {
		return nil, fmt.Errorf("export service: %w", err)
	}
	if err := conn.Export(introspect.Introspectable(introspectXML), objPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(busName, godbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("request name: %w", err)
	}
	if reply != godbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("name %s already taken", busName)
	}

	return conn, nil
}

func validateRange(fromEpoch, toEpoch int64) *godbus.Error {
	switch {
	case fromEpoch < 0:
		return godbus.MakeFailedError(fmt.Errorf("from_epoch must not be negative, got %d", fromEpoch))
	case toEpoch < fromEpoch:
		return godbus.MakeFailedError(fmt.Errorf("to_epoch %d is before from_epoch %d", toEpoch, fromEpoch))
	case toEpoch-fromEpoch > maxHistoryRange:
		return godbus.MakeFailedError(fmt.Errorf("range of %ds exceeds the maximum of %ds", toEpoch-fromEpoch, maxHistoryRange))
	}
	return nil
}

func jsonReply(v any) (string, *godbus.Error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return string(data), nil
}

// GetCurrentSample returns the latest sample of every running task as JSON.
// Until the first tick it also returns the newest stored reading of each
// kind, so a client started right after the daemon has something to show.
func (s *Service) GetCurrentSample() (string, *godbus.Error) {
	samples := []collector.Sample{}
	for _, t := range s.registry.Tasks() {
		if latest, ok := t.Latest(); ok {
			samples = append(samples, latest)
		}
	}
	stored := []storage.StoredReading{}
	if len(samples) == 0 {
		latest, err := s.store.LatestReadings()
		if err != nil {
			return "", godbus.MakeFailedError(err)
		}
		if latest != nil {
			stored = latest
		}
	}
	return jsonReply(map[string]any{"samples": samples, "stored": stored})
}

// GetHistory returns stored readings in a time range as JSON.
func (s *Service) GetHistory(fromEpoch, toEpoch int64) (string, *godbus.Error) {
	if err := validateRange(fromEpoch, toEpoch); err != nil {
		return "", err
	}
	readings, err := s.store.ReadingsInRange(fromEpoch, toEpoch)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	if readings == nil {
		readings = []storage.StoredReading{}
	}
	return jsonReply(map[string]any{"readings": readings})
}

type estimateReply struct {
	Quantity  model.Quantity `json:"quantity"`
	Input     float64        `json:"input"`
	Available bool           `json:"available"`
	Value     *float64       `json:"value"`
}

// GetEstimate evaluates the model curve for quantity at input. When there
// is no model or no curve the reply has available=false and a null value.
func (s *Service) GetEstimate(quantity string, input float64) (string, *godbus.Error) {
	q := model.Quantity(quantity)
	switch q {
	case model.QuantityCurrent, model.QuantityScreenPower, model.QuantityBatteryLife:
	default:
		return "", godbus.MakeFailedError(fmt.Errorf("unknown quantity %q", quantity))
	}

	out := estimateReply{Quantity: q, Input: input}
	v, err := s.models.Model().Evaluate(q, input)
	if err == nil {
		out.Available = true
		out.Value = &v
	}
	return jsonReply(out)
}

// GetProcessShares returns the latest per-process power shares as JSON.
func (s *Service) GetProcessShares() (string, *godbus.Error) {
	shares := []collector.AppShare{}
	if s.shares != nil {
		if cur := s.shares.Shares(); cur != nil {
			shares = cur
		}
	}
	return jsonReply(map[string]any{"shares": shares})
}

// GetProcessHistory returns stored per-process shares in a time range.
func (s *Service) GetProcessHistory(fromEpoch, toEpoch int64) (string, *godbus.Error) {
	if err := validateRange(fromEpoch, toEpoch); err != nil {
		return "", err
	}
	shares, err := s.store.ProcessSharesInRange(fromEpoch, toEpoch)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	if shares == nil {
		shares = []collector.AppShare{}
	}
	return jsonReply(map[string]any{"shares": shares})
}

type batteryReply struct {
	sensor.BatteryInfo
	HealthPct float64 `json:"health_pct"`
}

type modelInfo struct {
	CalibratedAt *time.Time       `json:"calibrated_at"`
	Quantities   []model.Quantity `json:"quantities"`
}

// GetSensors reports which sensors are supported, which estimates have a
// curve, the battery identity and health, the backlight device and the loaded
// model.
func (s *Service) GetSensors() (string, *godbus.Error) {
	out := map[string]any{}

	support := map[sensor.Kind]bool{}
	estimates := map[sensor.Kind]bool{}
	var battery *batteryReply
	backlight := ""
	if s.sensors != nil {
		support = s.sensors.Support()
		for _, e := range []*sensor.EstimateSensor{s.sensors.EstimatedCurrent, s.sensors.ScreenPower, s.sensors.BatteryLife} {
			estimates[e.Kind()] = e.Available()
		}
		if b, err := sensor.ReadBatteryInfo(s.sensors.Capacity); err == nil {
			battery = &batteryReply{BatteryInfo: *b, HealthPct: b.HealthPct()}
		}
		backlight = s.sensors.Brightness.Device()
	}
	out["support"] = support
	out["estimates"] = estimates
	out["battery"] = battery
	out["backlight"] = backlight

	var info *modelInfo
	if m := s.models.Model(); m != nil {
		at := m.CalibratedAt()
		info = &modelInfo{CalibratedAt: &at, Quantities: m.Quantities()}
	}
	out["model"] = info

	return jsonReply(out)
}
