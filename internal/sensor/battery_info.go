package sensor

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// BatteryInfo is the battery identity and wear data from the power_supply
// uevent file.
type BatteryInfo struct {
	Name                string `json:"name"`
	Status              string `json:"status"`
	Manufacturer        string `json:"manufacturer"`
	Model               string `json:"model"`
	Technology          string `json:"technology"`
	CycleCount          int64  `json:"cycle_count"`
	ChargeFullDesignUAH int64  `json:"charge_full_design_uah"`
	ChargeFullUAH       int64  `json:"charge_full_uah"`
}

// HealthPct returns full charge capacity as a percentage of design capacity,
// or 0 when either is unknown.
func (b BatteryInfo) HealthPct() float64 {
	if b.ChargeFullDesignUAH <= 0 || b.ChargeFullUAH <= 0 {
		return 0
	}
	return 100 * float64(b.ChargeFullUAH) / float64(b.ChargeFullDesignUAH)
}

// ReadBatteryInfo reads the uevent file next to the capacity sensor's source.
func ReadBatteryInfo(capacity *Leaf) (*BatteryInfo, error) {
	path := capacity.Source().Path()
	if path == "" {
		return nil, fmt.Errorf("battery: %w", ErrUnsupported)
	}
	dir := filepath.Dir(path)
	data, err := NewSource(dir, "uevent").Read()
	if err != nil {
		return nil, fmt.Errorf("read uevent: %w", err)
	}

	props := parseUevent(string(data))
	b := &BatteryInfo{
		Name:         filepath.Base(dir),
		Status:       props["POWER_SUPPLY_STATUS"],
		Manufacturer: props["POWER_SUPPLY_MANUFACTURER"],
		Model:        props["POWER_SUPPLY_MODEL_NAME"],
		Technology:   props["POWER_SUPPLY_TECHNOLOGY"],
	}
	b.CycleCount, _ = strconv.ParseInt(props["POWER_SUPPLY_CYCLE_COUNT"], 10, 64)
	b.ChargeFullDesignUAH, _ = strconv.ParseInt(props["POWER_SUPPLY_CHARGE_FULL_DESIGN"], 10, 64)
	b.ChargeFullUAH, _ = strconv.ParseInt(props["POWER_SUPPLY_CHARGE_FULL"], 10, 64)
	return b, nil
}

func parseUevent(data string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(data, "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			props[k] = v
		}
	}
	return props
}
