package sensor

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func TestReadBatteryInfo(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "class/power_supply/BAT0")
	writeTestFile(t, filepath.Join(dir, "capacity"), "73\n")
	writeTestFile(t, filepath.Join(dir, "uevent"), `POWER_SUPPLY_NAME=BAT0
POWER_SUPPLY_STATUS=Discharging
POWER_SUPPLY_TECHNOLOGY=Li-poly
POWER_SUPPLY_CYCLE_COUNT=142
POWER_SUPPLY_CHARGE_FULL_DESIGN=5000000
POWER_SUPPLY_CHARGE_FULL=4500000
POWER_SUPPLY_MODEL_NAME=5B10W13975
POWER_SUPPLY_MANUFACTURER=SMP
`)

	info, err := ReadBatteryInfo(NewCapacitySensor(NewSource(root, "class/power_supply/BAT*/capacity")))
	if err != nil {
		t.Fatalf("ReadBatteryInfo() error = %v", err)
	}
	want := BatteryInfo{
		Name:                "BAT0",
		Status:              "Discharging",
		Manufacturer:        "SMP",
		Model:               "5B10W13975",
		Technology:          "Li-poly",
		CycleCount:          142,
		ChargeFullDesignUAH: 5000000,
		ChargeFullUAH:       4500000,
	}
	if *info != want {
		t.Fatalf("ReadBatteryInfo() = %+v, want %+v", *info, want)
	}
	if got := info.HealthPct(); math.Abs(got-90) > 1e-9 {
		t.Fatalf("HealthPct() = %v, want 90", got)
	}
}

func TestReadBatteryInfo_Missing(t *testing.T) {
	root := t.TempDir()

	_, err := ReadBatteryInfo(NewCapacitySensor(NewSource(root, "class/power_supply/BAT*/capacity")))
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("ReadBatteryInfo() without a battery error = %v, want ErrUnsupported", err)
	}

	// A battery without a uevent file still has a capacity.
	writeTestFile(t, filepath.Join(root, "class/power_supply/BAT1/capacity"), "50\n")
	if _, err := ReadBatteryInfo(NewCapacitySensor(NewSource(root, "class/power_supply/BAT*/capacity"))); err == nil {
		t.Fatal("ReadBatteryInfo() without uevent: expected error")
	}
}

func TestBatteryInfo_HealthPctUnknown(t *testing.T) {
	tests := []BatteryInfo{
		{},
		{ChargeFullDesignUAH: 5000000},
		{ChargeFullUAH: 4000000},
	}
	for _, b := range tests {
		if got := b.HealthPct(); got != 0 {
			t.Fatalf("HealthPct(%+v) = %v, want 0", b, got)
		}
	}
}
