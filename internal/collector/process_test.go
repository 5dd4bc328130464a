package collector

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cptspacemanspiff/power-sensors/internal/sensor"
)

func writeTestFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func writeProcStat(t *testing.T, root string, pid int, comm string, utime, stime int64, cpu int) {
	t.Helper()
	fields := make([]string, 40)
	for i := range fields {
		fields[i] = "0"
	}
	fields[0] = "S"
	fields[11] = strconv.FormatInt(utime, 10)
	fields[12] = strconv.FormatInt(stime, 10)
	fields[36] = strconv.Itoa(cpu)
	line := fmt.Sprintf("%d (%s) %s\n", pid, comm, strings.Join(fields, " "))
	writeTestFile(t, filepath.Join(root, strconv.Itoa(pid), "stat"), line)
}

func TestProcessCollector_Deltas(t *testing.T) {
	root := t.TempDir()
	writeProcStat(t, root, 100, "firefox", 100, 50, 0)
	writeProcStat(t, root, 200, "my (weird) proc", 10, 0, 1)
	writeProcStat(t, root, 300, "idle", 5, 5, 2)
	writeTestFile(t, filepath.Join(root, "100", "cmdline"), "/usr/bin/firefox\x00--new-window\x00")
	writeTestFile(t, filepath.Join(root, "stat"), "cpu 1 2 3 4\n")

	pc := NewProcessCollector(root, 2)
	samples, stats, err := pc.Collect()
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(samples) != 0 || stats.TotalTicks != 0 {
		t.Fatalf("first Collect() = %v, %+v, want baseline only", samples, stats)
	}

	writeProcStat(t, root, 100, "firefox", 130, 60, 3)
	writeProcStat(t, root, 200, "my (weird) proc", 30, 5, 1)
	writeProcStat(t, root, 300, "idle", 6, 5, 2)

	samples, stats, err = pc.Collect()
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if stats.TotalProcs != 3 || stats.TotalTicks != 66 || stats.CapturedTicks != 65 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(samples) != 2 {
		t.Fatalf("len(samples) = %d, want top 2", len(samples))
	}
	if samples[0].PID != 100 || samples[0].CPUTicksDelta != 40 || samples[0].LastCPU != 3 {
		t.Fatalf("samples[0] = %+v", samples[0])
	}
	if samples[0].Cmdline != "/usr/bin/firefox --new-window" {
		t.Fatalf("Cmdline = %q", samples[0].Cmdline)
	}
	if samples[1].Comm != "my (weird) proc" || samples[1].CPUTicksDelta != 25 {
		t.Fatalf("samples[1] = %+v", samples[1])
	}
}

func TestProcessCollector_MissingRoot(t *testing.T) {
	pc := NewProcessCollector(filepath.Join(t.TempDir(), "nope"), 5)
	if _, _, err := pc.Collect(); err == nil {
		t.Fatal("Collect() error = nil for a missing proc root")
	}
}

type plainLock struct{ locked int }

func (p *plainLock) Lock()   { p.locked++ }
func (p *plainLock) Unlock() { p.locked-- }

func TestShareTracker_SplitsPower(t *testing.T) {
	root := t.TempDir()
	writeProcStat(t, root, 1, "a", 0, 0, 0)
	writeProcStat(t, root, 2, "b", 0, 0, 0)

	lock := &plainLock{}
	var sunk []AppShare
	st := NewShareTracker(lock, NewProcessCollector(root, 10), func(s []AppShare) { sunk = s }, testLogger())
	t.Cleanup(st.Close)

	sample := Sample{
		Timestamp: time.Unix(1000, 0),
		Readings:  []Reading{{Kind: sensor.KindPower, Value: 4000, Unit: "mW"}},
	}
	st.update(sample)
	if len(st.Shares()) != 0 || sunk != nil {
		t.Fatal("shares produced from the baseline collection")
	}

	writeProcStat(t, root, 1, "a", 10, 0, 0)
	writeProcStat(t, root, 2, "b", 20, 10, 0)
	st.update(sample)

	shares := st.Shares()
	if len(shares) != 2 {
		t.Fatalf("Shares() = %+v", shares)
	}
	if shares[0].PID != 2 || shares[0].SharePct != 75 || shares[0].PowerMW != 3000 {
		t.Fatalf("shares[0] = %+v", shares[0])
	}
	if shares[1].PID != 1 || shares[1].PowerMW != 1000 || !shares[1].HasPower || shares[1].Estimated {
		t.Fatalf("shares[1] = %+v", shares[1])
	}
	if len(sunk) != 2 {
		t.Fatalf("sink received %d shares", len(sunk))
	}
	if lock.locked != 0 {
		t.Fatalf("lock left held %d times", lock.locked)
	}
}

func TestShareTracker_WithoutPower(t *testing.T) {
	root := t.TempDir()
	writeProcStat(t, root, 1, "a", 0, 0, 0)

	st := NewShareTracker(&plainLock{}, NewProcessCollector(root, 10), nil, testLogger())
	t.Cleanup(st.Close)
	sample := Sample{Unavailable: []sensor.Kind{sensor.KindPower}}
	st.update(sample)
	writeProcStat(t, root, 1, "a", 7, 0, 0)
	st.update(sample)

	shares := st.Shares()
	if len(shares) != 1 {
		t.Fatalf("Shares() = %+v", shares)
	}
	if shares[0].HasPower || shares[0].PowerMW != 0 || math.Abs(shares[0].SharePct-100) > 1e-9 {
		t.Fatalf("shares[0] = %+v", shares[0])
	}
}

func TestShareTracker_EstimatedPower(t *testing.T) {
	root := t.TempDir()
	writeProcStat(t, root, 1, "a", 0, 0, 0)

	st := NewShareTracker(&plainLock{}, NewProcessCollector(root, 10), nil, testLogger())
	t.Cleanup(st.Close)
	sample := Sample{Readings: []Reading{{Kind: sensor.KindPowerEstimation, Value: 1500, Estimated: true}}}
	st.update(sample)
	writeProcStat(t, root, 1, "a", 3, 0, 0)
	st.update(sample)

	shares := st.Shares()
	if len(shares) != 1 || !shares[0].Estimated || shares[0].PowerMW != 1500 {
		t.Fatalf("Shares() = %+v", shares)
	}
}

func TestShareTracker_DoesNotBlockTask(t *testing.T) {
	root := t.TempDir()
	writeProcStat(t, root, 1, "a", 0, 0, 0)

	entered := make(chan []AppShare, 1)
	gate := make(chan struct{})
	sink := func(s []AppShare) {
		select {
		case entered <- s:
		default:
		}
		<-gate
	}
	st := NewShareTracker(&sync.Mutex{}, NewProcessCollector(root, 10), sink, testLogger())

	sample := Sample{Readings: []Reading{{Kind: sensor.KindPower, Value: 2000}}}
	st.update(sample) // baseline
	writeProcStat(t, root, 1, "a", 5, 0, 0)

	st.OnMeasurementReceived(sample)
	select {
	case got := <-entered:
		if len(got) != 1 || got[0].PowerMW != 2000 {
			t.Fatalf("sink received %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker never reached the sink")
	}

	// The worker is parked in the sink; delivery must still return at once.
	returned := make(chan struct{})
	go func() {
		for i := uint64(0); i < 5; i++ {
			st.OnMeasurementReceived(Sample{Seq: i})
		}
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("OnMeasurementReceived blocked behind a slow sink")
	}

	close(gate)
	st.Close()
	st.Close()
	st.OnMeasurementReceived(sample)

	if shares := st.Shares(); len(shares) != 1 || shares[0].PID != 1 {
		t.Fatalf("Shares() = %+v", shares)
	}
}
