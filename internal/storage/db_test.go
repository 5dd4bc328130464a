package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cptspacemanspiff/power-sensors/internal/collector"
	"github.com/cptspacemanspiff/power-sensors/internal/sensor"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	})

	return db
}

func testSample(id uuid.UUID, seq uint64, ts int64, readings ...collector.Reading) collector.Sample {
	return collector.Sample{
		TaskID:    id,
		Task:      "power",
		Seq:       seq,
		Timestamp: time.Unix(ts, 0),
		Readings:  readings,
	}
}

func TestReadingsRoundTrip(t *testing.T) {
	db := openTestDB(t)
	id := uuid.New()

	s1 := testSample(id, 1, 10,
		collector.Reading{Kind: sensor.KindCurrent, Value: 1200, Unit: "mA"},
		collector.Reading{Kind: sensor.KindVoltage, Value: 3.9, Unit: "V"},
	)
	s2 := testSample(id, 2, 20,
		collector.Reading{Kind: sensor.KindCurrent, Value: 1300, Unit: "mA"},
		collector.Reading{Kind: sensor.KindPowerEstimation, Value: 5070, Unit: "mW", Estimated: true},
	)
	if err := db.InsertSample(s1); err != nil {
		t.Fatalf("InsertSample(s1) error = %v", err)
	}
	if err := db.InsertSample(s2); err != nil {
		t.Fatalf("InsertSample(s2) error = %v", err)
	}

	ranged, err := db.ReadingsInRange(10, 15)
	if err != nil {
		t.Fatalf("ReadingsInRange() error = %v", err)
	}
	if len(ranged) != 2 || ranged[0].Kind != sensor.KindCurrent || ranged[1].Value != 3.9 {
		t.Fatalf("ReadingsInRange(10, 15) = %#v, want both readings at ts=10", ranged)
	}
	if ranged[0].TaskID != id.String() || ranged[0].Seq != 1 || ranged[0].TimestampMs != 10000 {
		t.Fatalf("ranged[0] = %#v", ranged[0])
	}

	current, err := db.ReadingsInRange(0, 100, sensor.KindCurrent)
	if err != nil {
		t.Fatalf("ReadingsInRange(current) error = %v", err)
	}
	if len(current) != 2 || current[1].Value != 1300 {
		t.Fatalf("ReadingsInRange(current) = %#v", current)
	}

	latest, err := db.LatestReadings()
	if err != nil {
		t.Fatalf("LatestReadings() error = %v", err)
	}
	if len(latest) != 3 {
		t.Fatalf("LatestReadings() = %#v, want one per kind", latest)
	}
	for _, r := range latest {
		if r.Kind == sensor.KindCurrent && r.Value != 1300 {
			t.Fatalf("latest current = %v, want 1300", r.Value)
		}
		if r.Kind == sensor.KindPowerEstimation && !r.Estimated {
			t.Fatal("latest power estimation lost its estimated flag")
		}
	}
}

func TestInsertSamples_Empty(t *testing.T) {
	db := openTestDB(t)
	if err := db.InsertSamples(nil); err != nil {
		t.Fatalf("InsertSamples(nil) error = %v", err)
	}
	if err := db.InsertProcessShares(nil); err != nil {
		t.Fatalf("InsertProcessShares(nil) error = %v", err)
	}
}

func TestProcessSharesRoundTrip(t *testing.T) {
	db := openTestDB(t)

	shares := []collector.AppShare{
		{Timestamp: time.Unix(100, 0), PID: 1, Comm: "a", Cmdline: "/bin/a", CPUTicksDelta: 30, SharePct: 75, PowerMW: 3000, HasPower: true},
		{Timestamp: time.Unix(100, 0), PID: 2, Comm: "b", Cmdline: "/bin/b", CPUTicksDelta: 10, SharePct: 25},
	}
	if err := db.InsertProcessShares(shares); err != nil {
		t.Fatalf("InsertProcessShares() error = %v", err)
	}

	got, err := db.ProcessSharesInRange(100, 100)
	if err != nil {
		t.Fatalf("ProcessSharesInRange() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ProcessSharesInRange() = %#v", got)
	}
	if got[0].PID != 1 || !got[0].HasPower || got[0].PowerMW != 3000 || !got[0].Timestamp.Equal(time.Unix(100, 0)) {
		t.Fatalf("got[0] = %#v", got[0])
	}
	if got[1].HasPower {
		t.Fatal("got[1].HasPower = true")
	}

	none, err := db.ProcessSharesInRange(101, 200)
	if err != nil || len(none) != 0 {
		t.Fatalf("ProcessSharesInRange(101, 200) = %#v, %v", none, err)
	}
}

func TestRecorder_FlushesOnBatchAndClose(t *testing.T) {
	db := openTestDB(t)
	r := NewRecorder(db, 2, time.Hour, nil)
	id := uuid.New()

	r.OnMeasurementReceived(testSample(id, 1, 10, collector.Reading{Kind: sensor.KindLoad, Value: 10, Unit: "%"}))
	r.OnMeasurementReceived(testSample(id, 2, 11, collector.Reading{Kind: sensor.KindLoad, Value: 20, Unit: "%"}))

	deadline := time.Now().Add(5 * time.Second)
	for countRows(t, db, "readings") < 2 {
		if time.Now().After(deadline) {
			t.Fatal("batch was not flushed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	r.OnMeasurementReceived(testSample(id, 3, 12, collector.Reading{Kind: sensor.KindLoad, Value: 30, Unit: "%"}))
	r.Close()
	r.Close()
	if n := countRows(t, db, "readings"); n != 3 {
		t.Fatalf("rows after Close = %d, want 3", n)
	}
}

func TestRecorder_SharesFlushWithSamples(t *testing.T) {
	db := openTestDB(t)
	r := NewRecorder(db, 100, time.Hour, nil)
	sink := r.ShareSink()

	sink([]collector.AppShare{
		{Timestamp: time.Unix(50, 0), PID: 1, Comm: "a", CPUTicksDelta: 3, SharePct: 100},
	})
	if n := countRows(t, db, "process_shares"); n != 0 {
		t.Fatalf("shares written before flush: %d rows", n)
	}

	r.OnMeasurementReceived(testSample(uuid.New(), 1, 50, collector.Reading{Kind: sensor.KindLoad, Value: 5, Unit: "%"}))
	if err := r.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if n := countRows(t, db, "process_shares"); n != 1 {
		t.Fatalf("process_shares rows = %d, want 1", n)
	}
	if n := countRows(t, db, "readings"); n != 1 {
		t.Fatalf("readings rows = %d, want 1", n)
	}

	sink([]collector.AppShare{{Timestamp: time.Unix(51, 0), PID: 2, Comm: "b"}})
	r.Close()
	if n := countRows(t, db, "process_shares"); n != 2 {
		t.Fatalf("process_shares rows after Close = %d, want 2", n)
	}
}
