package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cptspacemanspiff/power-sensors/internal/collector"
	"github.com/cptspacemanspiff/power-sensors/internal/sensor"
)

const schema = `
CREATE TABLE IF NOT EXISTS readings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp_ms INTEGER NOT NULL,
	task TEXT NOT NULL,
	task_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	kind TEXT NOT NULL,
	value REAL NOT NULL,
	unit TEXT NOT NULL,
	estimated INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_readings_ts ON readings(timestamp_ms);
CREATE INDEX IF NOT EXISTS idx_readings_kind_ts ON readings(kind, timestamp_ms);

CREATE TABLE IF NOT EXISTS process_shares (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp_ms INTEGER NOT NULL,
	pid INTEGER NOT NULL,
	comm TEXT NOT NULL,
	cmdline TEXT NOT NULL,
	cpu_ticks_delta INTEGER NOT NULL,
	share_pct REAL NOT NULL,
	power_mw REAL NOT NULL,
	has_power INTEGER NOT NULL,
	estimated INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_process_shares_ts ON process_shares(timestamp_ms);
`

// StoredReading is one persisted sensor reading.
type StoredReading struct {
	TimestampMs int64       `json:"timestamp_ms"`
	Task        string      `json:"task"`
	TaskID      string      `json:"task_id"`
	Seq         uint64      `json:"seq"`
	Kind        sensor.Kind `json:"kind"`
	Value       float64     `json:"value"`
	Unit        string      `json:"unit"`
	Estimated   bool        `json:"estimated"`
}

// DB wraps a SQLite database of collected samples.
type DB struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// InsertSample stores every reading of s.
func (d *DB) InsertSample(s collector.Sample) error {
	return d.InsertSamples([]collector.Sample{s})
}

// InsertSamples batch-inserts the readings of samples in a single transaction.
func (d *DB) InsertSamples(samples []collector.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare("INSERT INTO readings (timestamp_ms, task, task_id, seq, kind, value, unit, estimated) VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, s := range samples {
		ts := s.Timestamp.UnixMilli()
		for _, r := range s.Readings {
			if _, err := stmt.Exec(ts, s.Task, s.TaskID.String(), s.Seq, string(r.Kind), r.Value, r.Unit, boolToInt(r.Estimated)); err != nil {
				tx.Rollback()
				return err
			}
		}
	}
	return tx.Commit()
}

const readingColumns = "timestamp_ms, task, task_id, seq, kind, value, unit, estimated"

// ReadingsInRange returns readings with from <= timestamp <= to, both unix
// seconds, optionally restricted to the given kinds.
func (d *DB) ReadingsInRange(from, to int64, kinds ...sensor.Kind) ([]StoredReading, error) {
	query := "SELECT " + readingColumns + " FROM readings WHERE timestamp_ms >= ? AND timestamp_ms <= ?"
	args := []any{from * 1000, to*1000 + 999}
	if len(kinds) > 0 {
		query += " AND kind IN (?" + strings.Repeat(", ?", len(kinds)-1) + ")"
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	query += " ORDER BY timestamp_ms, id"

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReadings(rows)
}

// LatestReadings returns the most recent reading of each kind.
func (d *DB) LatestReadings() ([]StoredReading, error) {
	rows, err := d.db.Query(
		"SELECT " + readingColumns + " FROM readings WHERE id IN (SELECT MAX(id) FROM readings GROUP BY kind) ORDER BY kind",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReadings(rows)
}

func scanReadings(rows *sql.Rows) ([]StoredReading, error) {
	var out []StoredReading
	for rows.Next() {
		var r StoredReading
		var kind string
		var estimated int
		if err := rows.Scan(&r.TimestampMs, &r.Task, &r.TaskID, &r.Seq, &kind, &r.Value, &r.Unit, &estimated); err != nil {
			return nil, err
		}
		r.Kind = sensor.Kind(kind)
		r.Estimated = estimated != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertProcessShares batch-inserts process shares in a single transaction.
func (d *DB) InsertProcessShares(shares []collector.AppShare) error {
	if len(shares) == 0 {
		return nil
	}
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare("INSERT INTO process_shares (timestamp_ms, pid, comm, cmdline, cpu_ticks_delta, share_pct, power_mw, has_power, estimated) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, s := range shares {
		if _, err := stmt.Exec(s.Timestamp.UnixMilli(), s.PID, s.Comm, s.Cmdline, s.CPUTicksDelta, s.SharePct, s.PowerMW, boolToInt(s.HasPower), boolToInt(s.Estimated)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ProcessSharesInRange returns process shares within the given time range in
// unix seconds.
func (d *DB) ProcessSharesInRange(from, to int64) ([]collector.AppShare, error) {
	rows, err := d.db.Query(
		"SELECT timestamp_ms, pid, comm, cmdline, cpu_ticks_delta, share_pct, power_mw, has_power, estimated FROM process_shares WHERE timestamp_ms >= ? AND timestamp_ms <= ? ORDER BY timestamp_ms, cpu_ticks_delta DESC",
		from*1000, to*1000+999,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var shares []collector.AppShare
	for rows.Next() {
		var s collector.AppShare
		var ts int64
		var hasPower, estimated int
		if err := rows.Scan(&ts, &s.PID, &s.Comm, &s.Cmdline, &s.CPUTicksDelta, &s.SharePct, &s.PowerMW, &hasPower, &estimated); err != nil {
			return nil, err
		}
		s.Timestamp = time.UnixMilli(ts)
		s.HasPower = hasPower != 0
		s.Estimated = estimated != 0
		shares = append(shares, s)
	}
	return shares, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
