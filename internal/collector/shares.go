package collector

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cptspacemanspiff/power-sensors/internal/sensor"
)

// AppShare is a process's share of CPU time over one interval and the power
// attributed to it.
type AppShare struct {
	Timestamp     time.Time `json:"timestamp"`
	PID           int       `json:"pid"`
	Comm          string    `json:"comm"`
	Cmdline       string    `json:"cmdline"`
	CPUTicksDelta int64     `json:"cpu_ticks_delta"`
	SharePct      float64   `json:"share_pct"`
	// PowerMW is only meaningful when HasPower is set.
	PowerMW   float64 `json:"power_mw"`
	HasPower  bool    `json:"has_power"`
	Estimated bool    `json:"estimated"`
}

// ShareSink receives each new batch of shares, e.g. for persistence. It runs
// on the tracker's worker goroutine and should not block for long.
type ShareSink func([]AppShare)

// Locker is the part of a Task that guards derived state.
type Locker interface {
	Lock()
	Unlock()
}

// ShareTracker is a Listener that splits each sample's power across
// processes by their CPU ticks over the same interval. The /proc scan runs on
// its own goroutine; when it falls behind only the newest sample is kept.
type ShareTracker struct {
	lock  Locker
	procs *ProcessCollector
	sink  ShareSink
	log   *slog.Logger

	pending chan Sample
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once

	// guarded by lock
	shares []AppShare
}

// NewShareTracker keeps its share list under lock, normally the task the
// tracker listens to. sink may be nil. Close stops the worker.
func NewShareTracker(lock Locker, procs *ProcessCollector, sink ShareSink, logger *slog.Logger) *ShareTracker {
	if logger == nil {
		logger = slog.Default()
	}
	st := &ShareTracker{
		lock:    lock,
		procs:   procs,
		sink:    sink,
		log:     logger,
		pending: make(chan Sample, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go st.run()
	return st
}

// OnMeasurementReceived hands s to the worker without waiting for the scan.
// A sample the worker has not picked up yet is replaced.
func (st *ShareTracker) OnMeasurementReceived(s Sample) {
	select {
	case <-st.quit:
		return
	default:
	}
	for {
		select {
		case st.pending <- s:
			return
		default:
		}
		select {
		case old := <-st.pending:
			st.log.Debug("process scan behind, sample replaced", "seq", old.Seq)
		default:
		}
	}
}

// Close stops the worker and waits for an in-progress scan to finish.
func (st *ShareTracker) Close() {
	st.once.Do(func() { close(st.quit) })
	<-st.done
}

func (st *ShareTracker) run() {
	defer close(st.done)
	for {
		select {
		case <-st.quit:
			return
		case s := <-st.pending:
			st.update(s)
		}
	}
}

func (st *ShareTracker) update(s Sample) {
	samples, stats, err := st.procs.Collect()
	if err != nil {
		st.log.Warn("process collection failed", "err", err)
		return
	}
	if stats.TotalTicks == 0 {
		return
	}

	power, hasPower := s.Power()
	_, direct := s.Value(sensor.KindPower)
	shares := make([]AppShare, len(samples))
	for i, p := range samples {
		frac := float64(p.CPUTicksDelta) / float64(stats.TotalTicks)
		shares[i] = AppShare{
			Timestamp:     s.Timestamp,
			PID:           p.PID,
			Comm:          p.Comm,
			Cmdline:       p.Cmdline,
			CPUTicksDelta: p.CPUTicksDelta,
			SharePct:      100 * frac,
			HasPower:      hasPower,
			Estimated:     hasPower && !direct,
		}
		if hasPower {
			shares[i].PowerMW = power * frac
		}
	}

	st.lock.Lock()
	st.shares = shares
	sort.SliceStable(st.shares, func(i, j int) bool {
		return st.shares[i].CPUTicksDelta > st.shares[j].CPUTicksDelta
	})
	out := append([]AppShare(nil), st.shares...)
	st.lock.Unlock()

	st.log.Debug("process shares updated",
		"procs", stats.TotalProcs,
		"total_ticks", stats.TotalTicks,
		"captured_ticks", stats.CapturedTicks,
		"power_mw", power)

	if st.sink != nil {
		st.sink(out)
	}
}

// Shares returns the latest shares, largest first.
func (st *ShareTracker) Shares() []AppShare {
	st.lock.Lock()
	defer st.lock.Unlock()
	return append([]AppShare(nil), st.shares...)
}
