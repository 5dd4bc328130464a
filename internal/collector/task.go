package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cptspacemanspiff/power-sensors/internal/model"
	"github.com/cptspacemanspiff/power-sensors/internal/sensor"
)

// ErrAlreadyRunning is returned by Start on a task that is already sampling.
var ErrAlreadyRunning = errors.New("collection task already running")

// ListenerID identifies a registration returned by RegisterListener.
type ListenerID uint64

type listenerEntry struct {
	id ListenerID
	l  Listener
}

// Task samples a fixed set of sensors on its own goroutine and hands every
// sample to the registered listeners.
//
// Three locks are involved. mu guards lifecycle state and the listener list.
// deliverMu is held for the duration of one fan-out so UnregisterListener can
// wait for it. data is the caller-visible Lock/Unlock region guarding the
// latest sample and any state listeners derive from samples.
type Task struct {
	id       uuid.UUID
	name     string
	sensors  []sensor.Sensor
	interval time.Duration
	log      *slog.Logger

	mu        sync.Mutex
	listeners []listenerEntry
	nextID    ListenerID
	cancel    context.CancelFunc
	done      chan struct{}

	deliverMu sync.Mutex

	data   sync.Mutex
	latest *Sample
	seq    uint64
	lastTS time.Time
}

// NewTask creates an idle task.
func NewTask(name string, interval time.Duration, sensors []sensor.Sensor, logger *slog.Logger) *Task {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	id := uuid.New()
	return &Task{
		id:       id,
		name:     name,
		sensors:  append([]sensor.Sensor(nil), sensors...),
		interval: interval,
		log:      logger.With("task", name, "task_id", id.String()),
	}
}

// ID is unique per task instance and is stored with every reading.
func (t *Task) ID() uuid.UUID { return t.id }

// Name returns the name given to NewTask.
func (t *Task) Name() string { return t.name }

// Interval is the time between ticks.
func (t *Task) Interval() time.Duration { return t.interval }

// Start begins sampling. The first sample is taken immediately. The loop
// ends when ctx is done or Stop is called.
func (t *Task) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.runningLocked() {
		return fmt.Errorf("%s: %w", t.name, ErrAlreadyRunning)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	go t.run(loopCtx, done)

	t.log.Info("collection task started", "interval", t.interval, "sensors", len(t.sensors))
	return nil
}

// Stop ends sampling and waits for an in-flight tick to finish. No listener
// is called after Stop returns. Calling Stop on an idle task does nothing.
// Like UnregisterListener it must not be called from inside a listener of
// the same task: the wait would never end. Stop the task from another
// goroutine instead.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		t.log.Info("collection task stopped")
	}
	if done != nil {
		<-done
	}
}

// Running reports whether the sampling loop is active.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runningLocked()
}

func (t *Task) runningLocked() bool {
	if t.cancel == nil || t.done == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// RegisterListener adds l and returns the id to unregister it with.
func (t *Task) RegisterListener(l Listener) ListenerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	t.listeners = append(t.listeners, listenerEntry{id: t.nextID, l: l})
	return t.nextID
}

// UnregisterListener removes a listener. When it returns, any delivery in
// progress has finished and the listener will not be called again. It must
// not be called from inside a listener of the same task.
func (t *Task) UnregisterListener(id ListenerID) bool {
	t.mu.Lock()
	found := false
	for i, e := range t.listeners {
		if e.id == id {
			t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
			found = true
			break
		}
	}
	t.mu.Unlock()

	// Wait out a delivery that may still hold the old listener list.
	t.deliverMu.Lock()
	t.deliverMu.Unlock()
	return found
}

// Lock acquires the task's data lock. Hold it across any read-modify-write
// of state derived from this task's samples.
func (t *Task) Lock() { t.data.Lock() }

// Unlock releases the data lock.
func (t *Task) Unlock() { t.data.Unlock() }

// Latest returns a copy of the most recent sample.
func (t *Task) Latest() (Sample, bool) {
	t.data.Lock()
	defer t.data.Unlock()
	if t.latest == nil {
		return Sample{}, false
	}
	return t.latest.clone(), true
}

// Resolve re-resolves the backing sources of every watched sensor.
func (t *Task) Resolve() {
	sensor.Resolve(t.sensors...)
}

func (t *Task) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			t.tick()
		}
	}
}

func (t *Task) tick() {
	readings, unavailable := t.measure()

	t.data.Lock()
	t.seq++
	ts := time.Now()
	if !ts.After(t.lastTS) {
		ts = t.lastTS.Add(time.Nanosecond)
	}
	t.lastTS = ts
	s := Sample{
		TaskID:      t.id,
		Task:        t.name,
		Seq:         t.seq,
		Timestamp:   ts,
		Readings:    readings,
		Unavailable: unavailable,
	}
	t.latest = &s
	out := s.clone()
	t.data.Unlock()

	t.deliver(out)
}

func (t *Task) measure() ([]Reading, []sensor.Kind) {
	readings := make([]Reading, 0, len(t.sensors))
	var unavailable []sensor.Kind

	for _, s := range t.sensors {
		active := sensor.Active(s)
		kind := active.Kind()
		if !active.Supported() {
			unavailable = append(unavailable, kind)
			continue
		}
		v, err := active.Measure()
		switch {
		case err == nil && !math.IsNaN(v) && !math.IsInf(v, 0):
			readings = append(readings, Reading{
				Kind:      kind,
				Value:     v,
				Unit:      kind.Unit(),
				Estimated: sensor.IsEstimated(active),
			})
		case err == nil, errors.Is(err, sensor.ErrInvalidReading):
			t.log.Debug("invalid reading skipped", "kind", kind, "value", v, "err", err)
		case errors.Is(err, model.ErrModelUnavailable), errors.Is(err, model.ErrNoCurve):
			unavailable = append(unavailable, kind)
		default:
			t.log.Debug("sensor read failed", "kind", kind, "err", err)
			unavailable = append(unavailable, kind)
		}
	}
	return readings, unavailable
}

func (t *Task) deliver(s Sample) {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	t.mu.Lock()
	listeners := append([]listenerEntry(nil), t.listeners...)
	t.mu.Unlock()

	for _, e := range listeners {
		t.notify(e, s)
	}
}

func (t *Task) notify(e listenerEntry, s Sample) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("listener panicked", "listener", e.id, "panic", r)
		}
	}()
	e.l.OnMeasurementReceived(s)
}
