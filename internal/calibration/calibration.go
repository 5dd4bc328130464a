package calibration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/cptspacemanspiff/power-sensors/internal/model"
	"github.com/cptspacemanspiff/power-sensors/internal/polynomial"
	"github.com/cptspacemanspiff/power-sensors/internal/sensor"
	"github.com/cptspacemanspiff/power-sensors/internal/storage"
)

// ErrNotEnoughData is returned when a sweep or history has too few points to
// fit a curve.
var ErrNotEnoughData = errors.New("not enough calibration data")

// Point is one (input, output) calibration observation.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Meter is anything that can be read repeatedly, normally a sensor.Sensor.
type Meter interface {
	Measure() (float64, error)
}

// Backlight is a brightness meter that can also be driven.
type Backlight interface {
	Meter
	SetPercent(pct float64) error
}

// SweepOptions controls a calibration sweep.
type SweepOptions struct {
	// Levels are the brightness percentages or load duty cycles to visit.
	Levels []float64
	// Settle is how long to wait after changing level before measuring.
	Settle time.Duration
	Window time.Duration
	Poll   time.Duration
}

func (o SweepOptions) validate() error {
	if len(o.Levels) < 2 {
		return fmt.Errorf("sweep needs at least 2 levels, got %d", len(o.Levels))
	}
	if o.Window <= 0 || o.Poll <= 0 {
		return fmt.Errorf("window and poll must be positive")
	}
	return nil
}

// MeasureOverWindow polls m every poll for window and returns the mean of
// the readings that succeeded.
func MeasureOverWindow(ctx context.Context, m Meter, window, poll time.Duration) (float64, error) {
	if window <= 0 {
		return 0, fmt.Errorf("window must be positive")
	}
	if poll <= 0 {
		return 0, fmt.Errorf("poll interval must be positive")
	}

	var sum float64
	var n int
	var lastErr error
	deadline := time.Now().Add(window)
	for {
		v, err := m.Measure()
		if err != nil {
			lastErr = err
		} else if !math.IsNaN(v) && !math.IsInf(v, 0) {
			sum += v
			n++
		}
		if !time.Now().Add(poll).Before(deadline) {
			break
		}
		if err := sleep(ctx, poll); err != nil {
			return 0, err
		}
	}

	if n == 0 {
		if lastErr != nil {
			return 0, fmt.Errorf("no readings in window: %w", lastErr)
		}
		return 0, fmt.Errorf("no readings in window")
	}
	return sum / float64(n), nil
}

// BrightnessSweep steps the backlight through opts.Levels and measures system
// power at each one. The power at the lowest level is taken as the baseline
// and subtracted, so each point's Y is the screen's own share. The original
// brightness is restored before returning.
func BrightnessSweep(ctx context.Context, bl Backlight, power Meter, opts SweepOptions, logger *slog.Logger) ([]Point, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	orig, err := bl.Measure()
	if err != nil {
		return nil, fmt.Errorf("read brightness: %w", err)
	}
	defer func() {
		if err := bl.SetPercent(orig); err != nil {
			logger.Warn("restore brightness failed", "pct", orig, "err", err)
		}
	}()

	points := make([]Point, 0, len(opts.Levels))
	for _, level := range opts.Levels {
		if err := bl.SetPercent(level); err != nil {
			return nil, fmt.Errorf("set brightness %.0f%%: %w", level, err)
		}
		if err := sleep(ctx, opts.Settle); err != nil {
			return nil, err
		}
		p, err := MeasureOverWindow(ctx, power, opts.Window, opts.Poll)
		if err != nil {
			return nil, fmt.Errorf("brightness %.0f%%: %w", level, err)
		}
		logger.Info("brightness step", "pct", level, "power_mw", p)
		points = append(points, Point{X: level, Y: p})
	}

	base := points[0]
	for _, p := range points[1:] {
		if p.X < base.X {
			base = p
		}
	}
	for i := range points {
		points[i].Y -= base.Y
	}
	return points, nil
}

// LoadSweep runs a busy loop on every CPU at each duty cycle in opts.Levels
// (0 to 100) and measures load and current while it runs.
func LoadSweep(ctx context.Context, load, current Meter, opts SweepOptions, logger *slog.Logger) ([]Point, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	points := make([]Point, 0, len(opts.Levels))
	for _, duty := range opts.Levels {
		if duty < 0 || duty > 100 {
			return nil, fmt.Errorf("duty cycle %v outside [0, 100]", duty)
		}
		p, err := loadStep(ctx, load, current, duty, opts)
		if err != nil {
			return nil, fmt.Errorf("duty %.0f%%: %w", duty, err)
		}
		logger.Info("load step", "duty", duty, "load_pct", p.X, "current_ma", p.Y)
		points = append(points, p)
	}
	return points, nil
}

func loadStep(ctx context.Context, load, current Meter, duty float64, opts SweepOptions) (Point, error) {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < runtime.NumCPU(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			burn(stop, duty)
		}()
	}
	defer func() {
		close(stop)
		wg.Wait()
	}()

	if err := sleep(ctx, opts.Settle); err != nil {
		return Point{}, err
	}
	// Load is a delta between reads, so the first read only starts the window.
	_, _ = load.Measure()
	mA, err := MeasureOverWindow(ctx, current, opts.Window, opts.Poll)
	if err != nil {
		return Point{}, err
	}
	l, err := load.Measure()
	if err != nil {
		return Point{}, fmt.Errorf("read load: %w", err)
	}
	return Point{X: l, Y: mA}, nil
}

const burnPeriod = 100 * time.Millisecond

// burn spins for duty percent of every burnPeriod until stop is closed.
func burn(stop <-chan struct{}, duty float64) {
	busy := time.Duration(float64(burnPeriod) * duty / 100)
	for {
		select {
		case <-stop:
			return
		default:
		}
		start := time.Now()
		for time.Since(start) < busy {
		}
		if idle := burnPeriod - busy; idle > 0 {
			select {
			case <-stop:
				return
			case <-time.After(idle):
			}
		}
	}
}

// BatteryLifePoints turns stored capacity readings into (capacity %, hours
// remaining) points using the last uninterrupted discharge in the history.
// When the discharge stops above 0% the remaining time is extrapolated at
// the run's average rate.
func BatteryLifePoints(readings []storage.StoredReading) ([]Point, error) {
	var caps []storage.StoredReading
	for _, r := range readings {
		if r.Kind == sensor.KindCapacity {
			caps = append(caps, r)
		}
	}
	sort.SliceStable(caps, func(i, j int) bool { return caps[i].TimestampMs < caps[j].TimestampMs })
	if len(caps) < 2 {
		return nil, ErrNotEnoughData
	}

	start := len(caps) - 1
	for start > 0 && caps[start-1].Value >= caps[start].Value {
		start--
	}
	run := caps[start:]
	first, last := run[0], run[len(run)-1]
	if first.Value <= last.Value || last.TimestampMs <= first.TimestampMs {
		return nil, ErrNotEnoughData
	}

	hours := float64(last.TimestampMs-first.TimestampMs) / float64(time.Hour/time.Millisecond)
	rate := (first.Value - last.Value) / hours
	tail := last.Value / rate

	points := make([]Point, 0, len(run))
	for _, r := range run {
		remaining := float64(last.TimestampMs-r.TimestampMs)/float64(time.Hour/time.Millisecond) + tail
		points = append(points, Point{X: r.Value, Y: remaining})
	}
	return points, nil
}

// Build fits one polynomial per quantity. The degree is lowered for
// quantities with too few points to support it, and quantities with fewer
// than two points are skipped.
func Build(points map[model.Quantity][]Point, degree int, at time.Time) (*model.Model, error) {
	if degree < 1 {
		return nil, fmt.Errorf("degree must be at least 1, got %d", degree)
	}

	curves := make(map[model.Quantity]*polynomial.Function, len(points))
	for q, pts := range points {
		if len(pts) < 2 {
			continue
		}
		xs := make([]float64, len(pts))
		ys := make([]float64, len(pts))
		for i, p := range pts {
			xs[i], ys[i] = p.X, p.Y
		}
		f, err := model.Fit(xs, ys, min(degree, len(pts)-1))
		if err != nil {
			return nil, fmt.Errorf("fit %s: %w", q, err)
		}
		curves[q] = f
	}
	if len(curves) == 0 {
		return nil, ErrNotEnoughData
	}
	return model.New(curves, at), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
