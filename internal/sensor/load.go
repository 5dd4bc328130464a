package sensor

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// loadMinSpan is the shortest window a new load value is computed over.
// Reads closer together than this return the previous value, so every
// consumer within one tick sees the same load.
const loadMinSpan = 500 * time.Millisecond

// LoadSensor reports the CPU busy percentage since its previous computed
// value, from the aggregate cpu line of /proc/stat. The first call covers the
// time since boot.
type LoadSensor struct {
	src *Source
	now func() time.Time

	mu        sync.Mutex
	prevBusy  uint64
	prevTotal uint64
	last      float64
	lastAt    time.Time
	hasLast   bool
}

// NewLoadSensor reads the stat file behind src.
func NewLoadSensor(src *Source) *LoadSensor {
	return &LoadSensor{src: src, now: time.Now}
}

// Kind returns KindLoad.
func (l *LoadSensor) Kind() Kind { return KindLoad }

// Supported reports whether the stat file resolved.
func (l *LoadSensor) Supported() bool { return l.src.Supported() }

// Resolve resolves the stat file again.
func (l *LoadSensor) Resolve() bool { return l.src.Resolve() }

// Measure returns the busy percentage. Calls within loadMinSpan of the last
// computed value return that value again without touching the counters.
func (l *LoadSensor) Measure() (float64, error) {
	if !l.Supported() {
		return 0, fmt.Errorf("%s: %w", KindLoad, ErrUnsupported)
	}
	now := l.now()
	l.mu.Lock()
	if l.hasLast && now.Sub(l.lastAt) < loadMinSpan {
		v := l.last
		l.mu.Unlock()
		return v, nil
	}
	l.mu.Unlock()

	data, err := l.src.Read()
	if err != nil {
		return 0, err
	}
	busy, total, err := parseCPUStat(data)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if total < l.prevTotal || busy < l.prevBusy {
		// Counters went backwards; start over from this reading.
		l.prevBusy, l.prevTotal = 0, 0
	}
	dBusy := busy - l.prevBusy
	dTotal := total - l.prevTotal
	if dTotal == 0 {
		return 0, fmt.Errorf("%s: no ticks elapsed: %w", KindLoad, ErrInvalidReading)
	}
	l.prevBusy, l.prevTotal = busy, total
	l.last = 100 * float64(dBusy) / float64(dTotal)
	l.lastAt, l.hasLast = now, true
	return l.last, nil
}

// parseCPUStat returns busy and total jiffies from the first "cpu " line.
// idle and iowait count as idle.
func parseCPUStat(data []byte) (busy, total uint64, err error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		var idle uint64
		for i, f := range fields[1:] {
			v, perr := strconv.ParseUint(f, 10, 64)
			if perr != nil {
				return 0, 0, fmt.Errorf("parse cpu field %d: %w: %w", i+1, ErrInvalidReading, perr)
			}
			// guest and guest_nice are already included in user and nice.
			if i >= 8 {
				break
			}
			total += v
			if i == 3 || i == 4 {
				idle += v
			}
		}
		return total - idle, total, nil
	}
	return 0, 0, fmt.Errorf("no aggregate cpu line: %w", ErrInvalidReading)
}
