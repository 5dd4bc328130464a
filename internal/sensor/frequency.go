package sensor

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
)

var cpuDirPattern = regexp.MustCompile(`^cpu([0-9]+)$`)

// FrequencySensor averages the per-core frequencies.
type FrequencySensor struct {
	cpuDir *Source

	mu    sync.RWMutex
	cores []Sensor
	// discover rebuilds cores on Resolve; nil keeps them fixed.
	discover func() []Sensor
}

// NewFrequencySensor aggregates the given core sensors. cpuDir gates support.
func NewFrequencySensor(cpuDir *Source, cores []Sensor) *FrequencySensor {
	return &FrequencySensor{cpuDir: cpuDir, cores: cores}
}

// DiscoverFrequencySensor enumerates cpuN directories under cpuDir and builds
// one core sensor per index from template, which takes the core number.
func DiscoverFrequencySensor(root string, cpuDir *Source, template string) *FrequencySensor {
	f := &FrequencySensor{cpuDir: cpuDir}
	f.discover = func() []Sensor {
		var cores []Sensor
		for _, n := range coreIndices(cpuDir.Path()) {
			cores = append(cores, NewCoreFrequencySensor(NewSource(root, fmt.Sprintf(template, n))))
		}
		return cores
	}
	f.cores = f.discover()
	return f
}

func coreIndices(dir string) []int {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var idx []int
	for _, e := range entries {
		m := cpuDirPattern.FindStringSubmatch(filepath.Base(e.Name()))
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		idx = append(idx, n)
	}
	sort.Ints(idx)
	return idx
}

// Kind returns KindFrequency.
func (f *FrequencySensor) Kind() Kind { return KindFrequency }

// Supported reports whether the cpu directory resolves and at least one core
// can be read.
func (f *FrequencySensor) Supported() bool {
	if !f.cpuDir.Supported() {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, c := range f.cores {
		if c.Supported() {
			return true
		}
	}
	return false
}

// Resolve re-resolves the cpu directory and rediscovers cores when built by
// DiscoverFrequencySensor.
func (f *FrequencySensor) Resolve() bool {
	ok := f.cpuDir.Resolve()
	if f.discover != nil {
		cores := f.discover()
		f.mu.Lock()
		f.cores = cores
		f.mu.Unlock()
		return ok
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	Resolve(f.cores...)
	return ok
}

// Cores returns the number of core sensors.
func (f *FrequencySensor) Cores() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.cores)
}

// Measure returns the mean over cores that could be read. With no cores at
// all the mean is 0; with cores that all failed to read it is an error.
func (f *FrequencySensor) Measure() (float64, error) {
	if !f.cpuDir.Supported() {
		return 0, fmt.Errorf("%s: %w", KindFrequency, ErrUnsupported)
	}
	f.mu.RLock()
	cores := f.cores
	f.mu.RUnlock()
	if len(cores) == 0 {
		return 0, nil
	}

	var sum float64
	var n int
	for _, c := range cores {
		if !c.Supported() {
			continue
		}
		v, err := c.Measure()
		if err != nil {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("%s: no core readable: %w", KindFrequency, ErrUnsupported)
	}
	return sum / float64(n), nil
}
