package sensor

import (
	"fmt"
	"path/filepath"
	"sync"
)

// BrightnessSensor reports backlight brightness as a percentage of
// max_brightness for the first device under the backlight class.
type BrightnessSensor struct {
	dir *Source

	mu         sync.RWMutex
	brightness *Source
	maximum    *Source
}

// NewBrightnessSensor binds to the backlight directory behind dir.
func NewBrightnessSensor(dir *Source) *BrightnessSensor {
	b := &BrightnessSensor{dir: dir}
	b.bind()
	return b
}

func (b *BrightnessSensor) bind() bool {
	var brightness, maximum *Source
	if d := b.dir.Path(); d != "" {
		brightness = NewSource(d, "brightness")
		maximum = NewSource(d, "max_brightness")
	}
	b.mu.Lock()
	b.brightness, b.maximum = brightness, maximum
	b.mu.Unlock()
	return brightness != nil && brightness.Supported() && maximum.Supported()
}

func (b *BrightnessSensor) sources() (*Source, *Source) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.brightness, b.maximum
}

// Kind returns KindBrightness.
func (b *BrightnessSensor) Kind() Kind { return KindBrightness }

// Supported reports whether brightness and max_brightness are readable.
func (b *BrightnessSensor) Supported() bool {
	br, mx := b.sources()
	return br != nil && br.Supported() && mx.Supported()
}

// Resolve looks for a backlight device again.
func (b *BrightnessSensor) Resolve() bool {
	b.dir.Resolve()
	return b.bind()
}

// Device returns the backlight device name, or "" when unsupported.
func (b *BrightnessSensor) Device() string {
	if d := b.dir.Path(); d != "" {
		return filepath.Base(d)
	}
	return ""
}

// Measure returns brightness as a percentage of max_brightness.
func (b *BrightnessSensor) Measure() (float64, error) {
	if !b.Supported() {
		return 0, fmt.Errorf("%s: %w", KindBrightness, ErrUnsupported)
	}
	br, mx := b.sources()
	cur, err := br.ReadInt()
	if err != nil {
		return 0, fmt.Errorf("read brightness: %w", err)
	}
	maxB, err := mx.ReadInt()
	if err != nil {
		return 0, fmt.Errorf("read max_brightness: %w", err)
	}
	if maxB <= 0 || cur < 0 || cur > maxB {
		return 0, fmt.Errorf("brightness %d/%d: %w", cur, maxB, ErrInvalidReading)
	}
	return 100 * float64(cur) / float64(maxB), nil
}

// SetPercent writes pct of max_brightness to the device. Needs write access,
// normally root.
func (b *BrightnessSensor) SetPercent(pct float64) error {
	if !b.Supported() {
		return fmt.Errorf("%s: %w", KindBrightness, ErrUnsupported)
	}
	if pct < 0 || pct > 100 {
		return fmt.Errorf("brightness percent %v outside [0, 100]", pct)
	}
	br, mx := b.sources()
	maxB, err := mx.ReadInt()
	if err != nil {
		return fmt.Errorf("read max_brightness: %w", err)
	}
	raw := int64(pct*float64(maxB)/100 + 0.5)
	if err := br.WriteInt(raw); err != nil {
		return fmt.Errorf("write brightness: %w", err)
	}
	return nil
}
