package model

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cptspacemanspiff/power-sensors/internal/polynomial"
)

type modelFile struct {
	CalibratedAt time.Time            `toml:"calibrated_at"`
	Curves       map[string]curveFile `toml:"curves"`
}

type curveFile struct {
	Coefficients []float64 `toml:"coefficients"`
}

// Load reads a model file written by Save.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f modelFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode model TOML: %w", err)
	}

	curves := make(map[Quantity]*polynomial.Function, len(f.Curves))
	for name, c := range f.Curves {
		if len(c.Coefficients) == 0 {
			return nil, fmt.Errorf("curve %q has no coefficients", name)
		}
		curves[Quantity(name)] = polynomial.New(c.Coefficients...)
	}
	return New(curves, f.CalibratedAt), nil
}

// Save writes m to path, replacing any existing file atomically.
func Save(path string, m *Model) error {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return fmt.Errorf("model path must not be empty")
	}
	if m == nil {
		return ErrModelUnavailable
	}

	f := modelFile{
		CalibratedAt: m.calibratedAt.UTC(),
		Curves:       make(map[string]curveFile, len(m.curves)),
	}
	for q, c := range m.curves {
		f.Curves[string(q)] = curveFile{Coefficients: c.Coefficients()}
	}

	var data bytes.Buffer
	if err := toml.NewEncoder(&data).Encode(f); err != nil {
		return fmt.Errorf("encode model TOML: %w", err)
	}

	dir := filepath.Dir(trimmedPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".model-*.toml")
	if err != nil {
		return fmt.Errorf("create temp model file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data.Bytes()); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp model file: %w", err)
	}
	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp model file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp model file: %w", err)
	}
	if err := os.Rename(tmpPath, trimmedPath); err != nil {
		return fmt.Errorf("replace model file: %w", err)
	}
	tmpPath = ""

	return nil
}
