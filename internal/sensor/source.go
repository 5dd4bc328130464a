package sensor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// Source locates a sysfs or procfs file. The pattern may contain a glob, in
// which case the first readable match is used.
type Source struct {
	pattern string

	mu   sync.RWMutex
	path string
}

// NewSource joins rel onto root and resolves it.
func NewSource(root, rel string) *Source {
	s := &Source{pattern: filepath.Join(root, rel)}
	s.Resolve()
	return s
}

// Resolve re-runs the lookup and reports whether the source is readable.
func (s *Source) Resolve() bool {
	path := lookup(s.pattern)
	s.mu.Lock()
	s.path = path
	s.mu.Unlock()
	return path != ""
}

// Path returns the resolved path, or "" when unresolved.
func (s *Source) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

// Supported reports whether the last Resolve found a readable path.
func (s *Source) Supported() bool {
	return s.Path() != ""
}

// Read returns the raw contents of the resolved file.
func (s *Source) Read() ([]byte, error) {
	path := s.Path()
	if path == "" {
		return nil, fmt.Errorf("%s: %w", s.pattern, ErrUnsupported)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", path, ErrUnsupported, err)
	}
	return data, nil
}

// ReadInt parses the resolved file as a single decimal integer.
func (s *Source) ReadInt() (int64, error) {
	data, err := s.Read()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w: %w", s.Path(), ErrInvalidReading, err)
	}
	return v, nil
}

// WriteInt writes v to the resolved file.
func (s *Source) WriteInt(v int64) error {
	path := s.Path()
	if path == "" {
		return fmt.Errorf("%s: %w", s.pattern, ErrUnsupported)
	}
	return os.WriteFile(path, []byte(strconv.FormatInt(v, 10)), 0o644)
}

func lookup(pattern string) string {
	candidates := []string{pattern}
	if strings.ContainsAny(pattern, "*?[") {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return ""
		}
		candidates = matches
	}
	for _, c := range candidates {
		if unix.Access(c, unix.R_OK) == nil {
			return c
		}
	}
	return ""
}
