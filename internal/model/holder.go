package model

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Holder owns the process-wide model. It starts empty and is populated from
// the model file; Watch keeps it in sync with later calibration runs.
type Holder struct {
	path string
	log  *slog.Logger

	mu      sync.RWMutex
	model   *Model
	watcher *fsnotify.Watcher
}

// NewHolder creates a holder for the model file at path. No file is read until
// Reload or Watch is called.
func NewHolder(path string, logger *slog.Logger) *Holder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Holder{path: filepath.Clean(path), log: logger}
}

// Model returns the current model, or nil when no calibration is available.
func (h *Holder) Model() *Model {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.model
}

// Set replaces the current model.
func (h *Holder) Set(m *Model) {
	h.mu.Lock()
	h.model = m
	h.mu.Unlock()
}

// Reload reads the model file. A missing file clears the model and is not an
// error; a malformed file leaves the previous model in place.
func (h *Holder) Reload() error {
	m, err := Load(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			h.Set(nil)
			return nil
		}
		return fmt.Errorf("load model %s: %w", h.path, err)
	}
	h.Set(m)
	h.log.Info("model loaded", "path", h.path, "quantities", m.Quantities(), "calibrated_at", m.CalibratedAt())
	return nil
}

// Watch loads the model and reloads it whenever the model file is replaced,
// until ctx is done or Close is called.
func (h *Holder) Watch(ctx context.Context) error {
	if err := h.Reload(); err != nil {
		h.log.Warn("initial model load failed", "err", err)
	}

	dir := filepath.Dir(h.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create model watcher: %w", err)
	}
	// Save replaces the file by rename, so watch the directory.
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	h.mu.Lock()
	h.watcher = w
	h.mu.Unlock()

	go h.watch(ctx, w)
	return nil
}

func (h *Holder) watch(ctx context.Context, w *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != h.path {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) {
				continue
			}
			if err := h.Reload(); err != nil {
				h.log.Warn("model reload failed", "err", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			h.log.Warn("model watcher error", "err", err)
		}
	}
}

// Close stops watching the model file.
func (h *Holder) Close() error {
	h.mu.Lock()
	w := h.watcher
	h.watcher = nil
	h.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}
