package collector

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry is the set of active collection tasks held by the daemon. All
// membership changes and enumerations happen under one mutex, which is never
// held while a task runs listeners or stops.
type Registry struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*Task
	log   *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{tasks: make(map[uuid.UUID]*Task), log: logger}
}

// Add inserts t and reports whether it was not already present.
func (r *Registry) Add(t *Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.ID()]; ok {
		return false
	}
	r.tasks[t.ID()] = t
	r.log.Debug("task added", "task", t.Name(), "task_id", t.ID().String(), "tasks", len(r.tasks))
	return true
}

// Remove deletes t and reports whether it was present. The task is not
// stopped.
func (r *Registry) Remove(t *Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.ID()]; !ok {
		return false
	}
	delete(r.tasks, t.ID())
	r.log.Debug("task removed", "task", t.Name(), "task_id", t.ID().String(), "tasks", len(r.tasks))
	return true
}

// Contains reports whether t has been added and not removed.
func (r *Registry) Contains(t *Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[t.ID()]
	return ok
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Tasks returns a snapshot of the registered tasks ordered by name.
func (r *Registry) Tasks() []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []*Task {
	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name() != out[j].Name() {
			return out[i].Name() < out[j].Name()
		}
		return out[i].ID().String() < out[j].ID().String()
	})
	return out
}

// StopAll empties the registry and stops every task that was in it.
func (r *Registry) StopAll() {
	r.mu.Lock()
	tasks := r.snapshotLocked()
	r.tasks = make(map[uuid.UUID]*Task)
	r.mu.Unlock()

	for _, t := range tasks {
		t.Stop()
	}
	r.log.Info("all collection tasks stopped", "count", len(tasks))
}

// Resolve re-resolves the sensors of every registered task, typically after
// resume when devices may have come and gone.
func (r *Registry) Resolve() {
	for _, t := range r.Tasks() {
		t.Resolve()
	}
	r.log.Info("sensor sources re-resolved")
}
