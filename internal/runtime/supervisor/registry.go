package supervisor

import (
	"slices"
	"sync"
)

// Registry names the supervisors of running subsystems so /status can
// report on them while they start, restart and stop.
type Registry struct {
	mu sync.RWMutex
	m  map[string]*Supervisor
}

func NewRegistry() *Registry { return &Registry{m: map[string]*Supervisor{}} }

// Set registers sup under name, replacing any previous one. A nil sup removes name.
func (r *Registry) Set(name string, sup *Supervisor) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sup == nil {
		delete(r.m, name)
		return
	}
	r.m[name] = sup
}

func (r *Registry) Delete(name string) { r.Set(name, nil) }

// Health is one subsystem's line in /status.
type Health struct {
	Name     string
	Active   int64
	Restarts uint64
	Panics   uint64
	Err      string
}

// Health reports every registered supervisor, sorted by name.
func (r *Registry) Health() []Health {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]Health, 0, len(r.m))
	for name, sup := range r.m {
		snap := sup.Snapshot()
		h := Health{Name: name, Active: snap.Active, Err: snap.FirstError}
		for _, g := range snap.Goroutines {
			h.Restarts += g.Restarts
			h.Panics += g.Panics
		}
		out = append(out, h)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Health) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}
