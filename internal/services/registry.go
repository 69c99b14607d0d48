package services

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Readiness states
const (
	StatusReady    = "ready"
	StatusDegraded = "degraded" // an optional probe failed; requests are still served
	StatusNotReady = "not_ready"
)

const defaultProbeTimeout = 2 * time.Second

// Readiness is the outcome of running every registered probe
type Readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Ready reports whether traffic should be routed to the service
func (r Readiness) Ready() bool {
	return r.Status != StatusNotReady
}

type registration struct {
	probe    Probe
	optional bool
}

// Registry runs readiness probes. A failing required probe makes the service
// not ready; a failing optional probe only degrades it.
type Registry struct {
	mu      sync.RWMutex
	probes  map[string]registration
	timeout time.Duration
}

// NewRegistry creates a new probe registry
func NewRegistry() *Registry {
	return &Registry{
		probes:  make(map[string]registration),
		timeout: defaultProbeTimeout,
	}
}

// Register adds a required probe under its name
func (r *Registry) Register(probe Probe) {
	r.add(probe, false)
}

// RegisterOptional adds a probe whose failure degrades but does not fail readiness
func (r *Registry) RegisterOptional(probe Probe) {
	r.add(probe, true)
}

func (r *Registry) add(probe Probe, optional bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes[probe.Name()] = registration{probe: probe, optional: optional}
}

// Get retrieves a probe by name
func (r *Registry) Get(name string) Probe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.probes[name].probe
}

// List returns all registered probe names in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.probes))
	for name := range r.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthCheckAll runs every probe concurrently, each bounded by the probe timeout
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	regs := make(map[string]registration, len(r.probes))
	for name, reg := range r.probes {
		regs[name] = reg
	}
	r.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]error, len(regs))
	)
	for name, reg := range regs {
		wg.Add(1)
		go func(name string, p Probe) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			err := p.HealthCheck(checkCtx)

			mu.Lock()
			results[name] = err
			mu.Unlock()
		}(name, reg.probe)
	}
	wg.Wait()
	return results
}

// Check runs every probe and folds the results into a readiness decision
func (r *Registry) Check(ctx context.Context) Readiness {
	results := r.HealthCheckAll(ctx)

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := Readiness{Status: StatusReady, Checks: make(map[string]string, len(results))}
	for name, err := range results {
		if err == nil {
			out.Checks[name] = "ok"
			continue
		}
		out.Checks[name] = err.Error()

		reg, ok := r.probes[name]
		switch {
		case ok && reg.optional:
			if out.Status == StatusReady {
				out.Status = StatusDegraded
			}
		default:
			out.Status = StatusNotReady
		}
	}
	return out
}

// Unregister removes a probe from the registry
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.probes, name)
}
