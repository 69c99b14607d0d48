package services

import (
	"context"
)

// Probe is a dependency the service needs to be ready
type Probe interface {
	// Name identifies the dependency in readiness reports
	Name() string

	// HealthCheck checks if the dependency is available
	HealthCheck(ctx context.Context) error
}

// BaseProbe provides common functionality for probes
type BaseProbe struct {
	name string
}

// Name returns the dependency name
func (p *BaseProbe) Name() string {
	return p.name
}

// ProbeFunc adapts a function to the Probe interface
type ProbeFunc struct {
	BaseProbe
	check func(ctx context.Context) error
}

// NewProbeFunc wraps check as a named probe
func NewProbeFunc(name string, check func(ctx context.Context) error) *ProbeFunc {
	return &ProbeFunc{BaseProbe: BaseProbe{name: name}, check: check}
}

// HealthCheck runs the wrapped check
func (p *ProbeFunc) HealthCheck(ctx context.Context) error {
	return p.check(ctx)
}
