// Package deploy runs deployment requests against the container runtime.
//
// A deployment moves through Received, AddressReserved and then either
// Launched or LaunchFailed. A failed launch always hands its address (and
// host port) back to the pool before the error is returned.
package deploy

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/melih/lab-agent/internal/activity"
	"github.com/melih/lab-agent/internal/core/bootstrap"
	"github.com/melih/lab-agent/internal/core/domain"
	"github.com/melih/lab-agent/internal/core/ipam"
	"github.com/melih/lab-agent/internal/core/ports"
	"github.com/melih/lab-agent/internal/errors"
	"github.com/melih/lab-agent/internal/logging"
)

// Defaults are applied to requests that leave fields empty.
type Defaults struct {
	ContainerPort int
	NamePrefix    string
	LaunchTimeout time.Duration
}

// Executor turns deployment requests into running containers.
type Executor struct {
	runtime        ports.Runtime
	builder        ports.BuilderService
	network        string
	addresses      *ipam.AddressPool
	hostPorts      *ipam.PortPool
	gate           *bootstrap.Gate
	requireSegment bool
	registry       *Registry
	activity       *activity.Log
	defaults       Defaults
	now            func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithHostPorts publishes each container port on a host port from pool.
func WithHostPorts(pool *ipam.PortPool) Option {
	return func(e *Executor) { e.hostPorts = pool }
}

// WithGate makes deployments wait for the segment. When require is false
// the gate is only reported, not enforced.
func WithGate(g *bootstrap.Gate, require bool) Option {
	return func(e *Executor) {
		e.gate = g
		e.requireSegment = require
	}
}

// WithBuilder enables deployments from a git repository.
func WithBuilder(b ports.BuilderService) Option {
	return func(e *Executor) { e.builder = b }
}

func WithActivity(l *activity.Log) Option {
	return func(e *Executor) { e.activity = l }
}

func WithDefaults(d Defaults) Option {
	return func(e *Executor) { e.defaults = d }
}

// NewExecutor returns an Executor placing containers on network with
// addresses from pool.
func NewExecutor(rt ports.Runtime, network string, pool *ipam.AddressPool, opts ...Option) *Executor {
	e := &Executor{
		runtime:   rt,
		network:   network,
		addresses: pool,
		registry:  NewRegistry(),
		activity:  activity.New(activity.DefaultCapacity),
		defaults: Defaults{
			ContainerPort: 80,
			NamePrefix:    "lab-",
			LaunchTimeout: 2 * time.Minute,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry exposes the deployment records.
func (e *Executor) Registry() *Registry { return e.registry }

// Network returns the segment name deployments attach to.
func (e *Executor) Network() string { return e.network }

// Deploy validates req, reserves an address, launches the container and
// records it. It never retries.
func (e *Executor) Deploy(ctx context.Context, req domain.DeploymentRequest) (*domain.DeploymentRecord, error) {
	p, err := e.normalize(req)
	if err != nil {
		return nil, err
	}

	if e.requireSegment && e.gate != nil && !e.gate.Ready() {
		return nil, errors.SegmentNotReady(e.network)
	}

	// held until the record is stored
	if !e.registry.Claim(p.name) {
		return nil, errors.ValidationError("name %q is already deployed", p.name)
	}
	defer e.registry.Unclaim(p.name)

	if p.repoURL != "" {
		if err := e.build(ctx, &p); err != nil {
			return nil, err
		}
	}

	addr, err := e.addresses.Reserve()
	if err != nil {
		e.activity.Warning("no free address for %s", p.name)
		return nil, errors.PoolExhausted("address", err)
	}
	committed := false
	defer func() {
		if !committed {
			e.addresses.Release(addr)
			logging.Debug("released address", "address", addr, "name", p.name)
		}
	}()

	hostPort, err := e.reserveHostPort(p.hostPort)
	if err != nil {
		return nil, err
	}
	if hostPort != 0 {
		defer func() {
			if !committed {
				e.hostPorts.Release(hostPort)
			}
		}()
	}

	created := e.now().UTC()
	spec := domain.LaunchSpec{
		Name:          p.name,
		Image:         p.image,
		Network:       e.network,
		Address:       addr,
		ContainerPort: p.containerPort,
		HostPort:      hostPort,
		Env:           p.env,
		Command:       p.command,
		Labels: map[string]string{
			domain.LabelManaged:       "true",
			domain.LabelContainerPort: strconv.Itoa(p.containerPort),
			domain.LabelCreated:       created.Format(time.RFC3339),
		},
	}
	if hostPort != 0 {
		spec.Labels[domain.LabelHostPort] = strconv.Itoa(hostPort)
	}

	logging.Info("launching container", "name", p.name, "image", p.image, "address", addr, "host_port", hostPort)

	// Only the timeout stops a launch; the client going away does not.
	launchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.defaults.LaunchTimeout)
	defer cancel()

	id, err := e.runtime.Launch(launchCtx, spec)
	if err != nil {
		e.activity.Error("deployment of %s failed, released %s: %v", p.name, addr, err)
		switch {
		case stderrors.Is(err, ports.ErrImageNotFound):
			return nil, errors.ImageNotFound(p.image, err)
		case stderrors.Is(err, context.DeadlineExceeded):
			return nil, errors.LaunchError(p.name, fmt.Errorf("timed out after %s: %w", e.defaults.LaunchTimeout, err))
		default:
			return nil, errors.LaunchError(p.name, err)
		}
	}

	if err := e.addresses.Confirm(addr); err != nil {
		logging.Warn("address confirm failed", "address", addr, "error", err)
	}
	if hostPort != 0 {
		if err := e.hostPorts.Confirm(hostPort); err != nil {
			logging.Warn("host port confirm failed", "port", hostPort, "error", err)
		}
	}
	committed = true

	rec := domain.DeploymentRecord{
		ID:            id,
		Name:          p.name,
		Image:         p.image,
		Address:       addr,
		HostPort:      hostPort,
		ContainerPort: p.containerPort,
		Created:       created,
	}
	e.registry.Put(rec)
	e.activity.Deployment("deployed %s (%s) at %s", p.name, p.image, addr)
	return &rec, nil
}

func (e *Executor) reserveHostPort(requested int) (int, error) {
	if e.hostPorts == nil {
		return 0, nil
	}
	if requested != 0 {
		if err := e.hostPorts.ReserveValue(requested); err != nil {
			return 0, errors.PoolExhausted(fmt.Sprintf("host port %d", requested), err)
		}
		return requested, nil
	}
	port, err := e.hostPorts.Reserve()
	if err != nil {
		return 0, errors.PoolExhausted("host port", err)
	}
	return port, nil
}

func (e *Executor) build(ctx context.Context, p *plan) error {
	if e.builder == nil {
		return errors.ValidationError("source builds are not enabled")
	}
	tag := p.image
	if tag == "" {
		tag = "lab-build-" + p.name
	}
	e.activity.Info("building %s from %s", tag, p.repoURL)

	buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 4*e.defaults.LaunchTimeout)
	defer cancel()
	image, err := e.builder.BuildImage(buildCtx, p.repoURL, p.dockerfile, tag)
	if err != nil {
		e.activity.Error("build of %s failed: %v", p.repoURL, err)
		return errors.LaunchError(p.name, fmt.Errorf("build: %w", err))
	}
	p.image = image
	return nil
}

// Stats reports pool usage.
type Stats struct {
	Addresses ipam.Stats  `json:"addresses"`
	HostPorts *ipam.Stats `json:"host_ports,omitempty"`
}

func (e *Executor) Stats() Stats {
	s := Stats{Addresses: e.addresses.Stats()}
	if e.hostPorts != nil {
		hp := e.hostPorts.Stats()
		s.HostPorts = &hp
	}
	return s
}

// SegmentReady reports the readiness gate; without a gate it is always true.
func (e *Executor) SegmentReady() bool {
	return e.gate == nil || e.gate.Ready()
}
