// Package bootstrap makes sure the guest network segment exists.
package bootstrap

import (
	"context"
	"errors"
	"sync"

	"github.com/melih/lab-agent/internal/activity"
	"github.com/melih/lab-agent/internal/core/domain"
	"github.com/melih/lab-agent/internal/core/ports"
	agenterrors "github.com/melih/lab-agent/internal/errors"
	"github.com/melih/lab-agent/internal/logging"
)

// Bootstrapper performs inspect-or-create of one segment.
type Bootstrapper struct {
	runtime        ports.Runtime
	desired        domain.Segment
	fallbackParent string
	interfaces     InterfaceLister
	gate           *Gate
	activity       *activity.Log

	mu      sync.Mutex
	current *domain.Segment
}

// Option configures a Bootstrapper.
type Option func(*Bootstrapper)

// WithFallbackParent sets the parent used when no interface can be detected.
func WithFallbackParent(name string) Option {
	return func(b *Bootstrapper) { b.fallbackParent = name }
}

// WithInterfaces replaces host interface discovery.
func WithInterfaces(list InterfaceLister) Option {
	return func(b *Bootstrapper) { b.interfaces = list }
}

// WithGate shares a readiness gate with the executor.
func WithGate(g *Gate) Option {
	return func(b *Bootstrapper) { b.gate = g }
}

func WithActivity(l *activity.Log) Option {
	return func(b *Bootstrapper) { b.activity = l }
}

// New returns a Bootstrapper for the desired segment.
func New(rt ports.Runtime, desired domain.Segment, opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		runtime:        rt,
		desired:        desired,
		fallbackParent: "eth0",
		interfaces:     SystemInterfaces,
		gate:           NewGate(),
		activity:       activity.New(activity.DefaultCapacity),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Gate returns the readiness gate opened by a successful EnsureSegment.
func (b *Bootstrapper) Gate() *Gate {
	return b.gate
}

// Segment returns the segment found or created by the last successful run.
func (b *Bootstrapper) Segment() (domain.Segment, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return domain.Segment{}, false
	}
	return *b.current, true
}

// Inspect reports the segment as the runtime currently sees it.
func (b *Bootstrapper) Inspect(ctx context.Context) (*domain.Segment, error) {
	seg, err := b.runtime.InspectSegment(ctx, b.desired.Name)
	if errors.Is(err, ports.ErrSegmentNotFound) {
		return nil, agenterrors.Wrap(agenterrors.KindNotFound, "network "+b.desired.Name+" does not exist", err)
	}
	if err != nil {
		return nil, agenterrors.RuntimeError("network inspect", err)
	}
	return seg, nil
}

// EnsureSegment returns the configured segment, creating it if it does not
// exist. Concurrent and repeated calls create at most one segment.
func (b *Bootstrapper) EnsureSegment(ctx context.Context) (*domain.Segment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	name := b.desired.Name
	seg, err := b.runtime.InspectSegment(ctx, name)
	switch {
	case err == nil:
		b.activity.Info("using existing network %s", name)
		if b.desired.Subnet != "" && seg.Subnet != "" && seg.Subnet != b.desired.Subnet {
			b.activity.Warning("network %s has subnet %s, configured %s", name, seg.Subnet, b.desired.Subnet)
		}
		return b.ready(seg), nil
	case !errors.Is(err, ports.ErrSegmentNotFound):
		b.activity.Error("inspecting network %s failed: %v", name, err)
		return nil, agenterrors.BootstrapError(name, err)
	}

	want := b.desired
	if want.NeedsParent() {
		if want.Parent == "" {
			want.Parent = DetectParent(b.interfaces, b.fallbackParent)
		}
		logging.Debug("selected parent interface", "network", name, "parent", want.Parent)
	} else {
		want.Parent = ""
	}

	b.activity.Info("creating %s network %s (%s, gateway %s)", want.Driver, name, want.Subnet, want.Gateway)
	seg, err = b.runtime.CreateSegment(ctx, want)
	if err != nil {
		// another process may have created it in the meantime
		if existing, inspectErr := b.runtime.InspectSegment(ctx, name); inspectErr == nil {
			b.activity.Info("using existing network %s", name)
			return b.ready(existing), nil
		}
		b.activity.Error("creating network %s failed: %v", name, err)
		return nil, agenterrors.BootstrapError(name, err)
	}

	b.activity.Info("network %s created", name)
	return b.ready(seg), nil
}

func (b *Bootstrapper) ready(seg *domain.Segment) *domain.Segment {
	cp := *seg
	b.current = &cp
	b.gate.Open()
	return seg
}
