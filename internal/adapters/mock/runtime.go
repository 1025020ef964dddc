// Package mock provides an in-memory container runtime for tests.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/melih/lab-agent/internal/core/domain"
	"github.com/melih/lab-agent/internal/core/ports"
)

var _ ports.Runtime = (*Runtime)(nil)

type container struct {
	domain.Container
	network string
	labels  map[string]string
	logs    string
}

// Runtime implements ports.Runtime in memory.
type Runtime struct {
	mu         sync.Mutex
	segments   map[string]domain.Segment
	containers map[string]*container
	nextID     int

	// Calls
	CreateSegmentCalls int
	Launches           []domain.LaunchSpec
	Removed            []string

	// Error injection
	InspectErr error
	CreateErr  error
	MembersErr error
	RemoveErr  error
	LaunchErr  error

	// LaunchFunc, if set, decides the outcome of each launch.
	LaunchFunc func(ctx context.Context, spec domain.LaunchSpec) error

	// LaunchDelay simulates a slow runtime; the launch honours ctx.
	LaunchDelay time.Duration

	// AfterMembers, if set, runs once SegmentMembers has taken its
	// snapshot and before it returns, with the runtime unlocked.
	AfterMembers func()
}

// New returns an empty runtime with no segments.
func New() *Runtime {
	return &Runtime{
		segments:   make(map[string]domain.Segment),
		containers: make(map[string]*container),
	}
}

// AddSegment makes a segment exist.
func (r *Runtime) AddSegment(seg domain.Segment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.segments[seg.Name] = seg
}

// AddContainer attaches a pre-existing container to network.
func (r *Runtime) AddContainer(network string, c domain.Container) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.State == "" {
		c.State = domain.StateRunning
	}
	r.containers[c.ID] = &container{Container: c, network: network, labels: map[string]string{}}
}

// SetState changes a container's state, e.g. to simulate it exiting.
func (r *Runtime) SetState(id, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.containers[id]; ok {
		c.State = state
	}
}

// Vanish deletes a container behind the agent's back.
func (r *Runtime) Vanish(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.containers, id)
}

// SetLogs sets the log text returned for id.
func (r *Runtime) SetLogs(id, logs string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.containers[id]; ok {
		c.logs = logs
	}
}

// Running returns the number of containers the runtime holds.
func (r *Runtime) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.containers)
}

func (r *Runtime) InspectSegment(ctx context.Context, name string) (*domain.Segment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.InspectErr != nil {
		return nil, r.InspectErr
	}
	seg, ok := r.segments[name]
	if !ok {
		return nil, ports.ErrSegmentNotFound
	}
	return &seg, nil
}

func (r *Runtime) CreateSegment(ctx context.Context, seg domain.Segment) (*domain.Segment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CreateSegmentCalls++
	if r.CreateErr != nil {
		return nil, r.CreateErr
	}
	if _, ok := r.segments[seg.Name]; ok {
		return nil, fmt.Errorf("network with name %s already exists", seg.Name)
	}
	seg.ID = fmt.Sprintf("net%04d", len(r.segments)+1)
	r.segments[seg.Name] = seg
	return &seg, nil
}

func (r *Runtime) SegmentMembers(ctx context.Context, name string) ([]domain.Member, error) {
	out, err := r.members(name)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	hook := r.AfterMembers
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, nil
}

func (r *Runtime) members(name string) ([]domain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.MembersErr != nil {
		return nil, r.MembersErr
	}
	if _, ok := r.segments[name]; !ok {
		return nil, ports.ErrSegmentNotFound
	}

	var out []domain.Member
	for _, c := range r.containers {
		if c.network == name {
			out = append(out, c.Container)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Runtime) Launch(ctx context.Context, spec domain.LaunchSpec) (string, error) {
	r.mu.Lock()
	r.Launches = append(r.Launches, spec)
	fn, delay, launchErr := r.LaunchFunc, r.LaunchDelay, r.LaunchErr
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fn != nil {
		if err := fn(ctx, spec); err != nil {
			return "", err
		}
	}
	if launchErr != nil {
		return "", launchErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.segments[spec.Network]; !ok {
		return "", fmt.Errorf("network %s not found", spec.Network)
	}
	for _, c := range r.containers {
		if c.Name == spec.Name {
			return "", fmt.Errorf("container name %q is already in use", spec.Name)
		}
		if c.network == spec.Network && c.Address == spec.Address {
			return "", fmt.Errorf("address %s already in use on %s", spec.Address, spec.Network)
		}
	}

	r.nextID++
	id := fmt.Sprintf("%064x", r.nextID)
	r.containers[id] = &container{
		Container: domain.Container{
			ID:            id,
			Name:          spec.Name,
			Image:         spec.Image,
			Address:       spec.Address,
			HostPort:      spec.HostPort,
			ContainerPort: spec.ContainerPort,
			State:         domain.StateRunning,
			Managed:       spec.Labels[domain.LabelManaged] == "true",
		},
		network: spec.Network,
		labels:  spec.Labels,
	}
	return id, nil
}

func (r *Runtime) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RemoveErr != nil {
		return r.RemoveErr
	}
	if _, ok := r.containers[id]; !ok {
		return ports.ErrContainerNotFound
	}
	delete(r.containers, id)
	r.Removed = append(r.Removed, id)
	return nil
}

func (r *Runtime) State(ctx context.Context, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[id]
	if !ok {
		return "", ports.ErrContainerNotFound
	}
	return c.State, nil
}

func (r *Runtime) Logs(ctx context.Context, id string, tail int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[id]
	if !ok {
		return "", ports.ErrContainerNotFound
	}
	return c.logs, nil
}

func (r *Runtime) Close() error { return nil }
