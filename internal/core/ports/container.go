package ports

import (
	"context"
	"errors"

	"github.com/melih/lab-agent/internal/core/domain"
)

var (
	// ErrSegmentNotFound is returned by InspectSegment when no network has the name.
	ErrSegmentNotFound = errors.New("network not found")
	// ErrContainerNotFound is returned when the runtime does not know the container.
	ErrContainerNotFound = errors.New("container not found")
	// ErrImageNotFound is returned by Launch when the image cannot be resolved.
	ErrImageNotFound = errors.New("image not found")
)

// Runtime is the container runtime the agent drives. Adapters exist for the
// Docker Engine API and for the docker/podman command line, so the core
// never depends on either.
type Runtime interface {
	InspectSegment(ctx context.Context, name string) (*domain.Segment, error)
	CreateSegment(ctx context.Context, seg domain.Segment) (*domain.Segment, error)
	SegmentMembers(ctx context.Context, name string) ([]domain.Member, error)

	// Launch starts a detached container and returns its id. Diagnostics
	// from the runtime are carried in the error.
	Launch(ctx context.Context, spec domain.LaunchSpec) (string, error)
	Remove(ctx context.Context, id string) error
	State(ctx context.Context, id string) (string, error)
	Logs(ctx context.Context, id string, tail int) (string, error)
	Close() error
}
