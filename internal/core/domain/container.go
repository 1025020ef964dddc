package domain

import (
	"net/netip"
	"time"
)

// Container states as reported by the runtime.
const (
	StateCreated = "created"
	StateRunning = "running"
	StateExited  = "exited"
	StateDead    = "dead"
	StateGone    = "gone" // no longer known to the runtime
)

// Labels the agent puts on containers it launches.
const (
	LabelManaged       = "labagent.managed"
	LabelHostPort      = "labagent.host-port"
	LabelContainerPort = "labagent.container-port"
	LabelCreated       = "labagent.created"
)

// Container represents a container attached to the lab segment.
type Container struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Image    string     `json:"image"`
	Address  netip.Addr `json:"ip"`
	HostPort int        `json:"host_port,omitempty"`
	State    string     `json:"state"` // running, exited, etc.
	Managed  bool       `json:"managed"`

	// Read back from the agent's labels on managed containers.
	ContainerPort int       `json:"container_port,omitempty"`
	Created       time.Time `json:"created"`
}

// Finished reports whether the container will not run again on its own.
func (c Container) Finished() bool {
	return c.State == StateExited || c.State == StateDead || c.State == StateGone
}

// LaunchSpec is everything the runtime needs to start one guest container.
type LaunchSpec struct {
	Name          string
	Image         string
	Network       string
	Address       netip.Addr
	ContainerPort int
	HostPort      int // 0 means do not publish
	Env           []string
	Command       []string
	Labels        map[string]string
}
