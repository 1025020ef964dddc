package domain

import (
	"net/netip"
	"time"
)

// DeploymentRequest is what a client asks the agent to run.
type DeploymentRequest struct {
	Image         string            `json:"image"`
	ContainerPort int               `json:"container_port"`
	HostPort      int               `json:"host_port"`
	Name          string            `json:"name"`
	Environment   map[string]string `json:"environment"`
	Command       string            `json:"command"`
	RepoURL       string            `json:"repo_url"`
	Dockerfile    string            `json:"dockerfile"`
}

// DeploymentRecord describes a successful deployment. Never mutated after creation.
type DeploymentRecord struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Image         string     `json:"image"`
	Address       netip.Addr `json:"ip"`
	HostPort      int        `json:"host_port,omitempty"`
	ContainerPort int        `json:"container_port"`
	Created       time.Time  `json:"created"`
}

// Deployment is a record joined with the container's live state.
type Deployment struct {
	DeploymentRecord
	State string `json:"status"`
}
