package deploy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"

	"github.com/melih/lab-agent/internal/config"
	"github.com/melih/lab-agent/internal/core/domain"
	"github.com/melih/lab-agent/internal/errors"
)

// plan is a validated request with defaults filled in.
type plan struct {
	name          string
	image         string
	repoURL       string
	dockerfile    string
	containerPort int
	hostPort      int
	env           []string
	command       []string
}

func (e *Executor) normalize(req domain.DeploymentRequest) (plan, error) {
	p := plan{
		name:          strings.TrimSpace(req.Name),
		image:         strings.TrimSpace(req.Image),
		repoURL:       strings.TrimSpace(req.RepoURL),
		dockerfile:    strings.TrimSpace(req.Dockerfile),
		containerPort: req.ContainerPort,
		hostPort:      req.HostPort,
	}

	if p.image == "" && p.repoURL == "" {
		return plan{}, errors.ValidationError("image is required")
	}
	if p.image != "" && strings.ContainsAny(p.image, " \t\n") {
		return plan{}, errors.ValidationError("invalid image reference %q", p.image)
	}

	if p.containerPort == 0 {
		p.containerPort = e.defaults.ContainerPort
	}
	if p.containerPort < 1 || p.containerPort > 65535 {
		return plan{}, errors.ValidationError("container port %d out of range", p.containerPort)
	}
	if p.hostPort != 0 {
		if e.hostPorts == nil {
			return plan{}, errors.ValidationError("host port publishing is disabled")
		}
		if !e.hostPorts.Contains(p.hostPort) {
			return plan{}, errors.ValidationError("host port %d outside the published range", p.hostPort)
		}
	}

	if p.name == "" {
		p.name = e.defaults.NamePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	if err := config.ValidateContainerName(p.name); err != nil {
		return plan{}, errors.ValidationError("%v", err)
	}

	keys := make([]string, 0, len(req.Environment))
	for k := range req.Environment {
		if k == "" || strings.ContainsAny(k, "= \t\n") {
			return plan{}, errors.ValidationError("invalid environment variable name %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.env = append(p.env, fmt.Sprintf("%s=%s", k, req.Environment[k]))
	}

	if cmd := strings.TrimSpace(req.Command); cmd != "" {
		args, err := shellquote.Split(cmd)
		if err != nil {
			return plan{}, errors.ValidationError("invalid command: %v", err)
		}
		p.command = args
	}
	return p, nil
}
