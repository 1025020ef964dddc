// Package cli drives docker or podman through their command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/melih/lab-agent/internal/core/domain"
	"github.com/melih/lab-agent/internal/core/ports"
	"github.com/melih/lab-agent/internal/logging"
	"github.com/melih/lab-agent/internal/system"
)

var _ ports.Runtime = (*Runtime)(nil)

// Runtime implements ports.Runtime by running docker or podman.
type Runtime struct {
	// Command is the container command to use (docker or podman)
	Command string

	exec system.CommandExecutor
}

// New returns a Runtime for command. An empty command auto-detects podman,
// then docker.
func New(command string, exec system.CommandExecutor) (*Runtime, error) {
	if exec == nil {
		exec = system.DefaultExecutor()
	}
	if command != "" {
		if _, err := exec.LookPath(command); err != nil {
			return nil, fmt.Errorf("%s not found in PATH: %w", command, err)
		}
		return &Runtime{Command: command, exec: exec}, nil
	}
	for _, candidate := range []string{"podman", "docker"} {
		if _, err := exec.LookPath(candidate); err == nil {
			return &Runtime{Command: candidate, exec: exec}, nil
		}
	}
	return nil, fmt.Errorf("neither podman nor docker found in PATH")
}

// runCmd executes a docker/podman command
func (r *Runtime) runCmd(ctx context.Context, args ...string) (string, error) {
	logging.Debug("running", "cmd", shellquote.Join(append([]string{r.Command}, args...)...))
	out, err := r.exec.Execute(ctx, r.Command, args...)
	if err != nil {
		return "", fmt.Errorf("%s %s failed: %s: %w", r.Command, args[0], strings.TrimSpace(string(out)), err)
	}
	return string(out), nil
}

func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such") || strings.Contains(msg, "not found")
}

func isImageMissing(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"unable to find image", "pull access denied", "manifest unknown", "repository does not exist", "image not known"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// networkInspect covers both docker's and podman's inspect output; field
// matching is case-insensitive.
type networkInspect struct {
	Name   string `json:"name"`
	ID     string `json:"id"`
	Driver string `json:"driver"`
	IPAM   struct {
		Config []subnetInfo `json:"config"`
	} `json:"ipam"`
	Subnets []subnetInfo      `json:"subnets"`
	Options map[string]string `json:"options"`
}

type subnetInfo struct {
	Subnet  string `json:"subnet"`
	Gateway string `json:"gateway"`
}

func (r *Runtime) InspectSegment(ctx context.Context, name string) (*domain.Segment, error) {
	out, err := r.runCmd(ctx, "network", "inspect", name)
	if err != nil {
		if isNotFound(err) {
			return nil, ports.ErrSegmentNotFound
		}
		return nil, err
	}

	var nets []networkInspect
	if err := json.Unmarshal([]byte(out), &nets); err != nil {
		return nil, fmt.Errorf("failed to parse network inspect output: %w", err)
	}
	if len(nets) == 0 || nets[0].Name != name {
		return nil, ports.ErrSegmentNotFound
	}

	n := nets[0]
	seg := &domain.Segment{ID: n.ID, Name: n.Name, Driver: n.Driver, Parent: n.Options["parent"]}
	subnets := n.IPAM.Config
	if len(subnets) == 0 {
		subnets = n.Subnets
	}
	if len(subnets) > 0 {
		seg.Subnet = subnets[0].Subnet
		seg.Gateway = subnets[0].Gateway
	}
	return seg, nil
}

func (r *Runtime) CreateSegment(ctx context.Context, seg domain.Segment) (*domain.Segment, error) {
	args := []string{"network", "create",
		"--driver", seg.Driver,
		"--subnet", seg.Subnet,
		"--gateway", seg.Gateway,
		"--label", domain.LabelManaged + "=true",
	}
	if seg.Parent != "" {
		args = append(args, "-o", "parent="+seg.Parent)
	}
	args = append(args, seg.Name)

	out, err := r.runCmd(ctx, args...)
	if err != nil {
		return nil, err
	}
	created := seg
	created.ID = lastLine(out)
	return &created, nil
}

// containerInspect holds the relevant fields from docker inspect
type containerInspect struct {
	ID      string `json:"Id"`
	Name    string `json:"Name"`
	Created string `json:"Created"`
	Config  struct {
		Image  string            `json:"Image"`
		Labels map[string]string `json:"Labels"`
	} `json:"Config"`
	State struct {
		Status string `json:"Status"`
	} `json:"State"`
	NetworkSettings struct {
		Networks map[string]struct {
			IPAddress  string `json:"IPAddress"`
			IPAMConfig *struct {
				IPv4Address string `json:"IPv4Address"`
			} `json:"IPAMConfig"`
		} `json:"Networks"`
	} `json:"NetworkSettings"`
}

func (r *Runtime) SegmentMembers(ctx context.Context, name string) ([]domain.Member, error) {
	out, err := r.runCmd(ctx, "ps", "-a", "-q", "--no-trunc", "--filter", "network="+name)
	if err != nil {
		return nil, err
	}
	ids := strings.Fields(out)
	if len(ids) == 0 {
		return nil, nil
	}

	out, err = r.runCmd(ctx, append([]string{"inspect"}, ids...)...)
	if err != nil {
		return nil, err
	}
	var inspects []containerInspect
	if err := json.Unmarshal([]byte(out), &inspects); err != nil {
		return nil, fmt.Errorf("failed to parse inspect output: %w", err)
	}

	members := make([]domain.Member, 0, len(inspects))
	for _, c := range inspects {
		labels := c.Config.Labels
		m := domain.Member{
			ID:      c.ID,
			Name:    strings.TrimPrefix(c.Name, "/"),
			Image:   c.Config.Image,
			State:   c.State.Status,
			Managed: labels[domain.LabelManaged] == "true",
		}
		if ep, ok := c.NetworkSettings.Networks[name]; ok {
			if a, err := netip.ParseAddr(ep.IPAddress); err == nil {
				m.Address = a
			} else if ep.IPAMConfig != nil {
				m.Address, _ = netip.ParseAddr(ep.IPAMConfig.IPv4Address)
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, c.Created); err == nil {
			m.Created = t.UTC()
		}
		if p, err := strconv.Atoi(labels[domain.LabelHostPort]); err == nil {
			m.HostPort = p
		}
		if p, err := strconv.Atoi(labels[domain.LabelContainerPort]); err == nil {
			m.ContainerPort = p
		}
		if t, err := time.Parse(time.RFC3339, labels[domain.LabelCreated]); err == nil {
			m.Created = t
		}
		members = append(members, m)
	}
	return members, nil
}

// Launch creates the container and then starts it, so a failed start can be
// cleaned up by the id create returned. A failed create leaves nothing
// behind; in particular a name conflict never removes the existing owner.
func (r *Runtime) Launch(ctx context.Context, spec domain.LaunchSpec) (string, error) {
	args := []string{"create",
		"--name", spec.Name,
		"--network", spec.Network,
		"--ip", spec.Address.String(),
	}
	if spec.HostPort > 0 && spec.ContainerPort > 0 {
		args = append(args, "-p", fmt.Sprintf("%d:%d", spec.HostPort, spec.ContainerPort))
	}
	for _, env := range spec.Env {
		args = append(args, "-e", env)
	}
	for _, k := range slices.Sorted(maps.Keys(spec.Labels)) {
		args = append(args, "--label", k+"="+spec.Labels[k])
	}
	args = append(args, spec.Image)
	args = append(args, spec.Command...)

	out, err := r.runCmd(ctx, args...)
	if err != nil {
		if isImageMissing(err) {
			return "", fmt.Errorf("%w: %v", ports.ErrImageNotFound, err)
		}
		return "", err
	}
	id := lastLine(out)
	if id == "" {
		return "", fmt.Errorf("%s create returned no container id", r.Command)
	}

	if _, err := r.runCmd(ctx, "start", id); err != nil {
		// the created container still holds the name and address
		if _, rmErr := r.runCmd(context.WithoutCancel(ctx), "rm", "-f", id); rmErr != nil {
			logging.Warn("failed to remove unstarted container", "id", id, "error", rmErr)
		}
		return "", err
	}
	return id, nil
}

func (r *Runtime) Remove(ctx context.Context, id string) error {
	_, err := r.runCmd(ctx, "rm", "-f", id)
	if err != nil && isNotFound(err) {
		return ports.ErrContainerNotFound
	}
	return err
}

func (r *Runtime) State(ctx context.Context, id string) (string, error) {
	out, err := r.runCmd(ctx, "inspect", "-f", "{{.State.Status}}", id)
	if err != nil {
		if isNotFound(err) {
			return "", ports.ErrContainerNotFound
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (r *Runtime) Logs(ctx context.Context, id string, tail int) (string, error) {
	args := []string{"logs"}
	if tail > 0 {
		args = append(args, "--tail", strconv.Itoa(tail))
	}
	out, err := r.runCmd(ctx, append(args, id)...)
	if err != nil {
		if isNotFound(err) {
			return "", ports.ErrContainerNotFound
		}
		return "", err
	}
	return out, nil
}

func (r *Runtime) Close() error { return nil }

// lastLine returns the last non-empty line; pull progress may precede the id.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
