package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/melih/lab-agent/internal/core/domain"
	"github.com/melih/lab-agent/internal/core/ports"
	"github.com/melih/lab-agent/internal/logging"
)

var _ ports.Runtime = (*Adapter)(nil)

// Adapter implements ports.Runtime using the Docker Engine API
type Adapter struct {
	cli *client.Client
}

// NewAdapter creates a new Docker adapter. The environment (DOCKER_HOST
// and friends) is read first; opts are applied after it.
func NewAdapter(opts ...client.Opt) (*Adapter, error) {
	base := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	cli, err := client.NewClientWithOpts(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Adapter{cli: cli}, nil
}

// Ping checks that the daemon answers.
func (a *Adapter) Ping(ctx context.Context) error {
	_, err := a.cli.Ping(ctx)
	return err
}

func (a *Adapter) Close() error {
	return a.cli.Close()
}

// InspectSegment returns the network called name.
func (a *Adapter) InspectSegment(ctx context.Context, name string) (*domain.Segment, error) {
	res, err := a.cli.NetworkInspect(ctx, name, network.InspectOptions{})
	if errdefs.IsNotFound(err) {
		return nil, ports.ErrSegmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to inspect network %s: %w", name, err)
	}
	// inspect also matches id prefixes
	if res.Name != name {
		return nil, ports.ErrSegmentNotFound
	}

	seg := &domain.Segment{
		ID:     res.ID,
		Name:   res.Name,
		Driver: res.Driver,
		Parent: res.Options["parent"],
	}
	if len(res.IPAM.Config) > 0 {
		seg.Subnet = res.IPAM.Config[0].Subnet
		seg.Gateway = res.IPAM.Config[0].Gateway
	}
	return seg, nil
}

// CreateSegment creates the network with a single IPAM pool.
func (a *Adapter) CreateSegment(ctx context.Context, seg domain.Segment) (*domain.Segment, error) {
	opts := network.CreateOptions{
		Driver:     seg.Driver,
		Attachable: true,
		IPAM: &network.IPAM{
			Driver: "default",
			Config: []network.IPAMConfig{{
				Subnet:  seg.Subnet,
				Gateway: seg.Gateway,
			}},
		},
		Labels: map[string]string{domain.LabelManaged: "true"},
	}
	if seg.Parent != "" {
		opts.Options = map[string]string{"parent": seg.Parent}
	}

	resp, err := a.cli.NetworkCreate(ctx, seg.Name, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create network %s: %w", seg.Name, err)
	}
	if resp.Warning != "" {
		logging.Warn("network create warning", "network", seg.Name, "warning", resp.Warning)
	}

	created := seg
	created.ID = resp.ID
	return &created, nil
}

// SegmentMembers lists every container, running or not, attached to name.
func (a *Adapter) SegmentMembers(ctx context.Context, name string) ([]domain.Member, error) {
	containers, err := a.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("network", name)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var members []domain.Member
	for _, c := range containers {
		m := domain.Member{
			ID:      c.ID,
			Image:   c.Image,
			State:   c.State,
			Managed: c.Labels[domain.LabelManaged] == "true",
			Created: time.Unix(c.Created, 0).UTC(),
		}
		if len(c.Names) > 0 {
			m.Name = strings.TrimPrefix(c.Names[0], "/")
		}
		if c.NetworkSettings != nil {
			if ep, ok := c.NetworkSettings.Networks[name]; ok && ep != nil {
				m.Address = endpointAddress(ep)
			}
		}
		applyLabels(&m, c.Labels)
		members = append(members, m)
	}
	return members, nil
}

// endpointAddress prefers the live address and falls back to the static
// one a stopped container still holds.
func endpointAddress(ep *network.EndpointSettings) netip.Addr {
	if a, err := netip.ParseAddr(ep.IPAddress); err == nil {
		return a
	}
	if ep.IPAMConfig != nil {
		if a, err := netip.ParseAddr(ep.IPAMConfig.IPv4Address); err == nil {
			return a
		}
	}
	return netip.Addr{}
}

func applyLabels(m *domain.Member, labels map[string]string) {
	if p, err := strconv.Atoi(labels[domain.LabelHostPort]); err == nil {
		m.HostPort = p
	}
	if p, err := strconv.Atoi(labels[domain.LabelContainerPort]); err == nil {
		m.ContainerPort = p
	}
	if t, err := time.Parse(time.RFC3339, labels[domain.LabelCreated]); err == nil {
		m.Created = t
	}
}

// Launch pulls the image if needed, then creates and starts the container
// with a static address on spec.Network.
func (a *Adapter) Launch(ctx context.Context, spec domain.LaunchSpec) (string, error) {
	if err := a.ensureImage(ctx, spec.Image); err != nil {
		return "", err
	}

	cfg := &container.Config{
		Image:  spec.Image,
		Env:    spec.Env,
		Labels: spec.Labels,
	}
	if len(spec.Command) > 0 {
		cfg.Cmd = spec.Command
	}
	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode(spec.Network),
	}

	if spec.ContainerPort > 0 {
		port, err := nat.NewPort("tcp", strconv.Itoa(spec.ContainerPort))
		if err != nil {
			return "", fmt.Errorf("invalid container port %d: %w", spec.ContainerPort, err)
		}
		cfg.ExposedPorts = nat.PortSet{port: struct{}{}}
		if spec.HostPort > 0 {
			hostCfg.PortBindings = nat.PortMap{
				port: []nat.PortBinding{{HostPort: strconv.Itoa(spec.HostPort)}},
			}
		}
	}

	netCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			spec.Network: {
				IPAMConfig: &network.EndpointIPAMConfig{IPv4Address: spec.Address.String()},
			},
		},
	}

	resp, err := a.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	// create also answers 404 for a missing network
	if errdefs.IsNotFound(err) && strings.Contains(strings.ToLower(err.Error()), "no such image") {
		return "", fmt.Errorf("%w: %s: %v", ports.ErrImageNotFound, spec.Image, err)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	for _, w := range resp.Warnings {
		logging.Warn("container create warning", "name", spec.Name, "warning", w)
	}

	if err := a.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// the created container still holds the name and address
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if rmErr := a.cli.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			logging.Warn("failed to remove unstarted container", "id", resp.ID, "error", rmErr)
		}
		return "", fmt.Errorf("failed to start container: %w", err)
	}
	return resp.ID, nil
}

func (a *Adapter) ensureImage(ctx context.Context, ref string) error {
	if _, _, err := a.cli.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	} else if !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}

	logging.Info("pulling image", "image", ref)
	reader, err := a.cli.ImagePull(ctx, ref, image.PullOptions{})
	if errdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %s: %v", ports.ErrImageNotFound, ref, err)
	}
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()

	// errors during the pull only show up in the progress stream
	if err := jsonmessage.DisplayJSONMessagesStream(reader, io.Discard, 0, false, nil); err != nil {
		msg := err.Error()
		if strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist") {
			return fmt.Errorf("%w: %s: %v", ports.ErrImageNotFound, ref, err)
		}
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

// Remove force-removes a container.
func (a *Adapter) Remove(ctx context.Context, id string) error {
	err := a.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if errdefs.IsNotFound(err) {
		return ports.ErrContainerNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to remove container %s: %w", id, err)
	}
	return nil
}

// State returns the container's status, e.g. "running" or "exited".
func (a *Adapter) State(ctx context.Context, id string) (string, error) {
	info, err := a.cli.ContainerInspect(ctx, id)
	if errdefs.IsNotFound(err) {
		return "", ports.ErrContainerNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to inspect container %s: %w", id, err)
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return "unknown", nil
	}
	return info.State.Status, nil
}

// Logs returns the last tail lines of stdout and stderr; tail <= 0 means all.
func (a *Adapter) Logs(ctx context.Context, id string, tail int) (string, error) {
	opts := container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: "all"}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}

	rc, err := a.cli.ContainerLogs(ctx, id, opts)
	if errdefs.IsNotFound(err) {
		return "", ports.ErrContainerNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read logs of %s: %w", id, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return "", fmt.Errorf("failed to demultiplex logs of %s: %w", id, err)
	}
	return buf.String(), nil
}
