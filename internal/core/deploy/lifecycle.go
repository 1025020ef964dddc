package deploy

import (
	"context"
	stderrors "errors"
	"net/netip"

	"github.com/melih/lab-agent/internal/core/domain"
	"github.com/melih/lab-agent/internal/core/ipam"
	"github.com/melih/lab-agent/internal/core/ports"
	"github.com/melih/lab-agent/internal/errors"
	"github.com/melih/lab-agent/internal/logging"
)

// List returns every recorded deployment with its live state. Deployments
// whose container no longer exists are forgotten and their address freed.
func (e *Executor) List(ctx context.Context) ([]domain.Deployment, error) {
	var out []domain.Deployment
	for _, rec := range e.registry.List() {
		state, err := e.runtime.State(ctx, rec.ID)
		switch {
		case stderrors.Is(err, ports.ErrContainerNotFound):
			e.forget(rec, "vanished")
			continue
		case err != nil:
			logging.Warn("container state unavailable", "id", shortID(rec.ID), "error", err)
			state = "unknown"
		}
		out = append(out, domain.Deployment{DeploymentRecord: rec, State: state})
	}
	return out, nil
}

// Get returns one deployment by id, id prefix or name.
func (e *Executor) Get(ctx context.Context, ref string) (*domain.Deployment, error) {
	rec, ok := e.registry.Lookup(ref)
	if !ok {
		return nil, errors.DeploymentNotFound(ref)
	}
	state, err := e.runtime.State(ctx, rec.ID)
	if stderrors.Is(err, ports.ErrContainerNotFound) {
		e.forget(rec, "vanished")
		return nil, errors.DeploymentNotFound(ref)
	}
	if err != nil {
		return nil, errors.RuntimeError("inspect", err)
	}
	return &domain.Deployment{DeploymentRecord: rec, State: state}, nil
}

// Remove force-removes a deployment's container and frees its address.
func (e *Executor) Remove(ctx context.Context, ref string) (*domain.DeploymentRecord, error) {
	rec, ok := e.registry.Lookup(ref)
	if !ok {
		return nil, errors.DeploymentNotFound(ref)
	}
	if err := e.runtime.Remove(ctx, rec.ID); err != nil && !stderrors.Is(err, ports.ErrContainerNotFound) {
		return nil, errors.RuntimeError("remove", err)
	}
	e.forget(rec, "removed")
	return &rec, nil
}

// Cleanup removes every managed container on the segment, including ones
// started before the agent last restarted.
func (e *Executor) Cleanup(ctx context.Context) (int, error) {
	var (
		removed int
		errs    []error
	)
	for _, rec := range e.registry.List() {
		if _, err := e.Remove(ctx, rec.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	members, err := e.runtime.SegmentMembers(ctx, e.network)
	if err != nil && !stderrors.Is(err, ports.ErrSegmentNotFound) {
		errs = append(errs, errors.RuntimeError("list", err))
	}
	for _, m := range members {
		if !m.Managed {
			continue
		}
		if err := e.runtime.Remove(ctx, m.ID); err != nil && !stderrors.Is(err, ports.ErrContainerNotFound) {
			errs = append(errs, errors.RuntimeError("remove", err))
			continue
		}
		e.addresses.Free(m.Address)
		if e.hostPorts != nil && m.HostPort != 0 {
			e.hostPorts.Free(m.HostPort)
		}
		removed++
	}

	e.activity.Info("cleanup removed %d containers", removed)
	return removed, stderrors.Join(errs...)
}

// Logs returns the last tail lines of a deployment's output.
func (e *Executor) Logs(ctx context.Context, ref string, tail int) (string, error) {
	rec, ok := e.registry.Lookup(ref)
	if !ok {
		return "", errors.DeploymentNotFound(ref)
	}
	logs, err := e.runtime.Logs(ctx, rec.ID, tail)
	if stderrors.Is(err, ports.ErrContainerNotFound) {
		e.forget(rec, "vanished")
		return "", errors.DeploymentNotFound(ref)
	}
	if err != nil {
		return "", errors.RuntimeError("logs", err)
	}
	return logs, nil
}

// ReconcileReport summarises a Reconcile pass.
type ReconcileReport struct {
	Members int `json:"members"`
	Adopted int `json:"adopted"`
	Freed   int `json:"freed"`
	Unknown int `json:"unknown"`
}

// Reconcile aligns the pools with the segment's current members. Managed
// containers unknown to the registry, as after a restart, are adopted.
func (e *Executor) Reconcile(ctx context.Context) (ReconcileReport, error) {
	addrCP := e.addresses.Checkpoint()
	var portCP ipam.Checkpoint
	if e.hostPorts != nil {
		portCP = e.hostPorts.Checkpoint()
	}

	members, err := e.runtime.SegmentMembers(ctx, e.network)
	if err != nil && !stderrors.Is(err, ports.ErrSegmentNotFound) {
		return ReconcileReport{}, errors.RuntimeError("list", err)
	}

	var (
		liveAddrs []netip.Addr
		livePorts []int
	)
	for _, m := range members {
		if m.Address.IsValid() {
			liveAddrs = append(liveAddrs, m.Address)
		}
		if m.HostPort != 0 {
			livePorts = append(livePorts, m.HostPort)
		}
	}

	res := e.addresses.Reconcile(addrCP, liveAddrs)
	if e.hostPorts != nil {
		e.hostPorts.Reconcile(portCP, livePorts)
	}

	adopted := make(map[netip.Addr]bool, len(res.Adopted))
	for _, a := range res.Adopted {
		adopted[a] = true
	}
	for _, m := range members {
		if !m.Managed {
			continue
		}
		// a member whose address moved after the checkpoint may already
		// be gone, and the address handed to someone else
		if e.addresses.Contains(m.Address) && !adopted[m.Address] && e.addresses.ChangedSince(m.Address, addrCP) {
			logging.Debug("skipping stale member", "id", shortID(m.ID), "address", m.Address)
			continue
		}
		e.adopt(m)
	}

	for _, addr := range res.Freed {
		for _, rec := range e.registry.List() {
			if rec.Address == addr {
				e.registry.Delete(rec.ID)
			}
		}
	}

	report := ReconcileReport{
		Members: len(members),
		Adopted: len(res.Adopted),
		Freed:   len(res.Freed),
		Unknown: len(res.Unknown),
	}
	if report.Adopted > 0 || report.Freed > 0 {
		e.activity.Info("reconciled pool: %d adopted, %d freed", report.Adopted, report.Freed)
	}
	logging.Debug("reconciled", "members", report.Members, "adopted", report.Adopted, "freed", report.Freed, "unknown", report.Unknown)
	return report, nil
}

func (e *Executor) adopt(m domain.Member) {
	if _, ok := e.registry.Lookup(m.ID); ok {
		return
	}
	e.registry.Put(domain.DeploymentRecord{
		ID:            m.ID,
		Name:          m.Name,
		Image:         m.Image,
		Address:       m.Address,
		HostPort:      m.HostPort,
		ContainerPort: m.ContainerPort,
		Created:       m.Created,
	})
	logging.Info("adopted managed container", "id", shortID(m.ID), "name", m.Name, "address", m.Address)
}

// forget drops a record and frees what it held.
func (e *Executor) forget(rec domain.DeploymentRecord, why string) {
	if _, ok := e.registry.Delete(rec.ID); !ok {
		return
	}
	e.addresses.Free(rec.Address)
	if e.hostPorts != nil && rec.HostPort != 0 {
		e.hostPorts.Free(rec.HostPort)
	}
	e.activity.Info("%s %s, released %s", rec.Name, why, rec.Address)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
