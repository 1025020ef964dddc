package deploy

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/melih/lab-agent/internal/core/domain"
	"github.com/melih/lab-agent/internal/core/ports"
	"github.com/melih/lab-agent/internal/logging"
)

// SweepResult reports one reaper pass.
type SweepResult struct {
	Removed   int             `json:"removed"`
	Forgotten int             `json:"forgotten"`
	Reconcile ReconcileReport `json:"reconcile"`
}

// Sweep removes deployments whose container has exited, forgets the ones
// that disappeared and reconciles the pools.
func (e *Executor) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	for _, rec := range e.registry.List() {
		state, err := e.runtime.State(ctx, rec.ID)
		switch {
		case stderrors.Is(err, ports.ErrContainerNotFound):
			e.forget(rec, "vanished")
			res.Forgotten++
			continue
		case err != nil:
			logging.Warn("sweep: container state unavailable", "id", shortID(rec.ID), "error", err)
			continue
		}

		if (domain.Container{State: state}).Finished() {
			if _, err := e.Remove(ctx, rec.ID); err != nil {
				logging.Warn("sweep: remove failed", "name", rec.Name, "error", err)
				continue
			}
			res.Removed++
		}
	}

	report, err := e.Reconcile(ctx)
	res.Reconcile = report
	return res, err
}

// Reaper runs Sweep on a cron schedule.
type Reaper struct {
	executor *Executor
	cron     *cron.Cron
	timeout  time.Duration
}

// NewReaper schedules sweeps, e.g. "@every 60s" or "*/5 * * * *".
func NewReaper(e *Executor, schedule string) (*Reaper, error) {
	r := &Reaper{
		executor: e,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DiscardLogger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		timeout: time.Minute,
	}
	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return nil, fmt.Errorf("invalid reaper schedule %q: %w", schedule, err)
	}
	return r, nil
}

func (r *Reaper) Start() {
	r.cron.Start()
}

// Stop halts scheduling and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Reaper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	res, err := r.executor.Sweep(ctx)
	if err != nil {
		logging.Warn("sweep failed", "error", err)
		return
	}
	if res.Removed > 0 || res.Forgotten > 0 {
		r.executor.activity.Info("reaper removed %d exited and forgot %d vanished containers", res.Removed, res.Forgotten)
	}
	logging.Debug("sweep done", "removed", res.Removed, "forgotten", res.Forgotten)
}
