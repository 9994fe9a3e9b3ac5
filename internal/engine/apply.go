package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/picklr-io/dockstate/internal/ir"
	"github.com/picklr-io/dockstate/internal/logging"
)

// Phase names the half of a run an event belongs to.
type Phase string

const (
	PhaseDestroy Phase = "destroy"
	PhaseCreate  Phase = "create"
)

// ApplyEvent represents a progress event during apply.
type ApplyEvent struct {
	Address  string
	Action   ir.Action
	Phase    Phase
	Status   ir.Status
	Duration time.Duration
	Error    error
}

// ApplyCallback is called for each apply event if set.
type ApplyCallback func(event ApplyEvent)

// run tracks per-resource results while a plan executes.
type run struct {
	plan    *ir.Plan
	report  *ir.Report
	results map[string]*ir.ResourceResult
	errs    []error
	emit    func(ApplyEvent)
}

// Reconcile plans cfg against store and applies the plan.
func (e *Engine) Reconcile(ctx context.Context, cfg *ir.Config, store Store) (*ir.Plan, *ir.Report, error) {
	plan, err := e.CreatePlan(ctx, cfg, store)
	if err != nil {
		return nil, nil, err
	}
	report, err := e.Apply(ctx, plan, store)
	return plan, report, err
}

// Apply executes a plan sequentially. Destructions run first, dependents
// before their dependencies; creations and updates follow in creation order.
// A failed resource never stops independent branches. The report lists every
// change in the plan; the error joins every failure.
func (e *Engine) Apply(ctx context.Context, plan *ir.Plan, store Store) (*ir.Report, error) {
	r := &run{
		plan: plan,
		report: &ir.Report{
			Started: time.Now().UTC(),
			Results: make([]*ir.ResourceResult, 0, len(plan.Changes)),
		},
		results: make(map[string]*ir.ResourceResult, len(plan.Changes)),
		emit: func(ev ApplyEvent) {
			if e.Callback != nil {
				e.Callback(ev)
			}
		},
	}
	if plan.Metadata != nil {
		r.report.RunID = plan.Metadata.RunID
	}
	for _, c := range plan.Changes {
		res := &ir.ResourceResult{Address: c.Address, Action: c.Action, Status: ir.StatusPlanned}
		r.results[c.Address] = res
		r.report.Results = append(r.report.Results, res)
	}

	logging.Info("applying plan", "run_id", r.report.RunID, "changes", len(plan.Changes), "destroy", len(plan.DestroyOrder))

	e.destroyPhase(ctx, r, store)
	e.createPhase(ctx, r, store)

	// Anything still pending was never reached.
	for _, res := range r.report.Results {
		if res.Status == ir.StatusPlanned || res.Status == ir.StatusApplying {
			res.Status = ir.StatusSkipped
		}
	}
	r.report.Finished = time.Now().UTC()

	if err := ctx.Err(); err != nil {
		r.errs = append(r.errs, fmt.Errorf("apply cancelled: %w", err))
	}
	if len(r.errs) > 0 {
		return r.report, fmt.Errorf("%d resource(s) failed: %w", r.report.Count(ir.StatusFailed), errors.Join(r.errs...))
	}
	return r.report, nil
}

func (e *Engine) destroyPhase(ctx context.Context, r *run, store Store) {
	// Dependents are read from recorded state: whoever still holds a resource.
	var recorded []*ir.ResourceState
	for _, c := range r.plan.Changes {
		if c.Prior != nil {
			recorded = append(recorded, c.Prior)
		}
	}
	graph, err := BuildDAGFromState(recorded)
	if err != nil {
		for _, addr := range r.plan.DestroyOrder {
			if res := r.results[addr]; res != nil {
				r.fail(res, PhaseDestroy, err)
			}
		}
		return
	}
	blocked := make(map[string]bool)

	for _, addr := range r.plan.DestroyOrder {
		change := r.plan.Change(addr)
		res := r.results[addr]
		if change == nil || res == nil {
			continue
		}

		if err := ctx.Err(); err != nil {
			r.skip(res, PhaseDestroy, "run cancelled")
			blocked[addr] = true
			continue
		}

		var holder string
		for _, d := range graph.Dependents(addr) {
			if blocked[d] {
				holder = d
				break
			}
		}
		if holder != "" {
			r.skip(res, PhaseDestroy, fmt.Sprintf("dependent %s was not destroyed", holder))
			blocked[addr] = true
			continue
		}

		start := time.Now()
		res.Status = ir.StatusApplying
		r.emit(ApplyEvent{Address: addr, Action: change.Action, Phase: PhaseDestroy, Status: ir.StatusApplying})

		if err := e.destroyResource(ctx, change, store); err != nil {
			res.Duration += time.Since(start)
			r.fail(res, PhaseDestroy, err)
			blocked[addr] = true
			continue
		}

		res.Duration += time.Since(start)
		if change.Action == ir.ActionDelete {
			res.Status = ir.StatusApplied
			r.emit(ApplyEvent{Address: addr, Action: change.Action, Phase: PhaseDestroy, Status: ir.StatusApplied, Duration: res.Duration})
		} else {
			// The create half of a replacement is still to come.
			res.Status = ir.StatusPlanned
		}
	}
}

func (e *Engine) createPhase(ctx context.Context, r *run, store Store) {
	for _, change := range r.plan.Changes {
		if change.Action == ir.ActionDelete {
			continue
		}
		addr := change.Address
		res := r.results[addr]
		if res.Status != ir.StatusPlanned {
			// Failed or skipped while destroying the old instance.
			continue
		}

		if err := ctx.Err(); err != nil {
			r.skip(res, PhaseCreate, "run cancelled")
			continue
		}

		var blocker string
		for _, dep := range change.Dependencies {
			if d, ok := r.results[dep]; ok && (d.Status == ir.StatusFailed || d.Status == ir.StatusSkipped) {
				blocker = dep
				break
			}
		}
		if blocker != "" {
			r.skip(res, PhaseCreate, fmt.Sprintf("dependency %s was not applied", blocker))
			continue
		}

		if change.Action == ir.ActionNoOp {
			res.Status = ir.StatusApplied
			continue
		}

		start := time.Now()
		res.Status = ir.StatusApplying
		r.emit(ApplyEvent{Address: addr, Action: change.Action, Phase: PhaseCreate, Status: ir.StatusApplying})

		if err := e.createResource(ctx, change, store); err != nil {
			res.Duration += time.Since(start)
			r.fail(res, PhaseCreate, err)
			continue
		}

		res.Duration += time.Since(start)
		res.Status = ir.StatusApplied
		r.emit(ApplyEvent{Address: addr, Action: change.Action, Phase: PhaseCreate, Status: ir.StatusApplied, Duration: res.Duration})
	}
}

func (r *run) fail(res *ir.ResourceResult, phase Phase, err error) {
	logging.Error("resource failed", "address", res.Address, "action", res.Action, "phase", phase, "error", err)
	res.Status = ir.StatusFailed
	res.Error = err.Error()
	r.errs = append(r.errs, fmt.Errorf("%s: %w", res.Address, err))
	r.emit(ApplyEvent{Address: res.Address, Action: res.Action, Phase: phase, Status: ir.StatusFailed, Duration: res.Duration, Error: err})
}

func (r *run) skip(res *ir.ResourceResult, phase Phase, reason string) {
	logging.Warn("resource skipped", "address", res.Address, "phase", phase, "reason", reason)
	res.Status = ir.StatusSkipped
	res.Error = reason
	r.emit(ApplyEvent{Address: res.Address, Action: res.Action, Phase: phase, Status: ir.StatusSkipped, Error: errors.New(reason)})
}
