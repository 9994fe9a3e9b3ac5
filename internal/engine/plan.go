package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/picklr-io/dockstate/internal/ir"
	"github.com/picklr-io/dockstate/internal/logging"
	"github.com/picklr-io/dockstate/internal/provider"
)

// ErrPreventDestroy is returned when a plan would destroy a resource whose
// lifecycle forbids it.
var ErrPreventDestroy = errors.New("prevent_destroy is set")

// Store is the view of recorded state the engine reads and writes.
type Store interface {
	Get(addr string) (*ir.ResourceState, bool)
	Put(ctx context.Context, rs *ir.ResourceState) error
	Delete(ctx context.Context, addr string) error
	All() []*ir.ResourceState
}

// Engine plans and applies declarations against a daemon.
type Engine struct {
	daemon provider.Daemon

	// Timeout bounds each resource step. Zero means DefaultTimeout.
	Timeout time.Duration
	// Retry controls retries of transient daemon errors. Nil means DefaultRetryPolicy.
	Retry *RetryPolicy
	// Callback, when set, receives progress events during apply.
	Callback ApplyCallback
}

func NewEngine(daemon provider.Daemon) *Engine {
	return &Engine{
		daemon: daemon,
	}
}

// Declarations validates cfg and orders it. Nothing touches the daemon.
func Declarations(cfg *ir.Config) ([]*ir.Declaration, *DAG, error) {
	decls, err := ir.Validate(cfg)
	if err != nil {
		return nil, nil, err
	}
	dag, err := BuildDAG(decls)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}
	return decls, dag, nil
}

// CreatePlan generates an execution plan by comparing desired config with
// recorded state.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, store Store) (*ir.Plan, error) {
	decls, dag, err := Declarations(cfg)
	if err != nil {
		return nil, err
	}
	logging.Debug("creating plan", "resources", len(decls), "state_resources", len(store.All()))

	plan := newPlan()

	byAddr := make(map[string]*ir.Declaration, len(decls))
	for _, d := range decls {
		byAddr[d.Address.String()] = d
	}

	// Upstreams that get a new instance have unknown outputs until apply.
	renewed := make(map[string]bool)
	lookup := func(ref ir.Reference) (any, bool) {
		target := ref.Target().String()
		if renewed[target] {
			return nil, false
		}
		rs, ok := store.Get(target)
		if !ok {
			return nil, false
		}
		v, ok := rs.Outputs[ref.Attribute]
		return v, ok
	}

	var errs []error
	for _, addr := range dag.CreationOrder() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("plan cancelled: %w", err)
		}
		decl := byAddr[addr]
		prior, _ := store.Get(addr)

		desired := ir.ResolveReferences(decl.Spec.Attributes(), lookup).(map[string]any)
		action, diff := Diff(decl.Address.Kind, desired, prior, decl.IgnoreChanges())

		if action.Destroys() && decl.PreventDestroy() {
			errs = append(errs, fmt.Errorf("resource %s: %w but plan requires %s", addr, ErrPreventDestroy, action))
		}
		if action.Creates() {
			renewed[addr] = true
		}

		change := &ir.ResourceChange{
			Address: addr,
			Kind:    decl.Address.Kind,
			Name:    decl.Address.Name,
			Action:  action,
			Desired: decl,
			Prior:   prior,
			Diff:    diff,
		}
		for _, dep := range decl.Dependencies() {
			change.Dependencies = append(change.Dependencies, dep.String())
		}
		if prior != nil {
			change.PriorDependencies = prior.Dependencies
		}
		plan.Changes = append(plan.Changes, change)
	}

	// Handle deletions (resources in state but not in config)
	for _, rs := range store.All() {
		addr := rs.Address().String()
		if _, ok := byAddr[addr]; ok {
			continue
		}
		action, diff := Diff(rs.Kind, nil, rs, nil)
		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address:           addr,
			Kind:              rs.Kind,
			Name:              rs.Name,
			Action:            action,
			Prior:             rs,
			Diff:              diff,
			PriorDependencies: rs.Dependencies,
		})
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := finishPlan(plan, store.All()); err != nil {
		return nil, err
	}
	return plan, nil
}

// CreateDestroyPlan plans the deletion of everything in state. When cfg is
// given, declared resources with prevent_destroy make the plan fail.
func (e *Engine) CreateDestroyPlan(ctx context.Context, cfg *ir.Config, store Store) (*ir.Plan, error) {
	protected := make(map[string]bool)
	if cfg != nil {
		decls, err := ir.Validate(cfg)
		if err != nil {
			return nil, err
		}
		for _, d := range decls {
			if d.PreventDestroy() {
				protected[d.Address.String()] = true
			}
		}
	}

	plan := newPlan()
	var errs []error
	for _, rs := range store.All() {
		addr := rs.Address().String()
		if protected[addr] {
			errs = append(errs, fmt.Errorf("resource %s: %w but plan requires %s", addr, ErrPreventDestroy, ir.ActionDelete))
			continue
		}
		action, diff := Diff(rs.Kind, nil, rs, nil)
		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address:           addr,
			Kind:              rs.Kind,
			Name:              rs.Name,
			Action:            action,
			Prior:             rs,
			Diff:              diff,
			PriorDependencies: rs.Dependencies,
		})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := finishPlan(plan, store.All()); err != nil {
		return nil, err
	}
	return plan, nil
}

func newPlan() *ir.Plan {
	return &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			RunID:     uuid.NewString(),
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
	}
}

// finishPlan orders destructions by the recorded dependencies, moves
// deletions to the end in that order and fills in the summary.
func finishPlan(plan *ir.Plan, recorded []*ir.ResourceState) error {
	stateDAG, err := BuildDAGFromState(recorded)
	if err != nil {
		return fmt.Errorf("failed to order recorded resources: %w", err)
	}

	for _, addr := range stateDAG.DestructionOrder() {
		if c := plan.Change(addr); c != nil && c.Action.Destroys() {
			plan.DestroyOrder = append(plan.DestroyOrder, addr)
		}
	}

	ordered := make([]*ir.ResourceChange, 0, len(plan.Changes))
	for _, c := range plan.Changes {
		if c.Action != ir.ActionDelete {
			ordered = append(ordered, c)
		}
	}
	for _, addr := range plan.DestroyOrder {
		if c := plan.Change(addr); c.Action == ir.ActionDelete {
			ordered = append(ordered, c)
		}
	}
	plan.Changes = ordered

	for _, c := range plan.Changes {
		plan.Summary.Add(c.Action)
	}
	return nil
}
