package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/picklr-io/dockstate/internal/ir"
	"github.com/picklr-io/dockstate/internal/logging"
	"github.com/picklr-io/dockstate/internal/provider"
)

// call runs fn under the resource timeout, retrying transient failures.
// Cancellation of ctx does not interrupt a step in flight; only the timeout
// bounds it.
func (e *Engine) call(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		timeout = e.Timeout
	}
	ctx, cancel := WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	return RetryWithBackoff(ctx, e.Retry, func() error {
		return fn(ctx)
	}, IsTransientError)
}

// destroyResource removes the recorded instance of a DELETE or the old
// instance of a REPLACE, then drops it from the store.
func (e *Engine) destroyResource(ctx context.Context, change *ir.ResourceChange, store Store) error {
	prior := change.Prior
	if prior == nil {
		return nil
	}
	var timeout time.Duration
	if change.Desired != nil {
		timeout = change.Desired.Timeout
	}
	logging.Debug("destroying resource", "address", change.Address, "action", change.Action)

	var err error
	switch prior.Kind {
	case ir.KindNetwork:
		err = e.call(ctx, timeout, func(ctx context.Context) error {
			return e.daemon.RemoveNetwork(ctx, prior.OutputString("id"))
		})
	case ir.KindImage:
		if keep, _ := prior.Inputs["keep_locally"].(bool); keep {
			logging.Debug("keeping image locally", "address", change.Address, "image_id", prior.OutputString("image_id"))
			break
		}
		err = e.call(ctx, timeout, func(ctx context.Context) error {
			return e.daemon.RemoveImage(ctx, prior.OutputString("image_id"))
		})
	case ir.KindContainer:
		err = e.call(ctx, timeout, func(ctx context.Context) error {
			return e.daemon.RemoveContainer(ctx, prior.OutputString("id"))
		})
	default:
		err = fmt.Errorf("unsupported kind %q", prior.Kind)
	}
	if err != nil {
		return fmt.Errorf("delete failed for %s: %w", change.Address, err)
	}

	// The daemon already changed; record it even if the run was cancelled.
	if err := store.Delete(context.WithoutCancel(ctx), change.Address); err != nil {
		return fmt.Errorf("failed to record deletion of %s: %w", change.Address, err)
	}
	return nil
}

// createResource performs CREATE, UPDATE or the create half of REPLACE and
// records the observed state.
func (e *Engine) createResource(ctx context.Context, change *ir.ResourceChange, store Store) error {
	decl := change.Desired
	if decl == nil {
		return fmt.Errorf("no declaration for %s", change.Address)
	}

	inputs, err := resolveFromStore(decl, store)
	if err != nil {
		return err
	}
	logging.Debug("applying change", "address", change.Address, "action", change.Action)

	var outputs map[string]any
	switch {
	case change.Action == ir.ActionUpdate:
		// Only mutable attributes changed; none of them needs the daemon.
		prior, ok := store.Get(change.Address)
		if !ok {
			return fmt.Errorf("update of %s without recorded state", change.Address)
		}
		outputs = prior.Outputs
	default:
		outputs, err = e.createOnDaemon(ctx, decl, inputs)
		if err != nil {
			return fmt.Errorf("apply failed for %s: %w", change.Address, err)
		}
	}

	rs := &ir.ResourceState{
		Kind:    decl.Address.Kind,
		Name:    decl.Address.Name,
		Inputs:  inputs,
		Outputs: outputs,
	}
	for _, dep := range decl.Dependencies() {
		rs.Dependencies = append(rs.Dependencies, dep.String())
	}
	if err := store.Put(context.WithoutCancel(ctx), rs); err != nil {
		return fmt.Errorf("failed to record state of %s: %w", change.Address, err)
	}
	return nil
}

func (e *Engine) createOnDaemon(ctx context.Context, decl *ir.Declaration, inputs map[string]any) (map[string]any, error) {
	switch spec := decl.Spec.(type) {
	case *ir.NetworkSpec:
		var id string
		err := e.call(ctx, decl.Timeout, func(ctx context.Context) error {
			var err error
			id, err = e.daemon.CreateNetwork(ctx, spec.Name)
			return err
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": id, "name": spec.Name}, nil

	case *ir.ImageSpec:
		var pulled *provider.PulledImage
		err := e.call(ctx, decl.Timeout, func(ctx context.Context) error {
			var err error
			pulled, err = e.daemon.PullImage(ctx, spec.Name)
			return err
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"id":       pulled.ID,
			"image_id": pulled.ID,
			"digest":   pulled.Digest,
			"name":     spec.Name,
		}, nil

	case *ir.ContainerSpec:
		var resolved ir.ResolvedContainer
		if err := ir.DecodeInto(inputs, &resolved); err != nil {
			return nil, fmt.Errorf("failed to decode resolved container: %w", err)
		}
		req := &provider.ContainerRequest{
			Name:     resolved.Name,
			ImageID:  resolved.ImageID,
			Networks: resolved.Networks,
			Ports:    resolved.Ports,
		}
		var id string
		err := e.call(ctx, decl.Timeout, func(ctx context.Context) error {
			var err error
			id, err = e.daemon.CreateContainer(ctx, req)
			return err
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": id, "name": resolved.Name}, nil
	}
	return nil, fmt.Errorf("unsupported kind %q", decl.Address.Kind)
}

// resolveFromStore replaces references with the outputs of upstreams that
// are already applied. An unresolved reference is an error.
func resolveFromStore(decl *ir.Declaration, store Store) (map[string]any, error) {
	var missing []string
	lookup := func(ref ir.Reference) (any, bool) {
		rs, ok := store.Get(ref.Target().String())
		if ok {
			if v, ok := rs.Outputs[ref.Attribute]; ok {
				return v, true
			}
		}
		missing = append(missing, ref.String())
		return nil, false
	}
	inputs := ir.ResolveReferences(decl.Spec.Attributes(), lookup).(map[string]any)
	if len(missing) > 0 {
		return nil, fmt.Errorf("cannot resolve references of %s: %v", decl.Address, missing)
	}
	return inputs, nil
}
