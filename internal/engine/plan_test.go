package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/dockstate/internal/ir"
)

func TestCreatePlan_FirstRun(t *testing.T) {
	env := newTestEnv(t)

	plan, err := env.engine.CreatePlan(context.Background(), exampleConfig("nginx:latest"), env.store(t))
	require.NoError(t, err)

	var order []string
	for _, c := range plan.Changes {
		order = append(order, c.Address)
		assert.Equal(t, ir.ActionCreate, c.Action)
	}
	assert.Equal(t, []string{"network.app_network", "image.nginx", "container.nginx_container"}, order)
	assert.Equal(t, 3, plan.Summary.Create)
	assert.Empty(t, plan.DestroyOrder)
	assert.NotEmpty(t, plan.Metadata.RunID)

	web := plan.Change("container.nginx_container")
	assert.Equal(t, []string{"image.nginx", "network.app_network"}, web.Dependencies)
	assert.Equal(t, ir.UnknownValue, web.Diff["image"].After)

	// Planning never talks to the daemon.
	assert.Empty(t, env.daemon.Calls())
}

func TestCreatePlan_ImageChangeCascades(t *testing.T) {
	env := newTestEnv(t)
	env.apply(t, exampleConfig("nginx:latest"))

	plan, err := env.engine.CreatePlan(context.Background(), exampleConfig("nginx:1.25"), env.store(t))
	require.NoError(t, err)

	assert.Equal(t, map[string]ir.Action{
		"network.app_network":       ir.ActionNoOp,
		"image.nginx":               ir.ActionReplace,
		"container.nginx_container": ir.ActionReplace,
	}, actions(plan))
	assert.Equal(t, []string{"container.nginx_container", "image.nginx"}, plan.DestroyOrder)
	assert.True(t, plan.Change("container.nginx_container").Diff["image"].ForcesReplacement)
	assert.Equal(t, 2, plan.Summary.Replace)
	assert.Equal(t, 1, plan.Summary.NoOp)
}

func TestCreatePlan_NetworkChangeCascades(t *testing.T) {
	env := newTestEnv(t)
	env.apply(t, exampleConfig("nginx:latest"))

	cfg := exampleConfig("nginx:latest")
	cfg.Resources[0].Properties["name"] = "app_network_v2"

	plan, err := env.engine.CreatePlan(context.Background(), cfg, env.store(t))
	require.NoError(t, err)
	assert.Equal(t, map[string]ir.Action{
		"network.app_network":       ir.ActionReplace,
		"image.nginx":               ir.ActionNoOp,
		"container.nginx_container": ir.ActionReplace,
	}, actions(plan))
}

func TestCreatePlan_KeepLocallyIsUpdate(t *testing.T) {
	env := newTestEnv(t)
	env.apply(t, exampleConfig("nginx:latest"))

	cfg := exampleConfig("nginx:latest")
	cfg.Resources[1].Properties["keep_locally"] = true

	plan, err := env.engine.CreatePlan(context.Background(), cfg, env.store(t))
	require.NoError(t, err)
	assert.Equal(t, ir.ActionUpdate, plan.Change("image.nginx").Action)
	assert.Equal(t, ir.ActionNoOp, plan.Change("container.nginx_container").Action)
}

func TestCreatePlan_RemovedDeclarationIsDeleted(t *testing.T) {
	env := newTestEnv(t)
	env.apply(t, exampleConfig("nginx:latest"))

	cfg := exampleConfig("nginx:latest")
	cfg.Resources = cfg.Resources[:2]

	plan, err := env.engine.CreatePlan(context.Background(), cfg, env.store(t))
	require.NoError(t, err)

	last := plan.Changes[len(plan.Changes)-1]
	assert.Equal(t, "container.nginx_container", last.Address)
	assert.Equal(t, ir.ActionDelete, last.Action)
	assert.Equal(t, []string{"container.nginx_container"}, plan.DestroyOrder)
	assert.Equal(t, 1, plan.Summary.Delete)
}

func TestCreatePlan_Tainted(t *testing.T) {
	env := newTestEnv(t)
	env.apply(t, exampleConfig("nginx:latest"))

	store := env.store(t)
	require.NoError(t, store.Taint(context.Background(), "image.nginx"))

	plan, err := env.engine.CreatePlan(context.Background(), exampleConfig("nginx:latest"), store)
	require.NoError(t, err)
	assert.Equal(t, ir.ActionReplace, plan.Change("image.nginx").Action)
	assert.Equal(t, ir.ActionReplace, plan.Change("container.nginx_container").Action)
}

func TestCreatePlan_IgnoreChanges(t *testing.T) {
	env := newTestEnv(t)
	env.apply(t, exampleConfig("nginx:latest"))

	cfg := exampleConfig("nginx:latest")
	cfg.Resources[2].Properties["ports"] = []any{map[string]any{"internal": 80, "external": 9090}}
	cfg.Resources[2].Lifecycle = &ir.Lifecycle{IgnoreChanges: []string{"ports"}}

	plan, err := env.engine.CreatePlan(context.Background(), cfg, env.store(t))
	require.NoError(t, err)
	assert.False(t, plan.HasChanges())
}

func TestCreatePlan_PreventDestroy(t *testing.T) {
	env := newTestEnv(t)
	env.apply(t, exampleConfig("nginx:latest"))

	cfg := exampleConfig("nginx:1.25")
	cfg.Resources[1].Lifecycle = &ir.Lifecycle{PreventDestroy: true}

	_, err := env.engine.CreatePlan(context.Background(), cfg, env.store(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPreventDestroy))
	assert.Contains(t, err.Error(), "image.nginx")
}

func TestCreatePlan_CycleFailsBeforeDaemon(t *testing.T) {
	env := newTestEnv(t)

	cfg := exampleConfig("nginx:latest")
	cfg.Resources[0].DependsOn = []string{"container.nginx_container"}

	_, _, err := env.engine.Reconcile(context.Background(), cfg, env.store(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCyclicDependency))
	assert.Empty(t, env.daemon.Calls())
}

func TestCreatePlan_InvalidAttributeFailsBeforeDaemon(t *testing.T) {
	env := newTestEnv(t)

	cfg := exampleConfig("nginx:latest")
	cfg.Resources[2].Properties["ports"] = []any{map[string]any{"internal": 80, "external": 0}}

	_, _, err := env.engine.Reconcile(context.Background(), cfg, env.store(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ir.ErrInvalidAttribute))
	assert.Empty(t, env.daemon.Calls())
}

func TestCreateDestroyPlan(t *testing.T) {
	env := newTestEnv(t)
	env.apply(t, exampleConfig("nginx:latest"))

	plan, err := env.engine.CreateDestroyPlan(context.Background(), nil, env.store(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"container.nginx_container", "image.nginx", "network.app_network"}, plan.DestroyOrder)
	assert.Equal(t, 3, plan.Summary.Delete)

	cfg := exampleConfig("nginx:latest")
	cfg.Resources[0].Lifecycle = &ir.Lifecycle{PreventDestroy: true}
	_, err = env.engine.CreateDestroyPlan(context.Background(), cfg, env.store(t))
	assert.True(t, errors.Is(err, ErrPreventDestroy))
}
