package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/picklr-io/dockstate/internal/ir"
	"github.com/picklr-io/dockstate/internal/state"
	"github.com/picklr-io/dockstate/providers/memory"
)

// exampleConfig declares a network, an image and a container using both.
func exampleConfig(imageRef string) *ir.Config {
	return &ir.Config{
		Resources: []*ir.Resource{
			{Type: "network", Name: "app_network", Properties: map[string]any{"name": "app_network"}},
			{Type: "image", Name: "nginx", Properties: map[string]any{"name": imageRef, "keep_locally": false}},
			{
				Type: "container",
				Name: "nginx_container",
				Properties: map[string]any{
					"name":     "nginx",
					"image":    "ptr://image/nginx/image_id",
					"networks": []any{"ptr://network/app_network/name"},
					"ports":    []any{map[string]any{"internal": 80, "external": 8080}},
				},
			},
		},
	}
}

// testEnv bundles a memory daemon, an engine with fast retries and a store
// backed by a JSON file.
type testEnv struct {
	daemon *memory.Daemon
	engine *Engine
	path   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	d := memory.New()
	e := NewEngine(d)
	e.Retry = &RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	return &testEnv{
		daemon: d,
		engine: e,
		path:   filepath.Join(t.TempDir(), "state.json"),
	}
}

// store opens the state file afresh, as a new run would.
func (env *testEnv) store(t *testing.T) *state.Store {
	t.Helper()
	backend, err := state.NewBackend(context.Background(), &state.Config{Type: "local", Path: env.path})
	require.NoError(t, err)
	s, err := state.Open(context.Background(), backend)
	require.NoError(t, err)
	return s
}

// apply plans and applies cfg in a fresh run and requires success.
func (env *testEnv) apply(t *testing.T, cfg *ir.Config) (*ir.Plan, *ir.Report) {
	t.Helper()
	plan, report, err := env.engine.Reconcile(context.Background(), cfg, env.store(t))
	require.NoError(t, err)
	return plan, report
}

func actions(plan *ir.Plan) map[string]ir.Action {
	out := make(map[string]ir.Action, len(plan.Changes))
	for _, c := range plan.Changes {
		out[c.Address] = c.Action
	}
	return out
}

func statuses(report *ir.Report) map[string]ir.Status {
	out := make(map[string]ir.Status, len(report.Results))
	for _, r := range report.Results {
		out[r.Address] = r.Status
	}
	return out
}
