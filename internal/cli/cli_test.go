package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/dockstate/internal/ir"
	"github.com/picklr-io/dockstate/internal/provider"
	"github.com/picklr-io/dockstate/providers/memory"
)

const declarations = `
resources:
  - type: network
    name: app_network
    properties:
      name: app_network
  - type: image
    name: nginx
    properties:
      name: nginx:latest
  - type: container
    name: nginx_container
    properties:
      name: nginx
      image: ptr://image/nginx/image_id
      networks: [ptr://network/app_network/name]
      ports:
        - internal: 80
          external: 8080
`

// testDaemon is registered by the tests. Unlike the dry run daemon it keeps
// its objects across invocations and its runs save state.
const testDaemon = "test"

// harness runs CLI invocations in a temp dir holding dockstate.yaml, all
// against one shared in-memory daemon.
type harness struct {
	t      *testing.T
	dir    string
	daemon *memory.Daemon
}

func newHarness(t *testing.T, content string) *harness {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	h := &harness{t: t, dir: dir, daemon: memory.New()}
	h.write(content)
	return h
}

func (h *harness) write(content string) {
	h.t.Helper()
	require.NoError(h.t, os.WriteFile(filepath.Join(h.dir, "dockstate.yaml"), []byte(content), 0o644))
}

// run executes the CLI. Later flags in args override the defaults.
func (h *harness) run(stdin string, args ...string) (string, string, error) {
	h.t.Helper()
	registry := newRegistry()
	registry.Register(testDaemon, func() (provider.Daemon, error) { return h.daemon, nil })

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(registry)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--daemon", testDaemon, "--no-color", "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestValidate(t *testing.T) {
	h := newHarness(t, declarations)

	out, _, err := h.run("", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid! 3 resource(s) declared.")
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown type",
			content: "resources:\n  - type: volume\n    name: data\n    properties: {}\n",
			wantErr: "unknown resource type",
		},
		{
			name: "cycle",
			content: `
resources:
  - type: network
    name: a
    depends_on: [network.b]
    properties: {name: a}
  - type: network
    name: b
    depends_on: [network.a]
    properties: {name: b}
`,
			wantErr: "cyclic dependency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.content)
			_, _, err := h.run("", "validate")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPlan(t *testing.T) {
	h := newHarness(t, declarations)

	out, _, err := h.run("", "plan")
	require.NoError(t, err)
	assert.Contains(t, out, "# network.app_network will be created")
	assert.Contains(t, out, "# container.nginx_container will be created")
	assert.Contains(t, out, `+ name = "nginx:latest"`)
	assert.Contains(t, out, "Plan: 3 to add, 0 to change, 0 to replace, 0 to destroy.")

	out, _, err = h.run("", "plan", "--json")
	require.NoError(t, err)
	var plan ir.Plan
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	assert.Equal(t, 3, plan.Summary.Create)
}

func TestApply_Lifecycle(t *testing.T) {
	h := newHarness(t, declarations)

	// Declining the prompt changes nothing.
	out, _, err := h.run("n\n", "apply")
	require.NoError(t, err)
	assert.Contains(t, out, "Apply cancelled.")
	_, err = os.Stat(filepath.Join(".dockstate", "state.json"))
	assert.True(t, os.IsNotExist(err))

	out, _, err = h.run("yes\n", "apply")
	require.NoError(t, err)
	assert.Contains(t, out, "Apply complete! Resources: 3 added")
	assert.Contains(t, out, "container.nginx_container: Creation complete")
	assert.Equal(t, []string{"nginx"}, h.daemon.Containers())

	out, _, err = h.run("", "state", "list")
	require.NoError(t, err)
	assert.Equal(t, "network.app_network\nimage.nginx\ncontainer.nginx_container\n", out)

	out, _, err = h.run("", "plan")
	require.NoError(t, err)
	assert.Contains(t, out, "No changes.")

	out, _, err = h.run("", "taint", "docker_image.nginx")
	require.NoError(t, err)
	assert.Contains(t, out, "image.nginx has been tainted")

	out, _, err = h.run("", "plan")
	require.NoError(t, err)
	assert.Contains(t, out, "# image.nginx will be replaced")
	assert.Contains(t, out, "# container.nginx_container will be replaced")

	_, _, err = h.run("", "untaint", "image.nginx")
	require.NoError(t, err)

	out, _, err = h.run("", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "serial=5")
	assert.Contains(t, out, "# container.nginx_container")
	assert.NotContains(t, out, "tainted")

	out, _, err = h.run("", "destroy", "--auto-approve")
	require.NoError(t, err)
	assert.Contains(t, out, "network.app_network: Destroying...")
	assert.Contains(t, out, "3 destroyed")
	assert.Empty(t, h.daemon.Networks())
	assert.Empty(t, h.daemon.Images())

	out, _, err = h.run("", "state", "list")
	require.NoError(t, err)
	assert.Equal(t, "No resources in state.\n", out)
}

func TestApply_JSONReport(t *testing.T) {
	h := newHarness(t, declarations)

	out, stderr, err := h.run("", "apply", "--auto-approve", "--json")
	require.NoError(t, err)
	assert.Contains(t, stderr, "dockstate will perform the following actions")

	var report ir.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Results, 3)
	assert.True(t, report.Succeeded())
	assert.Equal(t, "network.app_network", report.Results[0].Address)

	// An unchanged second run still reports every resource.
	h.daemon.ResetCalls()
	out, stderr, err = h.run("", "apply", "--auto-approve", "--json")
	require.NoError(t, err)
	assert.Contains(t, stderr, "No changes.")

	report = ir.Report{}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Results, 3)
	for _, r := range report.Results {
		assert.Equal(t, ir.ActionNoOp, r.Action, r.Address)
		assert.Equal(t, ir.StatusApplied, r.Status, r.Address)
	}
	assert.NotEmpty(t, report.RunID)
	assert.False(t, report.Finished.IsZero())
	assert.Empty(t, h.daemon.Calls())
}

func TestApply_NoChangesPrintsReport(t *testing.T) {
	h := newHarness(t, declarations)
	_, _, err := h.run("", "apply", "--auto-approve")
	require.NoError(t, err)

	out, _, err := h.run("", "apply")
	require.NoError(t, err)
	assert.Contains(t, out, "No changes.")
	assert.Contains(t, out, "container.nginx_container")
	assert.NotContains(t, out, "Do you want to perform these actions?")
}

func TestDryRunDaemon(t *testing.T) {
	h := newHarness(t, declarations)
	statePath := filepath.Join(h.dir, ".dockstate", "state.json")

	// Nothing is recorded in a fresh workspace.
	out, _, err := h.run("", "apply", "--auto-approve", "--daemon", "memory")
	require.NoError(t, err)
	assert.Contains(t, out, "Apply complete! Resources: 3 added")
	_, err = os.Stat(statePath)
	assert.True(t, os.IsNotExist(err))

	_, _, err = h.run("", "apply", "--auto-approve")
	require.NoError(t, err)
	recorded, err := os.ReadFile(statePath)
	require.NoError(t, err)

	// A dry run starts from recorded state and leaves it alone.
	h.write(strings.Replace(declarations, "nginx:latest", "nginx:1.25", 1))
	out, _, err = h.run("", "apply", "--auto-approve", "--daemon", "memory")
	require.NoError(t, err)
	assert.Contains(t, out, "# image.nginx will be replaced")
	assert.Contains(t, out, "Apply complete! Resources: 0 added, 0 changed, 2 replaced, 0 destroyed.")

	out, _, err = h.run("", "destroy", "--auto-approve", "--daemon", "memory")
	require.NoError(t, err)
	assert.Contains(t, out, "3 destroyed")

	after, err := os.ReadFile(statePath)
	require.NoError(t, err)
	assert.Equal(t, string(recorded), string(after))

	out, _, err = h.run("", "state", "list")
	require.NoError(t, err)
	assert.Equal(t, "network.app_network\nimage.nginx\ncontainer.nginx_container\n", out)
	assert.Equal(t, []string{"nginx:latest"}, h.daemon.Images())
}

func TestStateCommands_Errors(t *testing.T) {
	h := newHarness(t, declarations)

	_, _, err := h.run("", "state", "rm", "container.ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in state")

	_, _, err = h.run("", "taint", "nonsense")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid address")

	_, _, err = h.run("", "untaint", "network.ghost")
	require.Error(t, err)
}

func TestStateRm(t *testing.T) {
	h := newHarness(t, declarations)
	_, _, err := h.run("", "apply", "--auto-approve")
	require.NoError(t, err)

	out, _, err := h.run("", "state", "rm", "container.nginx_container")
	require.NoError(t, err)
	assert.Contains(t, out, "resource was NOT destroyed")

	out, _, err = h.run("", "show", "--json")
	require.NoError(t, err)
	var s ir.State
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Len(t, s.Resources, 2)
}

func TestGraph(t *testing.T) {
	h := newHarness(t, declarations)

	out, _, err := h.run("", "graph")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "digraph dockstate {"))
	assert.Contains(t, out, `"container.nginx_container" -> "image.nginx";`)
	assert.Contains(t, out, `"container.nginx_container" -> "network.app_network";`)
}

func TestUnknownDaemon(t *testing.T) {
	h := newHarness(t, declarations)

	_, _, err := h.run("", "apply", "--auto-approve", "--daemon", "podman")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown daemon: podman")

	// Planning never loads a daemon.
	out, _, err := h.run("", "plan", "--daemon", "podman")
	require.NoError(t, err)
	assert.Contains(t, out, "Plan: 3 to add")
}

func TestVarFlag(t *testing.T) {
	h := newHarness(t, declarations)

	_, _, err := h.run("", "validate", "--var", "env=prod", "--var", "tag=1.25")
	require.NoError(t, err)

	_, _, err = h.run("", "validate", "--var", "env")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key=value")
}

func TestVersion(t *testing.T) {
	h := newHarness(t, declarations)

	out, _, err := h.run("", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "dockstate version dev")
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"nil", nil, "null"},
		{"string", "nginx", `"nginx"`},
		{"unknown", ir.UnknownValue, ir.UnknownValue},
		{"bool", true, "true"},
		{"list", []any{"a", "b"}, "[a b]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatValue(tt.input))
		})
	}
}
