package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/picklr-io/dockstate/internal/engine"
	"github.com/picklr-io/dockstate/internal/eval"
	"github.com/picklr-io/dockstate/internal/ir"
	"github.com/picklr-io/dockstate/internal/logging"
	"github.com/picklr-io/dockstate/internal/provider"
	"github.com/picklr-io/dockstate/internal/state"
	"github.com/picklr-io/dockstate/providers/docker"
	"github.com/picklr-io/dockstate/providers/memory"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// newRegistry lists the daemons the CLI can manage.
func newRegistry() *provider.Registry {
	r := provider.NewRegistry()
	r.Register("docker", func() (provider.Daemon, error) {
		d, err := docker.New()
		if err != nil {
			return nil, err
		}
		return d, nil
	})
	r.Register("memory", func() (provider.Daemon, error) {
		return memory.New(), nil
	})
	return r
}

// dryRunDaemon names the daemon whose runs never touch recorded state.
const dryRunDaemon = "memory"

// loadConfig reads the declaration file named by --file.
func (o *options) loadConfig(ctx context.Context) (*ir.Config, error) {
	abs, err := filepath.Abs(o.file)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", o.file, err)
	}
	if len(o.vars) > 0 && strings.ToLower(filepath.Ext(abs)) != ".pkl" {
		logging.Warn("--var only applies to Pkl declarations", "file", o.file)
	}
	cfg, err := eval.NewLoader(filepath.Dir(abs)).WithProperties(o.vars).Load(ctx, filepath.Base(abs))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openStore opens the configured state backend.
func (o *options) openStore(ctx context.Context) (*state.Store, error) {
	backend, err := state.NewBackend(ctx, &o.settings.State)
	if err != nil {
		return nil, err
	}
	return openBackend(ctx, backend)
}

// openRunStore opens the store apply and destroy write to. Against the dry
// run daemon it is a scratch copy of the configured state.
func (o *options) openRunStore(ctx context.Context) (*state.Store, error) {
	if o.settings.Daemon != dryRunDaemon {
		return o.openStore(ctx)
	}
	backend, err := state.NewBackend(ctx, &o.settings.State)
	if err != nil {
		return nil, err
	}
	scratch, err := state.Detach(ctx, backend)
	if err != nil {
		return nil, err
	}
	logging.Warn("dry run: state changes are not saved", "daemon", dryRunDaemon)
	return openBackend(ctx, scratch)
}

func openBackend(ctx context.Context, backend state.Backend) (*state.Store, error) {
	store, err := state.Open(ctx, backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return store, nil
}

// newEngine loads the configured daemon and returns an engine for it with a
// release function for the daemon connection. An in-memory daemon starts
// with the objects store records.
func (o *options) newEngine(store *state.Store) (*engine.Engine, func(), error) {
	name := o.settings.Daemon
	if err := o.registry.LoadProvider(name); err != nil {
		return nil, nil, err
	}
	d, err := o.registry.Get(name)
	if err != nil {
		return nil, nil, err
	}
	logging.Debug("daemon loaded", "daemon", name)

	if m, ok := d.(*memory.Daemon); ok && name == dryRunDaemon {
		if err := m.Restore(store.All()); err != nil {
			return nil, nil, err
		}
	}

	eng := engine.NewEngine(d)
	eng.Timeout = o.settings.Timeout
	eng.Retry = engine.DefaultRetryPolicy()
	eng.Retry.MaxRetries = o.settings.RetryCount()

	release := func() {
		if c, ok := d.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logging.Warn("failed to close daemon client", "error", err)
			}
		}
	}
	return eng, release, nil
}

// confirm asks for a yes on in. Anything else declines.
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "\n%s (y/n): ", prompt)
	var response string
	fmt.Fscanln(in, &response)
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}

// progress prints apply events as they happen.
func progress(out io.Writer) engine.ApplyCallback {
	return func(ev engine.ApplyEvent) {
		switch ev.Status {
		case ir.StatusApplying:
			doing, _ := verbs(ev.Action, ev.Phase)
			fmt.Fprintf(out, "%s: %s...\n", ev.Address, doing)
		case ir.StatusApplied:
			_, done := verbs(ev.Action, ev.Phase)
			fmt.Fprintf(out, "%s: %s complete after %s\n", ev.Address, done, ev.Duration.Round(time.Millisecond))
		case ir.StatusFailed:
			fmt.Fprintf(out, "%s: %s\n", ev.Address, red("failed: ", ev.Error))
		case ir.StatusSkipped:
			fmt.Fprintf(out, "%s: %s\n", ev.Address, yellow("skipped: ", ev.Error))
		}
	}
}

func verbs(a ir.Action, p engine.Phase) (string, string) {
	switch {
	case p == engine.PhaseDestroy:
		return "Destroying", "Destruction"
	case a == ir.ActionUpdate:
		return "Modifying", "Modifications"
	default:
		return "Creating", "Creation"
	}
}

func symbolFor(a ir.Action) (string, func(...any) string) {
	switch a {
	case ir.ActionCreate:
		return "+", green
	case ir.ActionDelete:
		return "-", red
	case ir.ActionReplace:
		return "-/+", yellow
	case ir.ActionUpdate:
		return "~", yellow
	default:
		return " ", fmt.Sprint
	}
}

// renderPlanChanges prints the detailed change list for a plan. NOOP entries
// are left out.
func renderPlanChanges(out io.Writer, plan *ir.Plan) {
	for _, change := range plan.Changes {
		if change.Action == ir.ActionNoOp {
			continue
		}
		symbol, paint := symbolFor(change.Action)

		fmt.Fprintf(out, "\n  # %s will be %s\n", bold(change.Address), describe(change.Action))
		fmt.Fprintf(out, "%s\n", paint(fmt.Sprintf("  %s %s %q {", symbol, change.Kind, change.Name)))
		renderPropertyDiff(out, change)
		fmt.Fprintln(out, paint("    }"))
	}
}

func describe(a ir.Action) string {
	switch a {
	case ir.ActionCreate:
		return "created"
	case ir.ActionUpdate:
		return "updated in-place"
	case ir.ActionReplace:
		return "replaced"
	case ir.ActionDelete:
		return "destroyed"
	}
	return "left unchanged"
}

// renderPropertyDiff prints structured property diffs in key order.
func renderPropertyDiff(out io.Writer, change *ir.ResourceChange) {
	keys := make([]string, 0, len(change.Diff))
	for k := range change.Diff {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		diff := change.Diff[key]
		note := ""
		if diff.ForcesReplacement {
			note = red(" # forces replacement")
		}
		switch diff.Action {
		case "create":
			fmt.Fprintf(out, "      %s%s\n", green(fmt.Sprintf("+ %s = %s", key, formatValue(diff.After))), note)
		case "delete":
			fmt.Fprintf(out, "      %s%s\n", red(fmt.Sprintf("- %s = %s", key, formatValue(diff.Before))), note)
		default:
			fmt.Fprintf(out, "      %s%s\n", yellow(fmt.Sprintf("~ %s = %s -> %s", key, formatValue(diff.Before), formatValue(diff.After))), note)
		}
	}
}

// formatValue returns a human-readable representation of a value.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		if val == ir.UnknownValue {
			return val
		}
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderPlanSummary prints the plan summary counts.
func renderPlanSummary(out io.Writer, plan *ir.Plan) {
	s := plan.Summary
	fmt.Fprintf(out, "\nPlan: %s to add, %s to change, %s to replace, %s to destroy.\n",
		green(s.Create), yellow(s.Update), yellow(s.Replace), red(s.Delete))
}

// renderReport prints one line per resource with its final status.
func renderReport(out io.Writer, report *ir.Report) {
	width := len("RESOURCE")
	for _, r := range report.Results {
		width = max(width, len(r.Address))
	}

	fmt.Fprintf(out, "\n%-*s  %-8s  %-8s  %s\n", width, "RESOURCE", "ACTION", "STATUS", "ERROR")
	for _, r := range report.Results {
		status := fmt.Sprintf("%-8s", r.Status)
		switch r.Status {
		case ir.StatusApplied:
			status = green(status)
		case ir.StatusFailed:
			status = red(status)
		case ir.StatusSkipped:
			status = yellow(status)
		}
		fmt.Fprintf(out, "%-*s  %-8s  %s  %s\n", width, r.Address, r.Action, status, r.Error)
	}
}
