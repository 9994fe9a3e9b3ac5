package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/picklr-io/dockstate/internal/engine"
	"github.com/picklr-io/dockstate/internal/ir"
	"github.com/picklr-io/dockstate/internal/state"
)

func newApplyCmd(o *options) *cobra.Command {
	var (
		autoApprove bool
		jsonOut     bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply the declarations",
		Long:  `Creates, updates, replaces or destroys resources so the daemon matches the declaration file.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := o.loadConfig(ctx)
			if err != nil {
				return err
			}
			store, err := o.openRunStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			eng, release, err := o.newEngine(store)
			if err != nil {
				return err
			}
			defer release()

			plan, err := eng.CreatePlan(ctx, cfg, store)
			if err != nil {
				return fmt.Errorf("plan generation failed: %w", err)
			}
			return runPlan(ctx, cmd, eng, plan, store, autoApprove, jsonOut)
		},
	}

	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the run report as JSON")
	return cmd
}

// runPlan shows plan, asks for approval and applies it. It backs both apply
// and destroy.
func runPlan(ctx context.Context, cmd *cobra.Command, eng *engine.Engine, plan *ir.Plan, store *state.Store, autoApprove, jsonOut bool) error {
	out := cmd.OutOrStdout()
	// Human output goes to stderr when stdout carries the JSON report.
	human := out
	if jsonOut {
		human = cmd.ErrOrStderr()
	}

	if plan.HasChanges() {
		fmt.Fprintln(human, "dockstate will perform the following actions:")
		renderPlanChanges(human, plan)
		renderPlanSummary(human, plan)

		if !autoApprove && !confirm(cmd.InOrStdin(), human, "Do you want to perform these actions?") {
			fmt.Fprintln(human, "Apply cancelled.")
			return nil
		}
		fmt.Fprintln(human)
	} else {
		fmt.Fprintln(human, "No changes. Containers, images and networks match the declarations.")
	}

	// A plan without changes still yields a report listing every resource.
	eng.Callback = progress(human)
	report, applyErr := eng.Apply(ctx, plan, store)

	if jsonOut {
		if err := writeReport(out, report); err != nil {
			return err
		}
	} else if len(report.Results) > 0 {
		renderReport(out, report)
	}

	if applyErr != nil {
		return fmt.Errorf("apply failed: %w", applyErr)
	}
	if !plan.HasChanges() {
		return nil
	}
	fmt.Fprintf(human, "\nApply complete! Resources: %d added, %d changed, %d replaced, %d destroyed.\n",
		plan.Summary.Create, plan.Summary.Update, plan.Summary.Replace, plan.Summary.Delete)
	return nil
}

func writeReport(w io.Writer, report *ir.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}
