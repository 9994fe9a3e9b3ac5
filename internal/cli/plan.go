package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/picklr-io/dockstate/internal/engine"
)

func newPlanCmd(o *options) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Generate an execution plan",
		Long: `Generates an execution plan showing what actions dockstate will take
to reach the declared state. The daemon is not contacted.

The plan shows:
  • Resources to be created
  • Resources to be updated in place or replaced (with diff)
  • Resources to be destroyed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			cfg, err := o.loadConfig(ctx)
			if err != nil {
				return err
			}
			store, err := o.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			plan, err := engine.NewEngine(nil).CreatePlan(ctx, cfg, store)
			if err != nil {
				return fmt.Errorf("plan generation failed: %w", err)
			}

			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(plan)
			}

			if !plan.HasChanges() {
				fmt.Fprintln(out, "No changes. Containers, images and networks match the declarations.")
				return nil
			}
			fmt.Fprintln(out, "dockstate will perform the following actions:")
			renderPlanChanges(out, plan)
			renderPlanSummary(out, plan)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the plan as JSON")
	return cmd
}
