package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"
)

func newDestroyCmd(o *options) *cobra.Command {
	var autoApprove bool

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Destroy all managed resources",
		Long: `Destroys every resource recorded in state, dependents first.

This command is the inverse of 'dockstate apply'. If the declaration file is
present its prevent_destroy settings are honoured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// The declaration file is optional here.
			cfg, err := o.loadConfig(ctx)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
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

			plan, err := eng.CreateDestroyPlan(ctx, cfg, store)
			if err != nil {
				return fmt.Errorf("plan generation failed: %w", err)
			}
			return runPlan(ctx, cmd, eng, plan, store, autoApprove, false)
		},
	}

	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Skip interactive approval before destroying")
	return cmd
}
