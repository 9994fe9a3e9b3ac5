package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStateCmd(o *options) *cobra.Command {
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Manage dockstate state",
		Long:  `Commands for inspecting and modifying recorded state.`,
	}

	stateCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List resources in state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := o.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			resources := store.All()
			if len(resources) == 0 {
				fmt.Fprintln(out, "No resources in state.")
				return nil
			}
			for _, res := range resources {
				fmt.Fprintln(out, res.Address())
			}
			return nil
		},
	})

	stateCmd.AddCommand(&cobra.Command{
		Use:   "rm <address>",
		Short: "Remove a resource from state (does not destroy it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := canonicalAddress(args[0])
			if err != nil {
				return err
			}

			store, err := o.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if _, ok := store.Get(target); !ok {
				return resourceNotFound(target)
			}
			if err := store.Delete(cmd.Context(), target); err != nil {
				return fmt.Errorf("failed to write state: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from state (resource was NOT destroyed)\n", target)
			return nil
		},
	})

	return stateCmd
}
