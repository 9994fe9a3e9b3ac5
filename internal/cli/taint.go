package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTaintCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "taint <address>",
		Short: "Mark a resource for recreation",
		Long: `Marks a resource as tainted, forcing it (and everything that references it)
to be destroyed and recreated on the next apply.`,
		Args: cobra.ExactArgs(1),
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

			if err := store.Taint(cmd.Context(), target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resource %s has been tainted. It will be recreated on next apply.\n", target)
			return nil
		},
	}
}

func newUntaintCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "untaint <address>",
		Short: "Remove taint from a resource",
		Long:  `Removes the taint mark from a resource, preventing forced recreation.`,
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

			if err := store.Untaint(cmd.Context(), target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resource %s has been untainted.\n", target)
			return nil
		},
	}
}
