package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/picklr-io/dockstate/internal/engine"
)

func newValidateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the declaration file",
		Long: `Checks every declared resource, its references and the dependency graph
without contacting the daemon or reading state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Checking %s... ", o.file)
			cfg, err := o.loadConfig(cmd.Context())
			if err != nil {
				fmt.Fprintln(out, red("FAILED"))
				return err
			}
			decls, _, err := engine.Declarations(cfg)
			if err != nil {
				fmt.Fprintln(out, red("FAILED"))
				return fmt.Errorf("validation failed: %w", err)
			}
			fmt.Fprintln(out, green("OK"))

			fmt.Fprintf(out, "\nConfiguration is valid! %d resource(s) declared.\n", len(decls))
			return nil
		},
	}
}
