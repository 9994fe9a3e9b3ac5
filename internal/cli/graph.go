package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/picklr-io/dockstate/internal/engine"
)

func newGraphCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Output the dependency graph in DOT format",
		Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  dockstate graph | dot -Tpng > graph.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			_, dag, err := engine.Declarations(cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), dag.Dot())
			return nil
		},
	}
}
