package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/picklr-io/dockstate/internal/ir"
)

func newShowCmd(o *options) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current state",
		Long:  `Displays a human-readable view of the recorded state.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := o.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			s := store.Snapshot()
			out := cmd.OutOrStdout()

			if jsonOut {
				data, err := json.MarshalIndent(s, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal state: %w", err)
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			fmt.Fprintf(out, "State: version=%d serial=%d lineage=%s\n", s.Version, s.Serial, s.Lineage)
			fmt.Fprintf(out, "Resources: %d\n", len(s.Resources))

			for _, res := range s.Resources {
				fmt.Fprintf(out, "\n# %s", bold(res.Address()))
				if res.Tainted {
					fmt.Fprint(out, red(" (tainted)"))
				}
				fmt.Fprintln(out)
				printAttributes(out, res.Outputs)
				if len(res.Dependencies) > 0 {
					fmt.Fprintf(out, "  depends on: %v\n", res.Dependencies)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	return cmd
}

func printAttributes(out io.Writer, attrs map[string]any) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %s = %s\n", k, formatValue(attrs[k]))
	}
}

// resourceNotFound is returned by commands that address a single resource.
func resourceNotFound(addr string) error {
	return fmt.Errorf("resource %s not found in state", addr)
}

// canonicalAddress parses a kind.name address, accepting kind aliases, and
// returns its canonical spelling.
func canonicalAddress(addr string) (string, error) {
	a, err := ir.ParseAddress(addr)
	if err != nil {
		return "", err
	}
	return a.String(), nil
}
