package cli

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/picklr-io/dockstate/internal/config"
	"github.com/picklr-io/dockstate/internal/logging"
	"github.com/picklr-io/dockstate/internal/provider"
)

// options holds the global flags and the settings resolved from them.
type options struct {
	file       string
	configPath string
	logLevel   string
	daemon     string
	noColor    bool
	vars       map[string]string

	registry *provider.Registry
	settings *config.Settings
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(newRegistry())
}

func newRootCmd(registry *provider.Registry) *cobra.Command {
	o := &options{registry: registry}

	rootCmd := &cobra.Command{
		Use:   "dockstate",
		Short: "Declarative Docker networks, images and containers",
		Long: `Dockstate reconciles declared Docker networks, images and containers
against a daemon, Terraform style:

  • Declarations in YAML, JSON or Pkl, linked with ptr:// references
  • Plans that show every create, update, replace and delete
  • Dependency-ordered apply with per-resource failure isolation
  • State kept in a local file, SQLite, bbolt or S3`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: o.setup,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&o.file, "file", "f", "dockstate.yaml", "Declaration file (.yaml, .yml, .json or .pkl)")
	flags.StringVar(&o.configPath, "config", "", "Settings file (default "+config.DefaultFile+" if present)")
	flags.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&o.daemon, "daemon", "", "Daemon to manage: docker or memory")
	flags.BoolVar(&o.noColor, "no-color", false, "Disable colored output")
	flags.StringToStringVar(&o.vars, "var", nil, "Property for Pkl declarations, read with read(\"prop:KEY\") (repeatable, KEY=VALUE)")

	rootCmd.AddCommand(newValidateCmd(o))
	rootCmd.AddCommand(newPlanCmd(o))
	rootCmd.AddCommand(newApplyCmd(o))
	rootCmd.AddCommand(newDestroyCmd(o))
	rootCmd.AddCommand(newGraphCmd(o))
	rootCmd.AddCommand(newShowCmd(o))
	rootCmd.AddCommand(newStateCmd(o))
	rootCmd.AddCommand(newTaintCmd(o))
	rootCmd.AddCommand(newUntaintCmd(o))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// setup resolves settings. Flags win over the settings file and environment.
func (o *options) setup(cmd *cobra.Command, args []string) error {
	s, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		s.LogLevel = o.logLevel
	}
	if o.daemon != "" {
		s.Daemon = o.daemon
	}
	o.settings = s

	logging.InitWithWriter(s.LogLevel, cmd.ErrOrStderr())
	if o.noColor {
		color.NoColor = true
	}
	return nil
}
