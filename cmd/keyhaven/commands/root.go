// Package commands implements the keyhaven CLI surface on top of the
// vault and validation engine.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/keyhaven/keyhaven/internal/config"
	"github.com/keyhaven/keyhaven/internal/logging"
)

// App carries the state shared by every command: global flags and the
// logger assembled from them.
type App struct {
	ConfigPath string
	Debug      bool
	NoColor    bool
	Logger     *logging.Logger
}

// NewRootCommand assembles the keyhaven command tree.
func NewRootCommand(version string) *cobra.Command {
	app := &App{}

	root := &cobra.Command{
		Use:   "keyhaven",
		Short: "Encrypted vault for AI-provider API keys",
		Long: `keyhaven stores AI-provider API keys encrypted at rest, validates
their format and liveness, and manages rotation with rollback.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if app.ConfigPath == "" {
				app.ConfigPath = config.DefaultPath()
			}
			app.Logger = logging.New(app.Debug, app.NoColor)
		},
	}

	root.PersistentFlags().StringVar(&app.ConfigPath, "config", "", "Config file path (default: keyhaven.yaml under the data dir)")
	root.PersistentFlags().BoolVar(&app.NoColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().BoolVar(&app.Debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		NewInitCommand(app),
		NewAddCommand(app),
		NewGetCommand(app),
		NewListCommand(app),
		NewUpdateCommand(app),
		NewRemoveCommand(app),
		NewRevokeCommand(app),
		NewRotateCommand(app),
		NewValidateCommand(app),
		NewTestCommand(app),
		NewUsageCommand(app),
		NewExportCommand(app),
		NewImportCommand(app),
		NewDoctorCommand(app),
		NewLockCommand(app),
	)
	return root
}
