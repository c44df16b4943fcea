package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"

	"github.com/keyhaven/keyhaven/internal/config"
)

func NewDoctorCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check vault and store health",
		Long: `Run the vault's health checks: crypto subsystem, session state and
reachability of the index and blob stores. The vault is unlocked for the
checks only when a passphrase is available from the environment or the
system keyring; doctor never prompts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(app.ConfigPath)
			if err != nil {
				return err
			}
			manager, err := buildManager(cmd.Context(), app, cfg)
			if err != nil {
				return err
			}

			if passphrase := silentPassphrase(cfg); passphrase != nil {
				if err := manager.Initialize(cmd.Context(), passphrase); err != nil {
					app.Logger.Warn("unlock failed during health check: %v", err)
				} else {
					defer manager.Lock()
				}
			}

			health := manager.GetHealthStatus(cmd.Context())

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CHECK\tSTATUS\tDETAIL")
			for _, check := range health.Checks {
				fmt.Fprintf(w, "%s\t%s\t%s\n", check.Name, check.Status, check.Detail)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if !health.Healthy {
				return fmt.Errorf("vault is unhealthy")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All checks passed.")
			return nil
		},
	}
	return cmd
}

// silentPassphrase looks for a passphrase in the environment and the
// system keyring without ever prompting.
func silentPassphrase(cfg *config.File) []byte {
	if env := os.Getenv(passphraseEnv); env != "" {
		return []byte(env)
	}
	if cfg.Session.UseKeyring {
		if stored, err := keyring.Get(keyringService, keyringAccount); err == nil && stored != "" {
			return []byte(stored)
		}
	}
	return nil
}
