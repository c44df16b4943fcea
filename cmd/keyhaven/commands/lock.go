package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"

	"github.com/keyhaven/keyhaven/internal/config"
)

func NewLockCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Forget the stored passphrase",
		Long: `Remove the vault passphrase from the system keyring so the next
command prompts for it again. Key material on disk stays encrypted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(app.ConfigPath)
			if err != nil {
				return err
			}
			if !cfg.Session.UseKeyring {
				fmt.Fprintln(cmd.OutOrStdout(), "Keyring storage is disabled; nothing to forget.")
				return nil
			}
			if err := keyring.Delete(keyringService, keyringAccount); err != nil {
				if err == keyring.ErrNotFound {
					fmt.Fprintln(cmd.OutOrStdout(), "No stored passphrase found.")
					return nil
				}
				return fmt.Errorf("remove passphrase from keyring: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Stored passphrase removed. The next command will prompt.")
			return nil
		},
	}
	return cmd
}
