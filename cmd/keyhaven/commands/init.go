package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"

	"github.com/keyhaven/keyhaven/internal/config"
)

func NewInitCommand(app *App) *cobra.Command {
	var (
		indexBackend string
		blobBackend  string
		dataDir      string
		useKeyring   bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the config file and initialize the vault",
		Long: `Write a keyhaven.yaml with the chosen backends, derive the vault's
encryption key from a passphrase, and persist the bootstrap record.

With --use-keyring the passphrase is also stored in the OS keyring so
later commands unlock without prompting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			cfg.Index.Backend = indexBackend
			cfg.Blobs.Backend = blobBackend
			cfg.DataDir = dataDir
			cfg.Session.UseKeyring = useKeyring
			if err := cfg.Validate(); err != nil {
				return err
			}

			passphrase, err := promptPassphrase(cmd, "New passphrase: ")
			if err != nil {
				return err
			}
			// Initialize wipes its copy, so keep one for the keyring.
			keep := string(passphrase)

			ctx := cmd.Context()
			manager, err := buildManager(ctx, app, cfg)
			if err != nil {
				return err
			}
			if err := manager.Initialize(ctx, passphrase); err != nil {
				return err
			}
			defer manager.Lock()

			if err := cfg.Save(app.ConfigPath); err != nil {
				return err
			}

			if useKeyring {
				if err := keyring.Set(keyringService, keyringAccount, keep); err != nil {
					app.Logger.Warn("storing passphrase in keyring failed: %v", err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Vault initialized. Config written to %s\n", app.ConfigPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&indexBackend, "index", "file", "Index backend: memory, file or sql")
	cmd.Flags().StringVar(&blobBackend, "blobs", "file", "Blob backend: memory, file, aws or gcp")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory for file backends (default: the user data dir)")
	cmd.Flags().BoolVar(&useKeyring, "use-keyring", false, "Store the passphrase in the OS keyring")
	return cmd
}
