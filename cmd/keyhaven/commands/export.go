package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func NewExportCommand(app *App) *cobra.Command {
	var (
		output  string
		secrets bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export keys to a bundle file",
		Long: `Write all stored keys to a JSON bundle. By default only metadata is
exported. With --secrets the encrypted payloads are included; they stay
encrypted under the vault passphrase and can only be imported into a
vault initialized with the same passphrase.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, _, err := openVault(cmd.Context(), cmd, app)
			if err != nil {
				return err
			}
			defer manager.Lock()

			bundle, err := manager.ExportKeys(cmd.Context(), secrets)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(bundle, "", "  ")
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			if err := os.WriteFile(output, data, 0o600); err != nil {
				return fmt.Errorf("write bundle: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d keys to %s\n", len(bundle.Entries), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Bundle file path (default stdout)")
	cmd.Flags().BoolVar(&secrets, "secrets", false, "Include encrypted payloads")
	return cmd
}
