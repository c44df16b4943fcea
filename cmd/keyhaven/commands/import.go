package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func NewImportCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <bundle>",
		Short: "Import keys from a bundle file",
		Long: `Read a JSON bundle produced by export --secrets and store its entries.
Entries whose id or key already exists are skipped and reported; the
rest are imported. Checksums are verified before anything is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			manager, _, err := openVault(cmd.Context(), cmd, app)
			if err != nil {
				return err
			}
			defer manager.Lock()

			result, err := manager.ImportKeys(cmd.Context(), data)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d keys, %d failed\n", result.Success, result.Failed)
			for _, ie := range result.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", ie.ID, ie.Err)
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d entries could not be imported", result.Failed)
			}
			return nil
		},
	}
	return cmd
}
