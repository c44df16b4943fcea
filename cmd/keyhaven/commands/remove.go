package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewRemoveCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Permanently delete a stored key",
		Long: `Hard delete: removes the metadata, the encrypted blob and the
duplicate-index entry. Use revoke to keep the record around.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			manager, _, err := openVault(ctx, cmd, app)
			if err != nil {
				return err
			}
			defer manager.Lock()

			deleted, err := manager.DeleteKey(ctx, args[0])
			if err != nil {
				return err
			}
			if !deleted {
				fmt.Fprintf(cmd.OutOrStdout(), "No key with id %s\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
	return cmd
}

func NewRevokeCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke a key without deleting its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			manager, _, err := openVault(ctx, cmd, app)
			if err != nil {
				return err
			}
			defer manager.Lock()

			revoked, err := manager.RevokeKey(ctx, args[0])
			if err != nil {
				return err
			}
			if !revoked {
				fmt.Fprintf(cmd.OutOrStdout(), "No key with id %s\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s\n", args[0])
			return nil
		},
	}
	return cmd
}
