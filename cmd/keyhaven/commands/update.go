package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keyhaven/keyhaven/internal/keys"
	"github.com/keyhaven/keyhaven/internal/vault"
)

func NewUpdateCommand(app *App) *cobra.Command {
	var (
		name        string
		description string
		status      string
		tags        []string
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a key's metadata",
		Long: `Change a credential's name, description, status or tags. The
encrypted secret is never touched; use rotate to replace it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			manager, _, err := openVault(ctx, cmd, app)
			if err != nil {
				return err
			}
			defer manager.Lock()

			patch := vault.UpdatePatch{}
			if cmd.Flags().Changed("name") {
				patch.Name = &name
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &description
			}
			if cmd.Flags().Changed("status") {
				s := keys.Status(status)
				patch.Status = &s
			}
			if cmd.Flags().Changed("tags") {
				patch.Tags = tags
			}

			meta, err := manager.UpdateKey(ctx, args[0], patch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s (%s)\n", meta.ID, meta.Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "New display name")
	cmd.Flags().StringVar(&description, "description", "", "New description")
	cmd.Flags().StringVar(&status, "status", "", "New status: active or inactive")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Replace tags")
	return cmd
}
