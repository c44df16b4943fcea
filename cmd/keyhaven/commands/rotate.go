package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewRotateCommand(app *App) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "rotate <id>",
		Short: "Replace a key's secret with a new value",
		Long: `Validate the new key, encrypt it and swap it in. If anything fails
after the first write, the previous secret is restored and the failure
is recorded in the rotation history.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			manager, _, err := openVault(ctx, cmd, app)
			if err != nil {
				return err
			}
			defer manager.Lock()

			newKey, err := readKeyArg(cmd, key)
			if err != nil {
				return err
			}

			result, err := manager.RotateKey(ctx, args[0], newKey)
			if err != nil {
				if result != nil && result.RollbackAvailable {
					app.Logger.Warn("rotation failed, previous secret restored")
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rotated %s at %s\n",
				result.KeyID, result.RotatedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "New raw API key (omit to enter on stdin)")
	return cmd
}
