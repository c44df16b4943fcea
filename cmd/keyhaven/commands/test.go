package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	kherrors "github.com/keyhaven/keyhaven/internal/errors"
)

func NewTestCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test <id>",
		Short: "Probe a stored key against its provider",
		Long: `Decrypt a stored key in memory and issue a live probe against the
provider's API. The plaintext is wiped as soon as the probe returns.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, _, err := openVault(cmd.Context(), cmd, app)
			if err != nil {
				return err
			}
			defer manager.Lock()

			result, err := manager.TestKeyConnection(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if result.Valid {
				fmt.Fprintf(cmd.OutOrStdout(), "Key %s is live (%d, %s)\n", args[0], result.StatusCode, result.Latency)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Key %s failed the probe: %s (%s)\n", args[0], result.Message, result.ErrorCode)
			if kherrors.IsRetryable(result.Err()) {
				fmt.Fprintln(cmd.OutOrStdout(), "The failure looks transient; try again shortly.")
			}
			return fmt.Errorf("connection test failed")
		},
	}
	return cmd
}
