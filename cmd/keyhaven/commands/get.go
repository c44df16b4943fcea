package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func NewGetCommand(app *App) *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one stored key's metadata",
		Long: `Print the credential's metadata after verifying the integrity
checksum of its encrypted payload. With --reveal the decrypted key is
printed to stdout; use with care.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			manager, _, err := openVault(ctx, cmd, app)
			if err != nil {
				return err
			}
			defer manager.Lock()

			record, err := manager.GetKey(ctx, args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "ID:\t%s\n", record.ID)
			fmt.Fprintf(w, "Name:\t%s\n", record.Metadata.Name)
			fmt.Fprintf(w, "Provider:\t%s\n", record.Metadata.Provider)
			fmt.Fprintf(w, "Type:\t%s\n", record.Metadata.KeyType)
			fmt.Fprintf(w, "Status:\t%s\n", record.Metadata.Status)
			fmt.Fprintf(w, "Key:\t%s\n", record.Metadata.MaskedKey)
			fmt.Fprintf(w, "Created:\t%s\n", record.Metadata.CreatedAt.Format("2006-01-02 15:04:05"))
			if !record.Metadata.LastUsed.IsZero() {
				fmt.Fprintf(w, "Last used:\t%s\n", record.Metadata.LastUsed.Format("2006-01-02 15:04:05"))
			}
			if record.Metadata.ExpiresAt != nil {
				fmt.Fprintf(w, "Expires:\t%s\n", record.Metadata.ExpiresAt.Format("2006-01-02 15:04:05"))
			}
			if len(record.Metadata.Tags) > 0 {
				fmt.Fprintf(w, "Tags:\t%v\n", record.Metadata.Tags)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if reveal {
				buf, err := manager.RevealKey(ctx, record.ID)
				if err != nil {
					return err
				}
				defer buf.Destroy()
				return buf.With(func(data []byte) error {
					_, err := fmt.Fprintf(os.Stdout, "%s\n", data)
					return err
				})
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print the decrypted key")
	return cmd
}
