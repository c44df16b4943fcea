package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/keyhaven/keyhaven/internal/keys"
	"github.com/keyhaven/keyhaven/internal/rules"
	"github.com/keyhaven/keyhaven/internal/vault"
)

func NewListCommand(app *App) *cobra.Command {
	var (
		provider string
		status   string
		keyType  string
		tags     []string
		search   string
		offset   int
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			manager, _, err := openVault(ctx, cmd, app)
			if err != nil {
				return err
			}
			defer manager.Lock()

			result, err := manager.ListKeys(ctx, vault.ListOptions{
				Provider: rules.Provider(provider),
				Status:   keys.Status(status),
				KeyType:  keys.KeyType(keyType),
				Tags:     tags,
				Search:   search,
				Offset:   offset,
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tSTATUS\tKEY\tCREATED")
			for _, meta := range result.Keys {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					meta.ID, meta.Name, meta.Provider, meta.Status,
					meta.MaskedKey, meta.CreatedAt.Format("2006-01-02"))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if result.HasMore {
				fmt.Fprintf(cmd.OutOrStdout(), "Showing %d of %d keys. Use --offset to page.\n",
					len(result.Keys), result.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&provider, "provider", "p", "", "Filter by provider")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&keyType, "type", "", "Filter by key type")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Filter by tags (all must match)")
	cmd.Flags().StringVar(&search, "search", "", "Search name and description")
	cmd.Flags().IntVar(&offset, "offset", 0, "Pagination offset")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size (0 = all)")
	return cmd
}
