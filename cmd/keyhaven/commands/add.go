package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/keyhaven/keyhaven/internal/rules"
	"github.com/keyhaven/keyhaven/internal/vault"
)

func NewAddCommand(app *App) *cobra.Command {
	var (
		key         string
		provider    string
		name        string
		description string
		tags        []string
		owner       string
		expiresIn   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Validate and store a new API key",
		Long: `Validate the key's format for the given provider, encrypt it, and
store it. The key can be passed with --key or entered on stdin so it
stays out of shell history.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			manager, _, err := openVault(ctx, cmd, app)
			if err != nil {
				return err
			}
			defer manager.Lock()

			rawKey, err := readKeyArg(cmd, key)
			if err != nil {
				return err
			}

			input := vault.AddKeyInput{
				Key:         rawKey,
				Provider:    rules.Provider(provider),
				Name:        name,
				Description: description,
				Tags:        tags,
				Owner:       owner,
			}
			if expiresIn > 0 {
				expiry := time.Now().Add(expiresIn)
				input.ExpiresAt = &expiry
			}

			record, err := manager.AddKey(ctx, input)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s (%s, %s)\n",
				record.ID, record.Metadata.MaskedKey, record.Metadata.KeyType)
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Raw API key (omit to enter on stdin)")
	cmd.Flags().StringVarP(&provider, "provider", "p", string(rules.ProviderCustom), "Provider: openai, anthropic, google or custom")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name")
	cmd.Flags().StringVar(&description, "description", "", "Description")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Tags")
	cmd.Flags().StringVar(&owner, "owner", "", "Owner identifier")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Expire the key after this duration, e.g. 720h")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
