package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"

	"github.com/keyhaven/keyhaven/internal/config"
	"github.com/keyhaven/keyhaven/internal/validation"
	"github.com/keyhaven/keyhaven/internal/vault"
)

const (
	keyringService = "keyhaven"
	keyringAccount = "passphrase"

	passphraseEnv = "KEYHAVEN_PASSPHRASE"
)

// openVault loads the config, builds the configured stores and engine,
// and unlocks the vault with a passphrase from the environment, the OS
// keyring, or an interactive prompt, in that order.
func openVault(ctx context.Context, cmd *cobra.Command, app *App) (*vault.Manager, *config.File, error) {
	cfg, err := config.Load(app.ConfigPath)
	if err != nil {
		return nil, nil, err
	}

	manager, err := buildManager(ctx, app, cfg)
	if err != nil {
		return nil, nil, err
	}

	passphrase, err := resolvePassphrase(cmd, app, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := manager.Initialize(ctx, passphrase); err != nil {
		return nil, nil, err
	}
	return manager, cfg, nil
}

func buildManager(ctx context.Context, app *App, cfg *config.File) (*vault.Manager, error) {
	index, err := cfg.BuildIndexStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("building index store: %w", err)
	}
	blobs, err := cfg.BuildBlobStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("building blob store: %w", err)
	}
	engine := validation.NewEngine(cfg.EngineConfig(), app.Logger)

	return vault.NewManager(vault.Config{
		Index:      index,
		Blobs:      blobs,
		Engine:     engine,
		Logger:     app.Logger,
		SessionTTL: cfg.Session.TTL,
	}), nil
}

func resolvePassphrase(cmd *cobra.Command, app *App, cfg *config.File) ([]byte, error) {
	if pass := os.Getenv(passphraseEnv); pass != "" {
		return []byte(pass), nil
	}
	if cfg.Session.UseKeyring {
		if pass, err := keyring.Get(keyringService, keyringAccount); err == nil {
			return []byte(pass), nil
		}
	}
	return promptPassphrase(cmd, "Passphrase: ")
}

func promptPassphrase(cmd *cobra.Command, prompt string) ([]byte, error) {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	pass := strings.TrimRight(line, "\r\n")
	if pass == "" {
		return nil, fmt.Errorf("passphrase must not be empty")
	}
	return []byte(pass), nil
}

// readKeyArg resolves the raw key for add/rotate/validate: the --key
// flag if set, otherwise one line from stdin so keys stay out of shell
// history.
func readKeyArg(cmd *cobra.Command, keyFlag string) (string, error) {
	if keyFlag != "" {
		return keyFlag, nil
	}
	fmt.Fprint(cmd.OutOrStdout(), "API key: ")
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading key: %w", err)
	}
	key := strings.TrimSpace(line)
	if key == "" {
		return "", fmt.Errorf("no key provided")
	}
	return key, nil
}
