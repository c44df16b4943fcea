package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keyhaven/keyhaven/internal/config"
	kherrors "github.com/keyhaven/keyhaven/internal/errors"
	"github.com/keyhaven/keyhaven/internal/rules"
	"github.com/keyhaven/keyhaven/internal/validation"
)

func NewValidateCommand(app *App) *cobra.Command {
	var (
		key      string
		provider string
		live     bool
		entropy  bool
		file     string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a key without storing it",
		Long: `Check a key's format against its provider's rule, optionally with
entropy analysis and a live probe against the provider's API.

With --file, validate one key per line in batches. Validation needs no
passphrase; nothing touches the vault.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(app.ConfigPath)
			if err != nil {
				return err
			}
			engine := validation.NewEngine(cfg.EngineConfig(), app.Logger)
			opts := validation.Options{
				CheckEntropy: entropy,
				CheckLive:    live,
				Recommend:    true,
			}
			prov := rules.Provider(provider)

			if file != "" {
				return validateFile(cmd, engine, file, prov, opts)
			}

			rawKey, err := readKeyArg(cmd, key)
			if err != nil {
				return err
			}
			ext := engine.ValidateComprehensive(cmd.Context(), rawKey, prov, opts)
			printExtended(cmd, rawKey, ext)
			if !ext.Valid {
				return fmt.Errorf("key failed validation")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Raw API key (omit to enter on stdin)")
	cmd.Flags().StringVarP(&provider, "provider", "p", string(rules.ProviderCustom), "Provider: openai, anthropic, google or custom")
	cmd.Flags().BoolVar(&live, "live", false, "Probe the provider's API")
	cmd.Flags().BoolVar(&entropy, "entropy", false, "Run entropy and weak-pattern analysis")
	cmd.Flags().StringVar(&file, "file", "", "Validate one key per line from a file")
	return cmd
}

func validateFile(cmd *cobra.Command, engine *validation.Engine, path string, provider rules.Provider, opts validation.Options) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var entries []validation.BatchEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, validation.BatchEntry{Key: line, Provider: provider})
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	results := engine.BatchValidate(cmd.Context(), entries, validation.BatchOptions{Options: opts})

	failures := 0
	for i, ext := range results {
		printExtended(cmd, entries[i].Key, ext)
		if !ext.Valid {
			failures++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d keys valid\n", len(results)-failures, len(results))
	if failures > 0 {
		return fmt.Errorf("%d keys failed validation", failures)
	}
	return nil
}

func printExtended(cmd *cobra.Command, rawKey string, ext validation.Extended) {
	out := cmd.OutOrStdout()

	masked := rawKey
	if len(masked) > 12 {
		masked = masked[:4] + "..." + masked[len(masked)-4:]
	}
	verdict := "valid"
	if !ext.Valid {
		verdict = "INVALID"
	}
	fmt.Fprintf(out, "%s (%s): %s\n", masked, ext.Provider, verdict)

	for _, msg := range ext.Errors {
		fmt.Fprintf(out, "  error: %s\n", msg)
	}
	for _, msg := range ext.Warnings {
		fmt.Fprintf(out, "  warning: %s\n", msg)
	}
	if ext.Entropy != nil {
		fmt.Fprintf(out, "  entropy: %.2f bits/char\n", ext.Entropy.BitsPerChar)
	}
	if ext.Live != nil {
		if ext.Live.Valid {
			fmt.Fprintf(out, "  live: ok (%d, %s)\n", ext.Live.StatusCode, ext.Live.Latency)
		} else {
			fmt.Fprintf(out, "  live: failed (%s: %s)\n", ext.Live.ErrorCode, ext.Live.Message)
			if kherrors.IsRetryable(ext.Live.Err()) {
				fmt.Fprintln(out, "  live: failure looks transient, retry shortly")
			}
		}
	}
	for _, rec := range ext.Recommendations {
		fmt.Fprintf(out, "  hint: %s\n", rec)
	}
}
