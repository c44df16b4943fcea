package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	cliPassphrase = "correct horse battery"
	cliOpenAIKey  = "sk-abcdefabcdefabcdefabcdefabcdefabcdefabcdefabcd48"
	cliRotatedKey = "sk-xyzxyzxyzxyzxyzxyzxyzxyzxyzxyzxyzxyzxyzxyzxyz48"
)

// runCLI executes one keyhaven invocation against the given config file
// with a fresh command tree, the way separate shell invocations would.
func runCLI(t *testing.T, configPath, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCommand("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", configPath, "--no-color"}, args...))

	err := cmd.Execute()
	return out.String(), err
}

func TestCLILifecycle(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "keyhaven.yaml")
	dataDir := filepath.Join(tempDir, "data")
	t.Setenv("KEYHAVEN_PASSPHRASE", cliPassphrase)

	out, err := runCLI(t, configPath, cliPassphrase+"\n", "init", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Vault initialized")
	require.FileExists(t, configPath)

	out, err = runCLI(t, configPath, "",
		"add", "--key", cliOpenAIKey, "--provider", "openai", "--name", "ci-key", "--tags", "ci,staging")
	require.NoError(t, err)
	require.Contains(t, out, "Stored ")

	// "Stored <id> (<mask>, <type>)"
	fields := strings.Fields(out)
	require.GreaterOrEqual(t, len(fields), 2)
	id := fields[1]

	t.Run("list shows the key", func(t *testing.T) {
		out, err := runCLI(t, configPath, "", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "ci-key")
		assert.Contains(t, out, "openai")
		assert.NotContains(t, out, cliOpenAIKey)
	})

	t.Run("get prints metadata but not the secret", func(t *testing.T) {
		out, err := runCLI(t, configPath, "", "get", id)
		require.NoError(t, err)
		assert.Contains(t, out, "ci-key")
		assert.Contains(t, out, "active")
		assert.NotContains(t, out, cliOpenAIKey)
	})

	t.Run("duplicate add is rejected", func(t *testing.T) {
		_, err := runCLI(t, configPath, "",
			"add", "--key", cliOpenAIKey, "--provider", "openai", "--name", "dup")
		require.Error(t, err)
	})

	t.Run("validate accepts the key format", func(t *testing.T) {
		out, err := runCLI(t, configPath, "",
			"validate", "--key", cliOpenAIKey, "--provider", "openai")
		require.NoError(t, err)
		assert.Contains(t, out, "valid")
	})

	t.Run("validate rejects a malformed key", func(t *testing.T) {
		out, err := runCLI(t, configPath, "",
			"validate", "--key", "not-a-key", "--provider", "openai")
		require.Error(t, err)
		assert.Contains(t, out, "INVALID")
	})

	t.Run("usage records and reports", func(t *testing.T) {
		_, err := runCLI(t, configPath, "",
			"usage", "record", id, "--input-tokens", "120", "--output-tokens", "40", "--cost", "0.0021")
		require.NoError(t, err)

		out, err := runCLI(t, configPath, "", "usage", id)
		require.NoError(t, err)
		assert.Contains(t, out, "160 total")
	})

	t.Run("rotate swaps the secret", func(t *testing.T) {
		out, err := runCLI(t, configPath, "", "rotate", id, "--key", cliRotatedKey)
		require.NoError(t, err)
		assert.Contains(t, out, "Rotated "+id)
	})

	t.Run("export writes a bundle", func(t *testing.T) {
		bundlePath := filepath.Join(tempDir, "bundle.json")
		out, err := runCLI(t, configPath, "", "export", "--secrets", "-o", bundlePath)
		require.NoError(t, err)
		assert.Contains(t, out, "Exported 1 keys")

		data, err := os.ReadFile(bundlePath)
		require.NoError(t, err)
		assert.NotContains(t, string(data), cliRotatedKey)
	})

	t.Run("doctor reports healthy", func(t *testing.T) {
		out, err := runCLI(t, configPath, "", "doctor")
		require.NoError(t, err)
		assert.Contains(t, out, "All checks passed.")
	})

	t.Run("revoke then remove", func(t *testing.T) {
		out, err := runCLI(t, configPath, "", "revoke", id)
		require.NoError(t, err)
		assert.Contains(t, out, id)

		out, err = runCLI(t, configPath, "", "remove", id)
		require.NoError(t, err)
		assert.Contains(t, out, id)

		_, err = runCLI(t, configPath, "", "get", id)
		require.Error(t, err)
	})
}

func TestCLIWrongPassphrase(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "keyhaven.yaml")
	dataDir := filepath.Join(tempDir, "data")
	t.Setenv("KEYHAVEN_PASSPHRASE", cliPassphrase)

	_, err := runCLI(t, configPath, cliPassphrase+"\n", "init", "--data-dir", dataDir)
	require.NoError(t, err)

	t.Setenv("KEYHAVEN_PASSPHRASE", "not the passphrase")
	_, err = runCLI(t, configPath, "", "list")
	require.Error(t, err)
}

func TestCLIMissingKeyID(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "keyhaven.yaml")
	dataDir := filepath.Join(tempDir, "data")
	t.Setenv("KEYHAVEN_PASSPHRASE", cliPassphrase)

	_, err := runCLI(t, configPath, cliPassphrase+"\n", "init", "--data-dir", dataDir)
	require.NoError(t, err)

	_, err = runCLI(t, configPath, "", "get", "no-such-id")
	require.Error(t, err)

	out, err := runCLI(t, configPath, "", "remove", "no-such-id")
	require.NoError(t, err)
	assert.Contains(t, out, "No key with id")
}
