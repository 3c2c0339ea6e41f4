package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sandman.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://public-api.sandbox.bunq.com", cfg.API.BaseURL)
	assert.Equal(t, 500*time.Millisecond, cfg.API.CallDelay.Std())
	assert.Equal(t, "1000.00", cfg.Replay.Buffer)
	assert.Equal(t, "sugardaddy@bunq.com", cfg.Replay.SponsorEmail)
	assert.Equal(t, filepath.Join("data", "iban_user_pairs.json"), cfg.Storage.PairFile())
	assert.Equal(t, filepath.Join("data", "journal.db"), cfg.Storage.JournalFile())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
api:
  api_key: file-key
  call_delay: 50ms
  retry:
    max_attempts: 3
    initial_backoff: 100ms
    max_backoff: 2s
    backoff_factor: 2.0
replay:
  buffer: "250.00"
  currency: USD
storage:
  data_dir: /tmp/sandman
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file-key", cfg.API.APIKey)
	assert.Equal(t, 50*time.Millisecond, cfg.API.CallDelay.Std())
	assert.Equal(t, 3, cfg.API.RetryPolicy().MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.API.RetryPolicy().MaxBackoff)
	assert.Equal(t, "250.00", cfg.Replay.BufferAmount().StringFixed(2))
	assert.Equal(t, "USD", cfg.Replay.Currency)
	// Fields absent from the file keep their defaults.
	assert.Equal(t, "https://public-api.sandbox.bunq.com", cfg.API.BaseURL)
	assert.Equal(t, "sugardaddy@bunq.com", cfg.Replay.SponsorEmail)
}

func TestLoadEnvOverridesAPIKey(t *testing.T) {
	path := writeConfig(t, "api:\n  api_key: file-key\n")
	t.Setenv(APIKeyEnv, "env-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.API.APIKey)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "api:\n  base_uri: https://example.com\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad buffer":      "replay:\n  buffer: lots\n",
		"negative buffer": "replay:\n  buffer: \"-1.00\"\n",
		"bad delay":       "api:\n  call_delay: soon\n",
		"zero attempts":   "api:\n  retry:\n    max_attempts: 0\n",
		"empty data dir":  "storage:\n  data_dir: \"\"\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
