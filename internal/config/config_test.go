package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load("", nil)
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 4000, cfg.Upstream.MaxTokens)
	assert.Equal(t, "morph-v3-fast", cfg.Upstream.Merger.Model)
	assert.Equal(t, "meta-llama/llama-4-maverick", cfg.Upstream.Interpreter.Model)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 30, cfg.Share.TTLDays)
	assert.Equal(t, 500*time.Millisecond, cfg.Client.Debounce)
	assert.Equal(t, 7*24*time.Hour, cfg.Client.Retention)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anyheart.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
upstream:
  timeout: 45s
  models:
    fast: openai/gpt-4o-mini
storage:
  backend: sqlite
client:
  fallback_keys: [old1, old2]
`), 0o644))

	cfg, err := load(path, []string{
		"ANYHEART_UPSTREAM_MERGER_API_KEY=sk-merge",
		"ANYHEART_SESSION_MAX_ROUNDS=5",
		"ANYHEART_CLIENT_HEADFUL=true",
		"ANYHEART_CLIENT_DEBOUNCE=1s",
		"OPENROUTER_API_KEY=sk-interp",
		"HOME=/root",
	})
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 45*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, "openai/gpt-4o-mini", cfg.Upstream.Models["fast"])
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, []string{"old1", "old2"}, cfg.Client.FallbackKeys)
	assert.Equal(t, "sk-merge", cfg.Upstream.Merger.APIKey)
	assert.Equal(t, "sk-interp", cfg.Upstream.Interpreter.APIKey)
	assert.Equal(t, 5, cfg.Session.MaxRounds)
	assert.True(t, cfg.Client.Headful)
	assert.Equal(t, time.Second, cfg.Client.Debounce)
}

func TestLoad_LegacyPortYieldsToPrefixed(t *testing.T) {
	cfg, err := load("", []string{"PORT=7000"})
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)

	cfg, err = load("", []string{"PORT=7000", "ANYHEART_SERVER_ADDR=127.0.0.1:7100"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7100", cfg.Server.Addr)
}

func TestLoad_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anyheart.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"share": {"ttl_days": 7}}`), 0o644))
	cfg, err := load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Share.TTLDays)
}

func TestLoad_MissingFileIsDefaults(t *testing.T) {
	cfg, err := load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.Server.Addr)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		environ []string
	}{
		{"unknown env", "", []string{"ANYHEART_NOPE_X=1"}},
		{"bad backend", "", []string{"ANYHEART_STORAGE_BACKEND=postgres"}},
		{"bad duration", "", []string{"ANYHEART_UPSTREAM_TIMEOUT=soon"}},
		{"unknown file key", "server:\n  prot: 1\n", nil},
		{"negative ttl", "share:\n  ttl_days: -1\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.file != "" {
				path = filepath.Join(t.TempDir(), "c.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.file), 0o644))
			}
			_, err := load(path, tt.environ)
			assert.Error(t, err)
		})
	}
}
