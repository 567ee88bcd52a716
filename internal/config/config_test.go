package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Concurrency)
	assert.Equal(t, "https://api.anthropic.com", cfg.Claude.BaseURL)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.Claude.ScanModel)
	assert.Equal(t, 8192, cfg.Claude.MaxTokens)
	assert.Equal(t, 120, cfg.Claude.TimeoutSeconds)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".claude", "projects"), cfg.SessionsDir)
	assert.Equal(t, filepath.Join(home, ".claude", "skills"), cfg.SkillsDir)
	assert.Equal(t, filepath.Join(home, ".claude", "CLAUDE.md"), cfg.RulesFile)
	assert.Equal(t, filepath.Join(home, ".local", "share", "retrospect"), cfg.DataDir)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
sessions_dir: /srv/sessions
concurrency: 10
claude:
  scan_model: claude-sonnet-4-20250514
  request_delay_ms: 0
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/sessions", cfg.SessionsDir)
	assert.Equal(t, 10, cfg.Concurrency)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.Claude.ScanModel)
	assert.Equal(t, 0, cfg.Claude.RequestDelayMS)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, "https://api.anthropic.com", cfg.Claude.BaseURL)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("claude:\n  scan_model: from-file\n"), 0o644))

	t.Setenv("RETROSPECT_CLAUDE_SCAN_MODEL", "from-env")
	t.Setenv("RETROSPECT_CONCURRENCY", "3")
	t.Setenv("RETROSPECT_LOGGING_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Claude.ScanModel)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_APIKeyFallsBackToAnthropicEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("RETROSPECT_CLAUDE_API_KEY", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", cfg.Claude.APIKey)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("claude: [unclosed\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
