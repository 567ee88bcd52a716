// Package config provides configuration loading for retrospect.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (RETROSPECT_CLAUDE_SCAN_MODEL, ...)
//  2. YAML config file (~/.config/retrospect/config.yaml)
//  3. Built-in defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/retrospect/internal/logging"
)

const envPrefix = "RETROSPECT_"

// Config is the root configuration.
type Config struct {
	// SessionsDir is the root of per-project session transcript logs.
	SessionsDir string `koanf:"sessions_dir"`
	// SkillsDir is the root of skill definition documents.
	SkillsDir string `koanf:"skills_dir"`
	// RulesFile is the permanent rules document (may be absent).
	RulesFile string `koanf:"rules_file"`
	// DataDir holds the progress ledger and generated reports.
	DataDir string `koanf:"data_dir"`

	Concurrency int `koanf:"concurrency"`

	Claude  ClaudeConfig   `koanf:"claude"`
	Logging logging.Config `koanf:"logging"`
}

// ClaudeConfig configures the Anthropic API client.
type ClaudeConfig struct {
	APIKey          string `koanf:"api_key"`
	BaseURL         string `koanf:"base_url"`
	ScanModel       string `koanf:"scan_model"`
	VerifyModel     string `koanf:"verify_model"`
	MaxTokens       int    `koanf:"max_tokens"`
	TimeoutSeconds  int    `koanf:"timeout_seconds"`
	MaxRetries      int    `koanf:"max_retries"`
	RequestDelayMS  int    `koanf:"request_delay_ms"`
}

// defaultYAML holds built-in defaults, loaded before file and env layers.
// Path fields are filled in relative to the home directory after unmarshal.
const defaultYAML = `
concurrency: 5
claude:
  base_url: https://api.anthropic.com
  scan_model: claude-3-5-haiku-latest
  verify_model: claude-sonnet-4-20250514
  max_tokens: 8192
  timeout_seconds: 120
  max_retries: 3
  request_delay_ms: 500
logging:
  level: info
  format: console
`

// Load reads configuration from the given YAML file (default path when
// empty), then applies environment overrides.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}

	if configPath == "" {
		configPath = filepath.Join(home, ".config", "retrospect", "config.yaml")
	}
	if content, err := os.ReadFile(configPath); err == nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// RETROSPECT_CLAUDE_SCAN_MODEL -> claude.scan_model, matched against
	// the known key set so multi-word keys survive the underscore split.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return envToKey(k, s)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyPathDefaults(&cfg, home)

	if cfg.Claude.APIKey == "" {
		cfg.Claude.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	return &cfg, nil
}

// applyPathDefaults fills unset path fields relative to the home directory.
func applyPathDefaults(cfg *Config, home string) {
	if cfg.SessionsDir == "" {
		cfg.SessionsDir = filepath.Join(home, ".claude", "projects")
	}
	if cfg.SkillsDir == "" {
		cfg.SkillsDir = filepath.Join(home, ".claude", "skills")
	}
	if cfg.RulesFile == "" {
		cfg.RulesFile = filepath.Join(home, ".claude", "CLAUDE.md")
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(home, ".local", "share", "retrospect")
	}
}

// envToKey maps RETROSPECT_CLAUDE_SCAN_MODEL to claude.scan_model by
// matching against keys already known to the koanf instance. Unknown
// variables fall back to a plain lowercase underscore-to-dot mapping.
func envToKey(k *koanf.Koanf, s string) string {
	name := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	flat := strings.ReplaceAll(name, "_", ".")
	if k.Exists(flat) {
		return flat
	}
	// Try collapsing trailing segments: claude.scan.model -> claude.scan_model
	parts := strings.Split(name, "_")
	for i := len(parts) - 1; i > 0; i-- {
		candidate := strings.Join(parts[:i], ".") + "." + strings.Join(parts[i:], "_")
		if k.Exists(candidate) {
			return candidate
		}
	}
	if k.Exists(name) {
		return name
	}
	return flat
}
