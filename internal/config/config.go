package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration for appforge.
//
// API keys never live here; see settings.SecretsStore.
type Config struct {
	AI         *AIConfig         `json:"ai" yaml:"ai"`
	Generation *GenerationConfig `json:"generation,omitempty" yaml:"generation,omitempty"`

	// AttemptsDB is the SQLite attempt log. Empty means attempts.sqlite next to the config file.
	AttemptsDB string `json:"attempts_db,omitempty" yaml:"attempts_db,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `json:"log_format,omitempty" yaml:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.AI == nil {
		return errors.New("missing ai")
	}
	if err := c.AI.Validate(); err != nil {
		return fmt.Errorf("invalid ai: %w", err)
	}
	if c.Generation != nil {
		if err := c.Generation.Validate(); err != nil {
			return fmt.Errorf("invalid generation: %w", err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}

// DefaultConfigPath returns the default config path:
//
//	~/.appforge/config.json
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "appforge.config.json"
	}
	return filepath.Join(home, ".appforge", "config.json")
}

// SecretsPath returns secrets.json in the config file's directory.
func SecretsPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "secrets.json")
}

// AttemptsDBPath resolves the attempt log location for a config loaded from configPath.
func (c *Config) AttemptsDBPath(configPath string) string {
	if c != nil {
		if p := strings.TrimSpace(c.AttemptsDB); p != "" {
			return p
		}
	}
	return filepath.Join(filepath.Dir(configPath), "attempts.sqlite")
}

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// Load reads path as YAML when its extension is .yaml or .yml and as JSON otherwise.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if isYAMLPath(path) {
		err = yaml.Unmarshal(b, &cfg)
	} else {
		err = json.Unmarshal(b, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	var (
		b   []byte
		err error
	)
	if isYAMLPath(path) {
		b, err = yaml.Marshal(cfg)
	} else {
		b, err = json.MarshalIndent(cfg, "", "  ")
		b = append(b, '\n')
	}
	if err != nil {
		return err
	}

	// Write atomically.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
