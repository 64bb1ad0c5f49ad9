package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestLoad_YAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
ai:
  providers:
    - id: anthropic
      type: anthropic
      models:
        - model_name: claude-sonnet-4-5
          is_default: true
generation:
  max_attempts: 5
  brace_tolerance: 0
  budgets:
    small:
      max_tokens: 8000
      thinking_budget: 2000
      timeout_ms: 60000
log_level: debug
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if id, _ := cfg.AI.DefaultModelID(); id != "anthropic/claude-sonnet-4-5" {
		t.Fatalf("default model=%q", id)
	}
	if got := cfg.Generation.EffectiveMaxAttempts(); got != 5 {
		t.Fatalf("max attempts=%d, want 5", got)
	}
	if tol := cfg.Generation.EffectiveTolerances(); tol.Brace != 0 || tol.Tag != 3 {
		t.Fatalf("tolerances=%+v, want brace 0 tag 3", tol)
	}
	if b := cfg.Generation.EffectiveBudgets(); b.Small.MaxTokens != 8000 || b.Foundation.MaxTokens != 64000 {
		t.Fatalf("budgets=%+v", b)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cases := map[string]string{
		"no_ai.json":      `{"log_format":"json"}`,
		"bad_level.json":  `{"ai":{"providers":[{"id":"o","type":"openai","models":[{"model_name":"m","is_default":true}]}]},"log_level":"trace"}`,
		"bad_budget.json": `{"ai":{"providers":[{"id":"o","type":"openai","models":[{"model_name":"m","is_default":true}]}]},"generation":{"budgets":{"small":{"max_tokens":100,"thinking_budget":200,"timeout_ms":1}}}}`,
		"garbage.yaml":    "ai: [",
	}
	for name, body := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		if _, err := Load(path); err == nil {
			t.Fatalf("Load(%s) succeeded, want error", name)
		}
	}
}

func TestSaveLoad_RoundTripJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.json")
	strict := true
	in := &Config{
		AI:         testAIConfig(),
		Generation: &GenerationConfig{StrictValidation: &strict},
		LogFormat:  "text",
	}
	if err := Save(path, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("tmp file left behind: %v", err)
	}
	if runtime.GOOS != "windows" {
		st, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Stat: %v", err)
		}
		if perm := st.Mode().Perm(); perm != 0o600 {
			t.Fatalf("perm=%o, want 600", perm)
		}
	}

	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !out.Generation.EffectiveStrictValidation() || out.LogFormat != "text" || len(out.AI.Providers) != 2 {
		t.Fatalf("round trip=%+v", out)
	}
}

func TestSave_RejectsInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := Save(path, &Config{}); err == nil {
		t.Fatalf("Save accepted config without ai")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("invalid config was written: %v", err)
	}
}

func TestPaths(t *testing.T) {
	t.Parallel()

	cfgPath := filepath.Join("home", "u", ".appforge", "config.json")
	if got, want := SecretsPath(cfgPath), filepath.Join("home", "u", ".appforge", "secrets.json"); got != want {
		t.Fatalf("SecretsPath=%q, want %q", got, want)
	}
	var cfg Config
	if got, want := cfg.AttemptsDBPath(cfgPath), filepath.Join("home", "u", ".appforge", "attempts.sqlite"); got != want {
		t.Fatalf("AttemptsDBPath=%q, want %q", got, want)
	}
	cfg.AttemptsDB = "/var/lib/appforge/a.db"
	if got := cfg.AttemptsDBPath(cfgPath); got != "/var/lib/appforge/a.db" {
		t.Fatalf("AttemptsDBPath override=%q", got)
	}
}
