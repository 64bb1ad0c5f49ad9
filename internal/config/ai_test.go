package config

import "testing"

func testAIConfig() *AIConfig {
	return &AIConfig{
		Providers: []AIProvider{
			{
				ID:      "openai",
				Name:    "OpenAI",
				Type:    ProviderTypeOpenAI,
				BaseURL: "https://api.openai.com/v1",
				Models:  []AIProviderModel{{ModelName: "gpt-5-mini", IsDefault: true}, {ModelName: "gpt-4o-mini"}},
			},
			{
				ID:      "anthropic",
				Name:    "Anthropic",
				Type:    ProviderTypeAnthropic,
				BaseURL: "https://api.anthropic.com",
				Models:  []AIProviderModel{{ModelName: "claude-sonnet-4-5"}},
			},
		},
	}
}

func TestAIConfigValidate_RequiresProviderModels(t *testing.T) {
	t.Parallel()

	cfg := &AIConfig{
		Providers: []AIProvider{
			{ID: "openai", Name: "OpenAI", Type: "openai", BaseURL: "https://api.openai.com/v1"},
		},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for missing providers[].models[]")
	}
}

func TestAIConfigValidate_RequiresDefaultModel(t *testing.T) {
	t.Parallel()

	cfg := &AIConfig{
		Providers: []AIProvider{
			{
				ID:      "openai",
				Type:    "openai",
				BaseURL: "https://api.openai.com/v1",
				Models:  []AIProviderModel{{ModelName: "gpt-5-mini"}},
			},
		},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for missing default model")
	}
}

func TestAIConfigValidate_RejectsMultipleDefaults(t *testing.T) {
	t.Parallel()

	cfg := &AIConfig{
		Providers: []AIProvider{
			{
				ID:      "openai",
				Type:    "openai",
				BaseURL: "https://api.openai.com/v1",
				Models:  []AIProviderModel{{ModelName: "gpt-5-mini", IsDefault: true}, {ModelName: "gpt-5", IsDefault: true}},
			},
		},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for multiple default models")
	}
}

func TestAIConfigValidate_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(c *AIConfig)
	}{
		{"no providers", func(c *AIConfig) { c.Providers = nil }},
		{"slash in id", func(c *AIConfig) { c.Providers[0].ID = "open/ai" }},
		{"duplicate id", func(c *AIConfig) { c.Providers[1].ID = "openai" }},
		{"unknown type", func(c *AIConfig) { c.Providers[1].Type = "gemini" }},
		{"compatible without base url", func(c *AIConfig) {
			c.Providers[1].Type = ProviderTypeOpenAICompatible
			c.Providers[1].BaseURL = ""
		}},
		{"bad scheme", func(c *AIConfig) { c.Providers[0].BaseURL = "ftp://api.openai.com" }},
		{"missing host", func(c *AIConfig) { c.Providers[0].BaseURL = "https://" }},
		{"empty model name", func(c *AIConfig) { c.Providers[1].Models[0].ModelName = " " }},
		{"slash in model name", func(c *AIConfig) { c.Providers[1].Models[0].ModelName = "a/b" }},
		{"duplicate model", func(c *AIConfig) { c.Providers[0].Models[1].ModelName = "gpt-5-mini" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := testAIConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("Validate succeeded, want error")
			}
		})
	}
}

func TestAIConfigValidate_OK(t *testing.T) {
	t.Parallel()

	cfg := testAIConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	got, ok := cfg.DefaultModelID()
	if !ok || got != "openai/gpt-5-mini" {
		t.Fatalf("DefaultModelID=%q ok=%v, want openai/gpt-5-mini", got, ok)
	}
	if ids := cfg.ProviderIDs(); len(ids) != 2 || ids[0] != "openai" || ids[1] != "anthropic" {
		t.Fatalf("ProviderIDs=%v", ids)
	}
}

func TestAIConfigResolveModel(t *testing.T) {
	t.Parallel()

	cfg := testAIConfig()

	p, model, err := cfg.ResolveModel("")
	if err != nil || p.ID != "openai" || model != "gpt-5-mini" {
		t.Fatalf("default: provider=%q model=%q err=%v", p.ID, model, err)
	}
	p, model, err = cfg.ResolveModel(" anthropic/claude-sonnet-4-5 ")
	if err != nil || p.Type != ProviderTypeAnthropic || model != "claude-sonnet-4-5" {
		t.Fatalf("explicit: provider=%q model=%q err=%v", p.ID, model, err)
	}
	for _, id := range []string{"anthropic", "anthropic/", "anthropic/gpt-5-mini", "gemini/pro"} {
		if _, _, err := cfg.ResolveModel(id); err == nil {
			t.Fatalf("ResolveModel(%q) succeeded, want error", id)
		}
	}
}
