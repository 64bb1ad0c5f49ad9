package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// AIConfig is the provider registry used to build generation requests.
//
// Providers own their model list; exactly one model across all providers is the default.
// Model wire ids are "<provider_id>/<model_name>".
type AIConfig struct {
	Providers []AIProvider `json:"providers,omitempty" yaml:"providers,omitempty"`
}

const (
	ProviderTypeOpenAI           = "openai"
	ProviderTypeAnthropic        = "anthropic"
	ProviderTypeOpenAICompatible = "openai_compatible"
)

type AIProvider struct {
	// ID is the stable key used for secrets lookup and model routing.
	ID string `json:"id" yaml:"id"`

	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type is one of: "openai" | "anthropic" | "openai_compatible".
	Type string `json:"type" yaml:"type"`

	// BaseURL overrides the provider endpoint. Required for openai_compatible.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	Models []AIProviderModel `json:"models,omitempty" yaml:"models,omitempty"`
}

type AIProviderModel struct {
	ModelName string `json:"model_name" yaml:"model_name"`
	IsDefault bool   `json:"is_default,omitempty" yaml:"is_default,omitempty"`
}

func (c *AIConfig) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if len(c.Providers) == 0 {
		return errors.New("missing providers")
	}
	seen := make(map[string]struct{}, len(c.Providers))
	defaultCount := 0
	for i := range c.Providers {
		p := c.Providers[i]
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return fmt.Errorf("providers[%d]: missing id", i)
		}
		if strings.Contains(id, "/") {
			return fmt.Errorf("providers[%d]: invalid id %q (must not contain /)", i, id)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("providers[%d]: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}

		t := strings.TrimSpace(p.Type)
		switch t {
		case ProviderTypeOpenAI, ProviderTypeAnthropic, ProviderTypeOpenAICompatible:
		default:
			return fmt.Errorf("providers[%d]: invalid type %q", i, t)
		}

		baseURL := strings.TrimSpace(p.BaseURL)
		if t == ProviderTypeOpenAICompatible && baseURL == "" {
			return fmt.Errorf("providers[%d]: base_url is required for openai_compatible", i)
		}
		if baseURL != "" {
			u, err := url.Parse(baseURL)
			if err != nil {
				return fmt.Errorf("providers[%d]: invalid base_url: %w", i, err)
			}
			scheme := strings.ToLower(strings.TrimSpace(u.Scheme))
			if scheme != "http" && scheme != "https" {
				return fmt.Errorf("providers[%d]: invalid base_url scheme %q", i, u.Scheme)
			}
			if strings.TrimSpace(u.Host) == "" {
				return fmt.Errorf("providers[%d]: invalid base_url host", i)
			}
		}

		if len(p.Models) == 0 {
			return fmt.Errorf("providers[%d]: missing models", i)
		}
		modelNames := make(map[string]struct{}, len(p.Models))
		for j, m := range p.Models {
			name := strings.TrimSpace(m.ModelName)
			if name == "" {
				return fmt.Errorf("providers[%d].models[%d]: missing model_name", i, j)
			}
			if strings.Contains(name, "/") {
				return fmt.Errorf("providers[%d].models[%d]: invalid model_name %q (must not contain /)", i, j, name)
			}
			if _, ok := modelNames[name]; ok {
				return fmt.Errorf("providers[%d].models[%d]: duplicate model_name %q", i, j, name)
			}
			modelNames[name] = struct{}{}
			if m.IsDefault {
				defaultCount++
			}
		}
	}

	if defaultCount == 0 {
		return errors.New("missing default model (providers[].models[].is_default)")
	}
	if defaultCount > 1 {
		return errors.New("multiple default models (providers[].models[].is_default)")
	}
	return nil
}

// DefaultModelID returns the default model wire id. It assumes Validate has passed.
func (c *AIConfig) DefaultModelID() (string, bool) {
	if c == nil {
		return "", false
	}
	for _, p := range c.Providers {
		pid := strings.TrimSpace(p.ID)
		if pid == "" {
			continue
		}
		for _, m := range p.Models {
			mn := strings.TrimSpace(m.ModelName)
			if m.IsDefault && mn != "" {
				return pid + "/" + mn, true
			}
		}
	}
	return "", false
}

// ResolveModel finds the provider and model name for a wire id. An empty id selects the default model.
func (c *AIConfig) ResolveModel(modelID string) (AIProvider, string, error) {
	if c == nil {
		return AIProvider{}, "", errors.New("nil config")
	}
	raw := strings.TrimSpace(modelID)
	if raw == "" {
		def, ok := c.DefaultModelID()
		if !ok {
			return AIProvider{}, "", errors.New("no default model configured")
		}
		raw = def
	}
	pid, mn, ok := strings.Cut(raw, "/")
	pid, mn = strings.TrimSpace(pid), strings.TrimSpace(mn)
	if !ok || pid == "" || mn == "" {
		return AIProvider{}, "", fmt.Errorf("invalid model id %q (want <provider_id>/<model_name>)", modelID)
	}
	for _, p := range c.Providers {
		if strings.TrimSpace(p.ID) != pid {
			continue
		}
		for _, m := range p.Models {
			if strings.TrimSpace(m.ModelName) == mn {
				return p, mn, nil
			}
		}
		return AIProvider{}, "", fmt.Errorf("model %q is not configured for provider %q", mn, pid)
	}
	return AIProvider{}, "", fmt.Errorf("unknown provider %q", pid)
}

// ProviderIDs lists configured provider ids in declaration order.
func (c *AIConfig) ProviderIDs() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		if id := strings.TrimSpace(p.ID); id != "" {
			out = append(out, id)
		}
	}
	return out
}
