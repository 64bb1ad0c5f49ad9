package ai

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
)

const defaultMaxOutputTokens = 4096

// NewProviderAdapter builds a streaming adapter for the given provider type.
//
// Supported types: "openai" | "openai_compatible" | "anthropic".
func NewProviderAdapter(providerType string, baseURL string, apiKey string) (Provider, error) {
	providerType = strings.ToLower(strings.TrimSpace(providerType))
	baseURL = strings.TrimSpace(baseURL)
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("missing provider api key")
	}
	switch providerType {
	case "openai", "openai_compatible":
		opts := []ooption.RequestOption{ooption.WithAPIKey(strings.TrimSpace(apiKey))}
		if baseURL != "" {
			opts = append(opts, ooption.WithBaseURL(baseURL))
		}
		return &openAIProvider{
			client:          openai.NewClient(opts...),
			reasoningModels: providerType == "openai" && isOfficialOpenAIBaseURL(baseURL),
		}, nil
	case "anthropic":
		opts := []aoption.RequestOption{aoption.WithAPIKey(strings.TrimSpace(apiKey))}
		if baseURL != "" {
			opts = append(opts, aoption.WithBaseURL(baseURL))
		}
		return &anthropicProvider{client: anthropic.NewClient(opts...)}, nil
	default:
		return nil, fmt.Errorf("unsupported provider type %q", providerType)
	}
}

func isOfficialOpenAIBaseURL(baseURL string) bool {
	if baseURL == "" {
		return true
	}
	u, err := url.Parse(baseURL)
	if err != nil || u == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(u.Hostname()), "api.openai.com")
}

// mergeConversationTurns drops system messages and folds consecutive turns of the same role,
// so corrective instructions appended after the original prompt still form a valid alternation.
func mergeConversationTurns(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, msg := range messages {
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		if role == "system" {
			continue
		}
		if role != "assistant" {
			role = "user"
		}
		txt := strings.TrimSpace(msg.Text)
		if txt == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Text += "\n\n" + txt
			continue
		}
		out = append(out, Message{Role: role, Text: txt})
	}
	return out
}
