package ai

import (
	"context"
	"strings"
)

// StreamEventType is the normalized stream event kind produced by provider adapters.
type StreamEventType string

const (
	StreamEventTextDelta     StreamEventType = "text_delta"
	StreamEventThinkingDelta StreamEventType = "thinking_delta"
	StreamEventUsage         StreamEventType = "usage"
	StreamEventFinishReason  StreamEventType = "finish_reason"
)

type StreamEvent struct {
	Type       StreamEventType `json:"type"`
	Text       string          `json:"text,omitempty"`
	Usage      *TurnUsage      `json:"usage,omitempty"`
	FinishHint string          `json:"finish_hint,omitempty"`
}

type Message struct {
	// Role is one of: "system" | "user" | "assistant".
	Role string `json:"role"`
	Text string `json:"text"`
}

func SystemMessage(text string) Message    { return Message{Role: "system", Text: text} }
func UserMessage(text string) Message      { return Message{Role: "user", Text: text} }
func AssistantMessage(text string) Message { return Message{Role: "assistant", Text: text} }

type TurnRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`

	// MaxOutputTokens caps the visible response plus any reasoning tokens.
	MaxOutputTokens int `json:"max_output_tokens,omitempty"`
	// ThinkingBudgetTokens is the internal reasoning cap. It must stay below MaxOutputTokens.
	ThinkingBudgetTokens int `json:"thinking_budget_tokens,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
}

type TurnUsage struct {
	InputTokens     int64 `json:"input_tokens,omitempty"`
	OutputTokens    int64 `json:"output_tokens,omitempty"`
	CacheReadTokens int64 `json:"cache_read_tokens,omitempty"`
	ReasoningTokens int64 `json:"reasoning_tokens,omitempty"`
}

// Add accumulates usage across attempts.
func (u TurnUsage) Add(o TurnUsage) TurnUsage {
	return TurnUsage{
		InputTokens:     u.InputTokens + o.InputTokens,
		OutputTokens:    u.OutputTokens + o.OutputTokens,
		CacheReadTokens: u.CacheReadTokens + o.CacheReadTokens,
		ReasoningTokens: u.ReasoningTokens + o.ReasoningTokens,
	}
}

// Finish reasons normalized across providers.
const (
	FinishReasonStop          = "stop"
	FinishReasonLength        = "length"
	FinishReasonContentFilter = "content_filter"
	FinishReasonError         = "error"
	FinishReasonUnknown       = "unknown"
)

type TurnResult struct {
	FinishReason    string         `json:"finish_reason"`
	Text            string         `json:"text,omitempty"`
	Usage           TurnUsage      `json:"usage,omitempty"`
	RawProviderDiag map[string]any `json:"raw_provider_diag,omitempty"`
}

// Provider is the normalized transport adapter contract.
//
// StreamTurn issues exactly one model call. Text fragments are delivered to onEvent in arrival order,
// and the call must return promptly once ctx is canceled.
type Provider interface {
	StreamTurn(ctx context.Context, req TurnRequest, onEvent func(StreamEvent)) (TurnResult, error)
}

func emitProviderEvent(onEvent func(StreamEvent), event StreamEvent) {
	if onEvent != nil {
		onEvent(event)
	}
}

func collectSystemPrompt(messages []Message) string {
	parts := make([]string, 0, 2)
	for _, msg := range messages {
		if strings.ToLower(strings.TrimSpace(msg.Role)) != "system" {
			continue
		}
		if txt := strings.TrimSpace(msg.Text); txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, "\n\n")
}
