package ai

import (
	"context"
	"errors"
	"strings"

	openai "github.com/openai/openai-go"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"
)

type openAIProvider struct {
	client openai.Client
	// reasoningModels reports whether reasoning controls may be sent (official endpoint only).
	reasoningModels bool
}

func (p *openAIProvider) StreamTurn(ctx context.Context, req TurnRequest, onEvent func(StreamEvent)) (TurnResult, error) {
	if p == nil {
		return TurnResult{}, errors.New("nil provider")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return TurnResult{}, errors.New("missing model")
	}

	params := oresponses.ResponseNewParams{
		Model:           oshared.ResponsesModel(model),
		MaxOutputTokens: openai.Int(defaultMaxOutputTokens),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if p.reasoningModels && isOpenAIReasoningModel(model) && req.ThinkingBudgetTokens > 0 {
		params.Reasoning = oshared.ReasoningParam{Effort: openAIReasoningEffort(req.ThinkingBudgetTokens, req.MaxOutputTokens)}
	} else if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	inputItems, instructions := buildOpenAIInput(req.Messages)
	params.Input = oresponses.ResponseNewParamsInputUnion{OfInputItemList: inputItems}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}

	stream := p.client.Responses.NewStreaming(ctx, params)
	var textBuf strings.Builder
	var completed oresponses.Response
	gotCompleted := false

	for stream.Next() {
		event := stream.Current()
		switch strings.TrimSpace(event.Type) {
		case "response.output_text.delta":
			delta := event.Delta.OfString
			if delta == "" {
				continue
			}
			textBuf.WriteString(delta)
			emitProviderEvent(onEvent, StreamEvent{Type: StreamEventTextDelta, Text: delta})
		case "response.reasoning_summary_text.delta":
			if delta := event.Delta.OfString; strings.TrimSpace(delta) != "" {
				emitProviderEvent(onEvent, StreamEvent{Type: StreamEventThinkingDelta, Text: delta})
			}
		case "response.completed", "response.incomplete":
			completed = event.Response
			gotCompleted = true
		}
	}
	if err := stream.Err(); err != nil {
		return TurnResult{}, err
	}

	result := TurnResult{Text: textBuf.String()}
	if gotCompleted {
		result.FinishReason = mapOpenAIStatus(completed.Status)
		result.Usage = TurnUsage{
			InputTokens:     completed.Usage.InputTokens,
			OutputTokens:    completed.Usage.OutputTokens,
			CacheReadTokens: completed.Usage.InputTokensDetails.CachedTokens,
			ReasoningTokens: completed.Usage.OutputTokensDetails.ReasoningTokens,
		}
		result.RawProviderDiag = map[string]any{"response_id": strings.TrimSpace(completed.ID)}
		if result.Text == "" {
			result.Text = extractOpenAIResponseText(completed)
		}
	} else {
		// Some compatible gateways end the stream without response.completed.
		if strings.TrimSpace(result.Text) == "" {
			return TurnResult{}, errors.New("missing response.completed event")
		}
		result.FinishReason = FinishReasonStop
	}
	usage := result.Usage
	emitProviderEvent(onEvent, StreamEvent{Type: StreamEventUsage, Usage: &usage})
	emitProviderEvent(onEvent, StreamEvent{Type: StreamEventFinishReason, FinishHint: result.FinishReason})
	return result, nil
}

func buildOpenAIInput(messages []Message) (oresponses.ResponseInputParam, string) {
	items := make(oresponses.ResponseInputParam, 0, len(messages)+1)
	for _, msg := range mergeConversationTurns(messages) {
		role := oresponses.EasyInputMessageRoleUser
		if msg.Role == "assistant" {
			role = oresponses.EasyInputMessageRoleAssistant
		}
		items = append(items, oresponses.ResponseInputItemParamOfMessage(msg.Text, role))
	}
	if len(items) == 0 {
		items = append(items, oresponses.ResponseInputItemParamOfMessage("Continue.", oresponses.EasyInputMessageRoleUser))
	}
	return items, collectSystemPrompt(messages)
}

func isOpenAIReasoningModel(model string) bool {
	model = strings.ToLower(strings.TrimSpace(model))
	if strings.HasPrefix(model, "gpt-5") {
		return true
	}
	return len(model) >= 2 && model[0] == 'o' && model[1] >= '1' && model[1] <= '9'
}

// openAIReasoningEffort maps a token-denominated reasoning cap onto the coarse effort levels the Responses API exposes.
func openAIReasoningEffort(thinkingBudget int, maxOutput int) oshared.ReasoningEffort {
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutputTokens
	}
	ratio := float64(thinkingBudget) / float64(maxOutput)
	switch {
	case ratio >= 0.4:
		return oshared.ReasoningEffortHigh
	case ratio >= 0.2:
		return oshared.ReasoningEffortMedium
	default:
		return oshared.ReasoningEffortLow
	}
}

func extractOpenAIResponseText(resp oresponses.Response) string {
	var sb strings.Builder
	for _, item := range resp.Output {
		if strings.TrimSpace(item.Type) != "message" {
			continue
		}
		msg := item.AsMessage()
		for _, part := range msg.Content {
			if strings.TrimSpace(part.Type) != "output_text" {
				continue
			}
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func mapOpenAIStatus(status oresponses.ResponseStatus) string {
	switch strings.TrimSpace(strings.ToLower(string(status))) {
	case "completed":
		return FinishReasonStop
	case "incomplete":
		return FinishReasonLength
	case "failed", "cancelled":
		return FinishReasonError
	default:
		return FinishReasonUnknown
	}
}
