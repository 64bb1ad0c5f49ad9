package buildgen

import (
	"fmt"
	"time"
)

// TokenBudget is the response-size cap, internal-reasoning cap and wall-clock timeout for one generation call.
type TokenBudget struct {
	MaxTokens      int `json:"max_tokens"`
	ThinkingBudget int `json:"thinking_budget"`
	TimeoutMs      int `json:"timeout_ms"`
}

func (b TokenBudget) Timeout() time.Duration {
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

func (b TokenBudget) Validate() error {
	if b.MaxTokens <= 0 {
		return fmt.Errorf("invalid max_tokens %d", b.MaxTokens)
	}
	if b.ThinkingBudget < 0 {
		return fmt.Errorf("invalid thinking_budget %d", b.ThinkingBudget)
	}
	if b.MaxTokens <= b.ThinkingBudget {
		return fmt.Errorf("max_tokens %d must exceed thinking_budget %d", b.MaxTokens, b.ThinkingBudget)
	}
	if b.TimeoutMs <= 0 {
		return fmt.Errorf("invalid timeout_ms %d", b.TimeoutMs)
	}
	return nil
}

// BudgetTable is the enumerated set of budgets the selector picks from.
type BudgetTable struct {
	// Foundation is used for phase 1 and for any phase estimated large or too_large.
	Foundation TokenBudget `json:"foundation"`
	// Additive is the default for later phases.
	Additive TokenBudget `json:"additive"`
	// Small is used for later phases estimated small.
	Small TokenBudget `json:"small"`
}

func DefaultBudgetTable() BudgetTable {
	return BudgetTable{
		Foundation: TokenBudget{MaxTokens: 64000, ThinkingBudget: 16000, TimeoutMs: 600_000},
		Additive:   TokenBudget{MaxTokens: 32000, ThinkingBudget: 8000, TimeoutMs: 300_000},
		Small:      TokenBudget{MaxTokens: 16000, ThinkingBudget: 4000, TimeoutMs: 180_000},
	}
}

func (t BudgetTable) Validate() error {
	if err := t.Foundation.Validate(); err != nil {
		return fmt.Errorf("foundation: %w", err)
	}
	if err := t.Additive.Validate(); err != nil {
		return fmt.Errorf("additive: %w", err)
	}
	if err := t.Small.Validate(); err != nil {
		return fmt.Errorf("small: %w", err)
	}
	return nil
}

// Select picks the budget for a phase. complexity may be nil when it has not been computed.
func (t BudgetTable) Select(phaseNumber float64, complexity *PhaseComplexity) TokenBudget {
	// Phase 1, and anything split from it, lays the foundation.
	if phaseNumber < 2 {
		return t.Foundation
	}
	if complexity == nil {
		return t.Additive
	}
	switch complexity.Level {
	case ComplexityTooLarge, ComplexityLarge:
		return t.Foundation
	case ComplexitySmall:
		return t.Small
	default:
		return t.Additive
	}
}

// EscalateForTruncation grows max_tokens by half after a response was cut off, capped at the foundation budget.
func (t BudgetTable) EscalateForTruncation(b TokenBudget) TokenBudget {
	out := b
	out.MaxTokens = b.MaxTokens * 3 / 2
	if out.MaxTokens > t.Foundation.MaxTokens {
		out.MaxTokens = t.Foundation.MaxTokens
	}
	if out.MaxTokens < b.MaxTokens {
		out.MaxTokens = b.MaxTokens
	}
	if out.TimeoutMs < t.Foundation.TimeoutMs && out.MaxTokens > b.MaxTokens {
		out.TimeoutMs = b.TimeoutMs * 3 / 2
		if out.TimeoutMs > t.Foundation.TimeoutMs {
			out.TimeoutMs = t.Foundation.TimeoutMs
		}
	}
	return out
}
