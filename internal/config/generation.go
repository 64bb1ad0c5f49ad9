package config

import (
	"fmt"
	"time"

	"github.com/floegence/appforge/internal/buildgen"
)

// GenerationConfig tunes the build pipeline. Unset fields fall back to the defaults below.
type GenerationConfig struct {
	Budgets *BudgetsConfig `json:"budgets,omitempty" yaml:"budgets,omitempty"`

	// BraceTolerance is the unmatched "{" count tolerated before a file counts as truncated.
	BraceTolerance *int `json:"brace_tolerance,omitempty" yaml:"brace_tolerance,omitempty"`
	// TagTolerance is the unclosed markup tag count tolerated in markup files.
	TagTolerance *int `json:"tag_tolerance,omitempty" yaml:"tag_tolerance,omitempty"`

	// MaxAttempts bounds attempts per request, clamped to [1,8].
	MaxAttempts      *int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	RetryBaseDelayMs *int `json:"retry_base_delay_ms,omitempty" yaml:"retry_base_delay_ms,omitempty"`

	ProgressIntervalMs *int `json:"progress_interval_ms,omitempty" yaml:"progress_interval_ms,omitempty"`

	// StrictValidation turns unfixable validation errors into a retryable failure.
	StrictValidation      *bool `json:"strict_validation,omitempty" yaml:"strict_validation,omitempty"`
	ValidationConcurrency *int  `json:"validation_concurrency,omitempty" yaml:"validation_concurrency,omitempty"`
}

// BudgetsConfig overrides individual rows of the budget table.
type BudgetsConfig struct {
	Foundation *TokenBudgetConfig `json:"foundation,omitempty" yaml:"foundation,omitempty"`
	Additive   *TokenBudgetConfig `json:"additive,omitempty" yaml:"additive,omitempty"`
	Small      *TokenBudgetConfig `json:"small,omitempty" yaml:"small,omitempty"`
}

type TokenBudgetConfig struct {
	MaxTokens      int `json:"max_tokens" yaml:"max_tokens"`
	ThinkingBudget int `json:"thinking_budget" yaml:"thinking_budget"`
	TimeoutMs      int `json:"timeout_ms" yaml:"timeout_ms"`
}

const (
	defaultGenerationStrictValidation = false
	maxValidationConcurrency          = 64
)

func (c *GenerationConfig) Validate() error {
	if c == nil {
		return nil
	}
	if err := c.EffectiveBudgets().Validate(); err != nil {
		return fmt.Errorf("invalid budgets: %w", err)
	}
	if c.BraceTolerance != nil && *c.BraceTolerance < 0 {
		return fmt.Errorf("invalid brace_tolerance %d", *c.BraceTolerance)
	}
	if c.TagTolerance != nil && *c.TagTolerance < 0 {
		return fmt.Errorf("invalid tag_tolerance %d", *c.TagTolerance)
	}
	if c.MaxAttempts != nil && (*c.MaxAttempts < 1 || *c.MaxAttempts > buildgen.MaxAttemptsCeiling) {
		return fmt.Errorf("invalid max_attempts %d (must be in [1,%d])", *c.MaxAttempts, buildgen.MaxAttemptsCeiling)
	}
	if c.RetryBaseDelayMs != nil && *c.RetryBaseDelayMs < 0 {
		return fmt.Errorf("invalid retry_base_delay_ms %d", *c.RetryBaseDelayMs)
	}
	if c.ProgressIntervalMs != nil && *c.ProgressIntervalMs <= 0 {
		return fmt.Errorf("invalid progress_interval_ms %d", *c.ProgressIntervalMs)
	}
	if c.ValidationConcurrency != nil && (*c.ValidationConcurrency < 1 || *c.ValidationConcurrency > maxValidationConcurrency) {
		return fmt.Errorf("invalid validation_concurrency %d (must be in [1,%d])", *c.ValidationConcurrency, maxValidationConcurrency)
	}
	return nil
}

func (b *TokenBudgetConfig) budget() buildgen.TokenBudget {
	return buildgen.TokenBudget{MaxTokens: b.MaxTokens, ThinkingBudget: b.ThinkingBudget, TimeoutMs: b.TimeoutMs}
}

func (c *GenerationConfig) EffectiveBudgets() buildgen.BudgetTable {
	table := buildgen.DefaultBudgetTable()
	if c == nil || c.Budgets == nil {
		return table
	}
	if c.Budgets.Foundation != nil {
		table.Foundation = c.Budgets.Foundation.budget()
	}
	if c.Budgets.Additive != nil {
		table.Additive = c.Budgets.Additive.budget()
	}
	if c.Budgets.Small != nil {
		table.Small = c.Budgets.Small.budget()
	}
	return table
}

func (c *GenerationConfig) EffectiveTolerances() buildgen.TruncationTolerances {
	tol := buildgen.DefaultTruncationTolerances()
	if c == nil {
		return tol
	}
	if c.BraceTolerance != nil && *c.BraceTolerance >= 0 {
		tol.Brace = *c.BraceTolerance
	}
	if c.TagTolerance != nil && *c.TagTolerance >= 0 {
		tol.Tag = *c.TagTolerance
	}
	return tol
}

func (c *GenerationConfig) EffectiveMaxAttempts() int {
	if c == nil || c.MaxAttempts == nil {
		return buildgen.DefaultMaxAttempts
	}
	v := *c.MaxAttempts
	if v < 1 {
		return 1
	}
	if v > buildgen.MaxAttemptsCeiling {
		return buildgen.MaxAttemptsCeiling
	}
	return v
}

func (c *GenerationConfig) EffectiveRetryBaseDelay() time.Duration {
	if c == nil || c.RetryBaseDelayMs == nil || *c.RetryBaseDelayMs < 0 {
		return buildgen.DefaultRetryBaseDelay
	}
	return time.Duration(*c.RetryBaseDelayMs) * time.Millisecond
}

func (c *GenerationConfig) EffectiveProgressInterval() time.Duration {
	if c == nil || c.ProgressIntervalMs == nil || *c.ProgressIntervalMs <= 0 {
		return buildgen.DefaultProgressInterval
	}
	return time.Duration(*c.ProgressIntervalMs) * time.Millisecond
}

func (c *GenerationConfig) EffectiveStrictValidation() bool {
	if c == nil || c.StrictValidation == nil {
		return defaultGenerationStrictValidation
	}
	return *c.StrictValidation
}

func (c *GenerationConfig) EffectiveValidationConcurrency() int {
	if c == nil || c.ValidationConcurrency == nil {
		return buildgen.DefaultValidationConcurrency
	}
	v := *c.ValidationConcurrency
	if v < 1 {
		return 1
	}
	if v > maxValidationConcurrency {
		return maxValidationConcurrency
	}
	return v
}

// PipelineOptions fills the tuning fields of buildgen.Options. The caller supplies
// the provider, model, validator, recorder and logger.
func (c *GenerationConfig) PipelineOptions() buildgen.Options {
	retry := buildgen.DefaultRetryPolicy()
	retry.MaxAttempts = c.EffectiveMaxAttempts()
	retry.BaseDelay = c.EffectiveRetryBaseDelay()
	tol := c.EffectiveTolerances()
	return buildgen.Options{
		Budgets:               c.EffectiveBudgets(),
		Tolerances:            &tol,
		Retry:                 retry,
		StrictValidation:      c.EffectiveStrictValidation(),
		ValidationConcurrency: c.EffectiveValidationConcurrency(),
		ProgressInterval:      c.EffectiveProgressInterval(),
	}
}
