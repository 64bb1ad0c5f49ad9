package buildgen

import (
	"fmt"
	"strings"
	"time"

	"github.com/floegence/appforge/internal/hostload"
)

const (
	DefaultMaxAttempts    = 3
	MaxAttemptsCeiling    = 8
	DefaultRetryBaseDelay = 2 * time.Second
	defaultFixedDelay     = time.Second
	maxPreviousErrorRunes = 400
	maxValidationDetails  = 12
)

// RetryContext describes the attempt that just failed.
type RetryContext struct {
	AttemptNumber     int                `json:"attempt_number"`
	Category          FailureCategory    `json:"category"`
	PreviousError     string             `json:"previous_error"`
	OriginalResponse  string             `json:"original_response,omitempty"`
	ValidationDetails []string           `json:"validation_details,omitempty"`
	HostLoad          *hostload.Snapshot `json:"host_load,omitempty"`
}

type RetryDecision struct {
	ShouldRetry bool          `json:"should_retry"`
	Delay       time.Duration `json:"delay"`
	// Instruction is appended to the next attempt's prompt.
	Instruction string `json:"instruction,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// RetryPolicy bounds the attempt loop of a single build unit.
type RetryPolicy struct {
	MaxAttempts int
	// BaseDelay starts the doubling backoff used for transport and timeout failures.
	BaseDelay time.Duration
	// FixedDelay applies to every other retryable category.
	FixedDelay time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultRetryBaseDelay, FixedDelay: defaultFixedDelay}
}

type delayKind int

const (
	delayFixed delayKind = iota
	delayExponential
)

type categoryPolicy struct {
	retry       bool
	delay       delayKind
	instruction func(RetryContext) string
}

// categoryPolicies must hold an entry for every FailureCategory.
var categoryPolicies = map[FailureCategory]categoryPolicy{
	FailureParse: {retry: true, delay: delayFixed, instruction: func(RetryContext) string {
		return "Your previous response was missing the required file delimiters. Reissue the complete response. " +
			"Start every file with " + MarkerFilePrefix + "<path>=== on its own line and finish with " + MarkerEnd + "."
	}},
	FailureEmpty: {retry: true, delay: delayFixed, instruction: func(RetryContext) string {
		return "Your previous response was empty. Produce the full set of files now, using the delimiter format exactly."
	}},
	FailureTransport: {retry: true, delay: delayExponential, instruction: func(RetryContext) string {
		return "The previous request failed before a complete response arrived. Produce the full response again from the beginning."
	}},
	FailureTimeout: {retry: true, delay: delayExponential, instruction: func(RetryContext) string {
		return "The previous response took too long. Be concise: keep comments short and avoid restating unchanged code."
	}},
	FailureTruncated: {retry: true, delay: delayFixed, instruction: func(RetryContext) string {
		return "Your previous response was cut off before any file was complete. Write fewer, smaller files, keep each file " +
			"self-contained, and make sure to finish with " + MarkerEnd + "."
	}},
	FailureValidation: {retry: true, delay: delayFixed, instruction: func(rc RetryContext) string {
		var b strings.Builder
		b.WriteString("Some files in your previous response failed static checks. Fix these problems and reissue every file:")
		details := rc.ValidationDetails
		if len(details) > maxValidationDetails {
			details = details[:maxValidationDetails]
		}
		for _, d := range details {
			b.WriteString("\n- ")
			b.WriteString(d)
		}
		return b.String()
	}},
	FailureMalformed: {retry: false},
	FailureCanceled:  {retry: false},
}

// Recoverable reports whether resubmitting a request that failed with c may succeed.
func (c FailureCategory) Recoverable() bool {
	return categoryPolicies[c].retry
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.MaxAttempts > MaxAttemptsCeiling {
		p.MaxAttempts = MaxAttemptsCeiling
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.FixedDelay < 0 {
		p.FixedDelay = 0
	}
	return p
}

// Decide returns whether the attempt loop may continue after rc.
func (p RetryPolicy) Decide(rc RetryContext) RetryDecision {
	p = p.normalized()
	cp, ok := categoryPolicies[rc.Category]
	if !ok {
		return RetryDecision{Reason: fmt.Sprintf("unknown failure category %d", int(rc.Category))}
	}
	if !cp.retry {
		return RetryDecision{Reason: rc.Category.Code() + " failures are not retried"}
	}
	if rc.AttemptNumber >= p.MaxAttempts {
		return RetryDecision{Reason: fmt.Sprintf("attempt limit reached (%d/%d)", rc.AttemptNumber, p.MaxAttempts)}
	}

	var delay time.Duration
	switch cp.delay {
	case delayExponential:
		delay = backoffDuration(p.BaseDelay, rc.AttemptNumber)
	default:
		delay = p.FixedDelay
	}
	return RetryDecision{
		ShouldRetry: true,
		Delay:       delay,
		Instruction: correctiveInstruction(rc, p.MaxAttempts, cp.instruction(rc)),
		Reason:      rc.Category.Code(),
	}
}

// backoffDuration doubles base per failed attempt and caps at four times base.
func backoffDuration(base time.Duration, attempt int) time.Duration {
	switch {
	case attempt <= 1:
		return base
	case attempt == 2:
		return 2 * base
	default:
		return 4 * base
	}
}

func correctiveInstruction(rc RetryContext, maxAttempts int, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[RETRY] Attempt %d/%d\n", rc.AttemptNumber+1, maxAttempts)
	if prev := strings.TrimSpace(rc.PreviousError); prev != "" {
		fmt.Fprintf(&b, "Previous failure (%s): %s\n", rc.Category.Code(), truncateRunes(prev, maxPreviousErrorRunes))
	}
	b.WriteString(body)
	return b.String()
}
