package buildgen

import (
	"strings"
	"testing"
	"time"
)

func TestCategoryPolicies_CoverEveryCategory(t *testing.T) {
	t.Parallel()

	for _, c := range AllFailureCategories {
		cp, ok := categoryPolicies[c]
		if !ok {
			t.Fatalf("category %s has no policy", c)
		}
		if cp.retry && cp.instruction == nil {
			t.Fatalf("retryable category %s has no corrective instruction", c)
		}
		if c.Code() == "unknown" {
			t.Fatalf("category %d has no code", int(c))
		}
	}
	if len(categoryPolicies) != len(AllFailureCategories) {
		t.Fatalf("policy table has %d entries for %d categories", len(categoryPolicies), len(AllFailureCategories))
	}
}

func TestFailureCategory_Recoverable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		category FailureCategory
		want     bool
	}{
		{category: FailureParse, want: true},
		{category: FailureEmpty, want: true},
		{category: FailureTransport, want: true},
		{category: FailureTimeout, want: true},
		{category: FailureTruncated, want: true},
		{category: FailureValidation, want: true},
		{category: FailureMalformed, want: false},
		{category: FailureCanceled, want: false},
		{category: FailureCategory(99), want: false},
	}
	for _, tc := range cases {
		if got := tc.category.Recoverable(); got != tc.want {
			t.Fatalf("%s.Recoverable()=%v, want %v", tc.category, got, tc.want)
		}
	}
}

func TestRetryPolicy_NeverExceedsMaxAttempts(t *testing.T) {
	t.Parallel()

	for maxAttempts := 1; maxAttempts <= MaxAttemptsCeiling; maxAttempts++ {
		p := RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: time.Second, FixedDelay: time.Second}
		for _, c := range AllFailureCategories {
			calls := 0
			for attempt := 1; ; attempt++ {
				calls++
				d := p.Decide(RetryContext{AttemptNumber: attempt, Category: c, PreviousError: "boom"})
				if attempt == maxAttempts && d.ShouldRetry {
					t.Fatalf("max=%d category=%s: ShouldRetry=true on the final attempt", maxAttempts, c)
				}
				if !d.ShouldRetry {
					break
				}
			}
			if calls > maxAttempts {
				t.Fatalf("max=%d category=%s: %d calls", maxAttempts, c, calls)
			}
		}
	}
}

func TestRetryPolicy_NonRetryableCategories(t *testing.T) {
	t.Parallel()

	p := DefaultRetryPolicy()
	for _, c := range []FailureCategory{FailureMalformed, FailureCanceled, FailureCategory(0), FailureCategory(99)} {
		if d := p.Decide(RetryContext{AttemptNumber: 1, Category: c}); d.ShouldRetry {
			t.Fatalf("category %d: ShouldRetry=true", int(c))
		}
	}
}

func TestRetryPolicy_Delays(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 8, BaseDelay: 2 * time.Second, FixedDelay: time.Second}
	cases := []struct {
		category FailureCategory
		attempt  int
		want     time.Duration
	}{
		{FailureTransport, 1, 2 * time.Second},
		{FailureTransport, 2, 4 * time.Second},
		{FailureTimeout, 3, 8 * time.Second},
		{FailureTimeout, 6, 8 * time.Second},
		{FailureParse, 1, time.Second},
		{FailureParse, 5, time.Second},
		{FailureEmpty, 2, time.Second},
	}
	for _, tc := range cases {
		d := p.Decide(RetryContext{AttemptNumber: tc.attempt, Category: tc.category})
		if !d.ShouldRetry || d.Delay != tc.want {
			t.Fatalf("%s attempt %d: decision=%+v, want delay %v", tc.category, tc.attempt, d, tc.want)
		}
	}
}

func TestRetryPolicy_Instruction(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 3}
	long := strings.Repeat("é", maxPreviousErrorRunes+50)
	d := p.Decide(RetryContext{AttemptNumber: 1, Category: FailureParse, PreviousError: long})
	if !strings.Contains(d.Instruction, "Attempt 2/3") {
		t.Fatalf("instruction missing attempt counter: %q", d.Instruction)
	}
	if !strings.Contains(d.Instruction, MarkerEnd) || !strings.Contains(d.Instruction, "parse_error") {
		t.Fatalf("instruction missing category guidance: %q", d.Instruction)
	}
	if strings.Count(d.Instruction, "é") != maxPreviousErrorRunes {
		t.Fatalf("previous error was not capped at %d runes", maxPreviousErrorRunes)
	}

	d = p.Decide(RetryContext{
		AttemptNumber:     1,
		Category:          FailureValidation,
		PreviousError:     "2 validation errors remain after auto-fix",
		ValidationDetails: []string{"config.json: unexpected end of JSON input", "src/a.ts: unclosed '{'"},
	})
	for _, want := range []string{"config.json: unexpected end of JSON input", "src/a.ts: unclosed '{'"} {
		if !strings.Contains(d.Instruction, want) {
			t.Fatalf("validation instruction missing %q: %q", want, d.Instruction)
		}
	}
}

func TestRetryPolicy_NormalizesMaxAttempts(t *testing.T) {
	t.Parallel()

	if got := (RetryPolicy{}).normalized().MaxAttempts; got != DefaultMaxAttempts {
		t.Fatalf("zero MaxAttempts normalized to %d", got)
	}
	if got := (RetryPolicy{MaxAttempts: 50}).normalized().MaxAttempts; got != MaxAttemptsCeiling {
		t.Fatalf("MaxAttempts=50 normalized to %d", got)
	}
}
