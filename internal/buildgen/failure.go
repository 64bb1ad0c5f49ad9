package buildgen

import (
	"context"
	"errors"
	"fmt"
)

// FailureCategory is the closed set of reasons an attempt can fail.
type FailureCategory int

const (
	FailureParse FailureCategory = iota + 1
	FailureEmpty
	FailureTransport
	FailureTimeout
	FailureTruncated
	FailureValidation
	FailureMalformed
	FailureCanceled
)

// AllFailureCategories lists every category in declaration order.
var AllFailureCategories = []FailureCategory{
	FailureParse,
	FailureEmpty,
	FailureTransport,
	FailureTimeout,
	FailureTruncated,
	FailureValidation,
	FailureMalformed,
	FailureCanceled,
}

// Code is the machine-readable code carried on terminal error events.
func (c FailureCategory) Code() string {
	switch c {
	case FailureParse:
		return "parse_error"
	case FailureEmpty:
		return "empty_response"
	case FailureTransport:
		return "transport_error"
	case FailureTimeout:
		return "timeout"
	case FailureTruncated:
		return "truncated"
	case FailureValidation:
		return "validation_failed"
	case FailureMalformed:
		return "malformed_response"
	case FailureCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

func (c FailureCategory) String() string { return c.Code() }

// Failure is an attempt failure tagged with its category. Error returns the wrapped message unchanged.
type Failure struct {
	Category FailureCategory
	Err      error
}

func (f *Failure) Error() string {
	if f == nil || f.Err == nil {
		return ""
	}
	return f.Err.Error()
}

func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

func newFailure(category FailureCategory, format string, args ...any) *Failure {
	return &Failure{Category: category, Err: fmt.Errorf(format, args...)}
}

// classifyTransportError maps a provider or stream error to a failure category.
func classifyTransportError(ctx context.Context, err error) *Failure {
	var f *Failure
	switch {
	case errors.As(err, &f):
		return f
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
		return &Failure{Category: FailureCanceled, Err: err}
	case errors.Is(err, ErrStreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return &Failure{Category: FailureTimeout, Err: err}
	default:
		return &Failure{Category: FailureTransport, Err: err}
	}
}
