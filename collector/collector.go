// Package collector implements the Collector Registry (C2): a pluggable
// adapter protocol for pulling evidence from developer platforms, with
// parallel fan-out, per-adapter failure isolation, and fingerprint-based
// dedup at ingest, per spec.md §4.2 and §6.
package collector

import (
	"context"
	"time"

	"github.com/perfpulse/correlate/correrr"
	"github.com/perfpulse/correlate/evidence"
)

// Window bounds a collection request to an activity time range.
type Window struct {
	From, To time.Time
}

// Capabilities describes what an adapter can collect, per spec.md §6's
// `capabilities() → {kinds: set, supports_user_window: bool}`.
type Capabilities struct {
	Kinds              []evidence.Kind
	SupportsUserWindow bool
}

// Health is the result of a liveness check against an adapter's backing
// platform.
type Health struct {
	OK     bool
	Detail string
}

// Collector is the adapter protocol every platform integration conforms
// to, per spec.md §6.
type Collector interface {
	// Name returns the adapter's unique, stable identifier.
	Name() string
	Capabilities() Capabilities
	// Collect returns the finite, non-restartable set of evidence items
	// for person within window. Implementations must respect ctx
	// cancellation and their own per-call timeout.
	Collect(ctx context.Context, person string, window Window) ([]*evidence.Item, error)
	Health(ctx context.Context) Health
}

// Failure classifies the recoverable error modes spec.md §6 names for a
// collector adapter.
type Failure string

const (
	FailureAuth        Failure = "auth_error"
	FailureRateLimited Failure = "rate_limited"
	FailureUnavailable Failure = "unavailable"
	FailureInvalid     Failure = "invalid_request"
)

// CollectorError wraps an adapter failure with its classification and,
// for rate limiting, a retry-after hint.
type CollectorError struct {
	Failure    Failure
	RetryAfter time.Duration
	Cause      error
}

func (e *CollectorError) Error() string {
	if e.Cause != nil {
		return string(e.Failure) + ": " + e.Cause.Error()
	}
	return string(e.Failure)
}

func (e *CollectorError) Unwrap() error { return e.Cause }

// Code implements correrr.CorrError, mapping an adapter's failure
// classification onto the shared taxonomy: auth and malformed-request
// failures are not worth retrying, rate limiting and unavailability are.
func (e *CollectorError) Code() correrr.Code {
	switch e.Failure {
	case FailureRateLimited, FailureUnavailable:
		return correrr.CodeProviderTransient
	default:
		return correrr.CodeProviderFatal
	}
}

var _ correrr.CorrError = (*CollectorError)(nil)
