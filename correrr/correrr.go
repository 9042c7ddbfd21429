// Package correrr defines the shared error taxonomy every recoverable
// failure in the correlation engine carries, per spec.md §7: a CorrError
// is a typed value classifying what went wrong, not a bare string. Only
// InvariantViolation ever reaches a panic, and only at Orchestrator's top
// level boundary (spec.md §9, "Exceptions for control flow → typed
// results").
package correrr

import "fmt"

// Code enumerates the error classes spec.md §7 defines.
type Code string

const (
	CodeInvalidInput       Code = "invalid_input"
	CodePartialCollection  Code = "partial_collection"
	CodeProviderTransient  Code = "provider_transient"
	CodeProviderFatal      Code = "provider_fatal"
	CodeBudgetDenied       Code = "budget_denied"
	CodeCancelled          Code = "cancelled"
	CodeInvariantViolation Code = "invariant_violation"
)

// CorrError is the interface every recoverable failure implements, per
// spec.md §7: "Recoverable failures are typed values implementing a
// shared CorrError interface."
type CorrError interface {
	error
	Code() Code
	Unwrap() error
}

// Cancelled reports that a run stopped because its context was cancelled
// or deadline-exceeded, per spec.md §7/§8 scenario 6.
type Cancelled struct {
	Err error
}

func (e *Cancelled) Error() string {
	if e.Err != nil {
		return "cancelled: " + e.Err.Error()
	}
	return "cancelled"
}

func (e *Cancelled) Code() Code    { return CodeCancelled }
func (e *Cancelled) Unwrap() error { return e.Err }

// InvariantViolation reports that code reached a state spec.md declares
// impossible under correct operation. It is the only error type this
// package constructs via panic rather than an ordinary return, per
// spec.md §9.
type InvariantViolation struct {
	Detail string
	Err    error
}

func (e *InvariantViolation) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invariant violation: %s: %v", e.Detail, e.Err)
	}
	return "invariant violation: " + e.Detail
}

func (e *InvariantViolation) Code() Code    { return CodeInvariantViolation }
func (e *InvariantViolation) Unwrap() error { return e.Err }

// Panic raises an InvariantViolation, to be caught by the top-level
// recover() in Orchestrator.Correlate. It must never be called for a
// condition reachable by ordinary bad input or provider behavior — those
// are CorrError return values, not panics.
func Panic(detail string, err error) {
	panic(&InvariantViolation{Detail: detail, Err: err})
}
