package domain

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks. The typed errors below unwrap to these.
var (
	ErrNotFound          = errors.New("resource not found")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("conflicting request")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrForbidden         = errors.New("forbidden")
	ErrSequenceExhausted = errors.New("donation sequence exhausted for period")
)

// Ledger errors surface only through sync status, never to the caller of a transition
var (
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	ErrLedgerRejected    = errors.New("ledger rejected submission")
)

// ValidationError reports malformed input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports an unknown entity
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidTransitionError reports a move the lifecycle does not allow
type InvalidTransitionError struct {
	ID   string
	From DonationStatus
	To   DonationStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("donation %s cannot move from %s to %s", e.ID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// ConflictError reports a request that contradicts an already applied one
type ConflictError struct {
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("donation %s: %s", e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// InsufficientFundsError reports a distribution above the remaining balance
type InsufficientFundsError struct {
	ID        string
	Requested int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("donation %s: requested %d exceeds remaining %d", e.ID, e.Requested, e.Available)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// LedgerUnavailableError is a retryable ledger failure
type LedgerUnavailableError struct {
	Function string
	Err      error
}

func (e *LedgerUnavailableError) Error() string {
	return fmt.Sprintf("ledger unavailable for %s: %v", e.Function, e.Err)
}

func (e *LedgerUnavailableError) Unwrap() error { return e.Err }

func (e *LedgerUnavailableError) Is(target error) bool { return target == ErrLedgerUnavailable }

// LedgerRejectedError is a permanent ledger refusal
type LedgerRejectedError struct {
	Function string
	Reason   string
}

func (e *LedgerRejectedError) Error() string {
	return fmt.Sprintf("ledger rejected %s: %s", e.Function, e.Reason)
}

func (e *LedgerRejectedError) Is(target error) bool { return target == ErrLedgerRejected }
