/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place. The taxonomy mirrors how callers must
  react:
  1. Validation errors - bad input, rejected before any state mutation
  2. Not-found errors  - update/delete of an unknown id, no partial effect
  3. Persistence errors - durability failed; in-memory state is ahead of
     disk and the write is retried, never silently dropped
  4. Consistency errors - defensive invariant checks; a programming
     defect signal, never something user input can cause

USAGE:
  if errors.Is(err, ledger.ErrAccountNotFound) { ... }
  if ledger.IsValidation(err) { ... }

SEE ALSO:
  - ledger.go: Validation happens before mutation, always
  - coordinator.go: Persistence retry surfaces PersistenceFailure
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAccountNotFound is returned when a transaction references an
	// account the ledger does not know. The most common cause is a missing
	// SyncAccounts call after creating the account externally.
	ErrAccountNotFound = errors.New("account not found")

	// ErrCategoryNotFound mirrors ErrAccountNotFound for categories.
	ErrCategoryNotFound = errors.New("category not found")

	// ErrTransactionNotFound is returned by update/delete of an unknown id.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrSeriesNotFound is returned for operations on an unknown series.
	ErrSeriesNotFound = errors.New("recurring series not found")

	// ErrDuplicateTransaction is returned when an id already exists.
	// Expected for re-runs of the projection engine (deterministic ids).
	ErrDuplicateTransaction = errors.New("duplicate transaction id")

	// ErrSelfTransfer is returned when a transfer names the same account
	// on both sides.
	ErrSelfTransfer = errors.New("transfer source and target are the same account")

	// ErrInvalidAmount is returned for malformed or non-positive amounts
	// where a positive amount is required.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrMissingTargetAmount is returned when a cross-currency transfer
	// does not state what the target account receives.
	ErrMissingTargetAmount = errors.New("cross-currency transfer missing target amount")

	// ErrMissingPerspective is returned when a balance delta is requested
	// for a transfer without stating which side is being computed.
	ErrMissingPerspective = errors.New("transfer delta requires an explicit perspective")

	// ErrPersistence wraps durability-layer failures.
	ErrPersistence = errors.New("persistence failed")

	// ErrConsistency marks defensive invariant violations.
	ErrConsistency = errors.New("ledger consistency violation")

	// ErrCancelled is returned when a bulk operation is cooperatively
	// cancelled; no partial state is left behind.
	ErrCancelled = errors.New("operation cancelled")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports rejected input. The prior ledger state is fully
// intact whenever one of these is returned.
type ValidationError struct {
	Field  string
	Reason string
	Err    error // sentinel this wraps
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// PersistenceFailure reports a durability failure and how often the write
// has been retried. In-memory state is treated as ahead-of-disk until the
// retry succeeds.
type PersistenceFailure struct {
	Op       string
	Attempts int
	Err      error
}

func (e *PersistenceFailure) Error() string {
	return fmt.Sprintf("persistence failed for %s after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *PersistenceFailure) Unwrap() error { return ErrPersistence }

// ConsistencyError reports a defensive invariant check that fired.
// Logged loudly, never shown to users as-is.
type ConsistencyError struct {
	Invariant string
	Detail    string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency violation (%s): %s", e.Invariant, e.Detail)
}

func (e *ConsistencyError) Unwrap() error { return ErrConsistency }

// =============================================================================
// CLASSIFIERS
// =============================================================================

// IsValidation returns true for errors the caller can fix by correcting
// input.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrSelfTransfer) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrMissingTargetAmount) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrCategoryNotFound)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrSeriesNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrCategoryNotFound)
}

// IsPersistence returns true for durability failures (retryable).
func IsPersistence(err error) bool { return errors.Is(err, ErrPersistence) }

// IsConsistency returns true for defensive invariant violations.
func IsConsistency(err error) bool {
	return errors.Is(err, ErrConsistency) || errors.Is(err, ErrMissingPerspective)
}
