// Package errors provides structured error types for smartpool.
//
// This package provides:
//   - Sentinel errors for common error conditions
//   - Error wrapping with context preservation
//   - Predicates for classifying errors with errors.Is
//
// Misuse errors (ErrInTransaction, ErrNotInTransaction) are programmer
// errors: they are never retried by the pool or any wrapper.
package errors

import (
	"errors"
	"fmt"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these conditions.
var (
	// ErrEmptyPool indicates the pool is at capacity with no idle resource.
	// Acquisition fails fast; retry/backoff policy belongs to the caller.
	ErrEmptyPool = errors.New("pool exhausted")

	// ErrPoolClosed indicates an operation on a closed pool.
	ErrPoolClosed = errors.New("pool is closed")

	// ErrPoolExists indicates a registry name is already taken.
	ErrPoolExists = errors.New("pool already registered")

	// ErrUnknownPool indicates a registry lookup for an unregistered name.
	ErrUnknownPool = errors.New("unknown pool")

	// ErrInTransaction indicates begin was called inside an open transaction.
	ErrInTransaction = errors.New("already in transaction")

	// ErrNotInTransaction indicates commit/rollback outside a transaction.
	ErrNotInTransaction = errors.New("not in transaction")

	// ErrNotConnected indicates a capability call on a disconnected resource.
	ErrNotConnected = errors.New("not connected")

	// ErrSessionEnded indicates a capability call on an ended session.
	ErrSessionEnded = errors.New("session ended")

	// ErrConfiguration indicates an invalid configuration.
	ErrConfiguration = errors.New("configuration error")
)

// Wrap annotates err with a message, preserving it for errors.Is/As.
func Wrap(message string, err error) error {
	if err == nil {
		return nil
	}
	log.WithError(err).Debug("wrapping error")
	return fmt.Errorf("%s: %w", message, err)
}

// IsEmptyPool returns true if the error indicates pool exhaustion.
func IsEmptyPool(err error) bool {
	return errors.Is(err, ErrEmptyPool)
}

// IsPoolClosed returns true if the error indicates a closed pool.
func IsPoolClosed(err error) bool {
	return errors.Is(err, ErrPoolClosed)
}

// IsMisuse returns true for fatal programmer-misuse errors that must not
// be retried.
func IsMisuse(err error) bool {
	return errors.Is(err, ErrInTransaction) || errors.Is(err, ErrNotInTransaction)
}

// IsConfiguration returns true if the error indicates invalid configuration.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

// Join combines multiple errors into a single error.
// Returns nil if all errors are nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target,
// and if so, sets target to that error value and returns true.
func As(err error, target any) bool {
	return errors.As(err, target)
}
