package types

import (
	"errors"
	"fmt"
)

// ErrorClass partitions failures by how the orchestrator reacts to them.
type ErrorClass string

const (
	// ErrClassTransient covers infrastructure errors worth one retry at the
	// executor layer (timeouts, 5xx-equivalents, connection resets).
	ErrClassTransient ErrorClass = "transient_infra"

	// ErrClassPermanent covers errors that are never retried: validation,
	// permission, plan binding.
	ErrClassPermanent ErrorClass = "permanent"

	// ErrClassSafetyAbort means an operator or the system declined the risk.
	ErrClassSafetyAbort ErrorClass = "safety_abort"

	// ErrClassUnverified means actions were applied but recovery could not
	// be confirmed.
	ErrClassUnverified ErrorClass = "unverified"
)

// ClassifiedError attaches an ErrorClass and operation context to an error.
type ClassifiedError struct {
	Class ErrorClass
	Op    string
	Err   error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Class)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// TransientErr wraps err as retryable infrastructure failure.
func TransientErr(op string, err error) error {
	return &ClassifiedError{Class: ErrClassTransient, Op: op, Err: err}
}

// PermanentErr wraps err as a non-retryable failure.
func PermanentErr(op string, err error) error {
	return &ClassifiedError{Class: ErrClassPermanent, Op: op, Err: err}
}

// SafetyAbortErr wraps err as a declined-risk failure.
func SafetyAbortErr(op string, err error) error {
	return &ClassifiedError{Class: ErrClassSafetyAbort, Op: op, Err: err}
}

// UnverifiedErr wraps err as applied-but-unconfirmed.
func UnverifiedErr(op string, err error) error {
	return &ClassifiedError{Class: ErrClassUnverified, Op: op, Err: err}
}

// ClassOf returns the error's class. Unclassified errors default to
// Permanent so nothing is silently retried.
func ClassOf(err error) ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ErrClassPermanent
}

// IsTransient reports whether err should get the executor's single retry.
func IsTransient(err error) bool {
	return ClassOf(err) == ErrClassTransient
}
