// Package httperr carries the error taxonomy surfaced at the API boundary.
// Each kind is a distinct sentinel type so callers branch with the IsX
// predicates instead of matching on message text.
package httperr

import "errors"

// InvalidRequestError marks malformed or semantically invalid input.
// Never retried.
type InvalidRequestError struct {
	msg string
}

func (e *InvalidRequestError) Error() string { return e.msg }

func NewInvalidRequest(msg string) error { return &InvalidRequestError{msg: msg} }

func IsInvalidRequest(err error) bool {
	var target *InvalidRequestError
	ok := errors.As(err, &target)
	return ok
}

// NotFoundError marks a referenced entity absent within the tenant.
type NotFoundError struct {
	msg string
}

func (e *NotFoundError) Error() string { return e.msg }

func NewNotFound(msg string) error { return &NotFoundError{msg: msg} }

func IsNotFound(err error) bool {
	var target *NotFoundError
	ok := errors.As(err, &target)
	return ok
}

// IdempotencyConflictError marks an idempotency key reused with a
// different payload. The caller must pick a new key.
type IdempotencyConflictError struct {
	msg string
}

func (e *IdempotencyConflictError) Error() string { return e.msg }

func NewIdempotencyConflict(msg string) error { return &IdempotencyConflictError{msg: msg} }

func IsIdempotencyConflict(err error) bool {
	var target *IdempotencyConflictError
	ok := errors.As(err, &target)
	return ok
}

// ConcurrentWriteConflictError marks a write rejected by the storage
// uniqueness backstop. Retryable with the same idempotency key.
type ConcurrentWriteConflictError struct {
	msg string
}

func (e *ConcurrentWriteConflictError) Error() string { return e.msg }

func NewConcurrentWriteConflict(msg string) error { return &ConcurrentWriteConflictError{msg: msg} }

func IsConcurrentWriteConflict(err error) bool {
	var target *ConcurrentWriteConflictError
	ok := errors.As(err, &target)
	return ok
}

// InternalConsistencyError marks bug-class state, e.g. an idempotency
// record pointing at a missing correction. Surfaced as a server error,
// never swallowed.
type InternalConsistencyError struct {
	msg string
}

func (e *InternalConsistencyError) Error() string { return e.msg }

func NewInternalConsistency(msg string) error { return &InternalConsistencyError{msg: msg} }

func IsInternalConsistency(err error) bool {
	var target *InternalConsistencyError
	ok := errors.As(err, &target)
	return ok
}
