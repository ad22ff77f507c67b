package model

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")

	// ErrDuplicateIdempotencyKey maps the storage-layer uniqueness violation
	// on (owner, idempotency key). It is the safety net when the guard's
	// shared store is unavailable and the guard fails open.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDuplicateInFlight is returned for a duplicate request whose original
	// write has not resolved to a memory id yet.
	ErrDuplicateInFlight = errors.New("duplicate request in flight")

	// ErrCommitPrecondition rejects committing a memory whose outbox event
	// has not reached a terminal status. Programming-contract violation,
	// never ignored.
	ErrCommitPrecondition = errors.New("commit precondition: outbox event not terminal")

	// ErrMalformedPayload marks an outbox payload that failed schema
	// validation. Distinct from transient failures: it fast-tracks to DLQ.
	ErrMalformedPayload = errors.New("malformed outbox payload")
)
