package model

import "errors"

// Domain sentinels. Services return these wrapped with context via
// fmt.Errorf("...: %w", err); the HTTP layer maps them to status codes.
var (
	// ErrNotFound covers both a missing entity and denied access, so a
	// caller cannot probe for the existence of another tenant's documents.
	ErrNotFound = errors.New("not found")

	// ErrInvalidToken is returned when a share token fails lookup,
	// verification, or expiry checks.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrOtpExpired is returned when no live one-time code exists for the
	// signer's contacts.
	ErrOtpExpired = errors.New("one-time code expired")

	// ErrOtpWrong is returned when a live code exists but does not match.
	ErrOtpWrong = errors.New("one-time code incorrect")

	// ErrAlreadyTerminal is returned when a transition is attempted on an
	// entity in a terminal status.
	ErrAlreadyTerminal = errors.New("already in a terminal status")

	// ErrLimitExceeded is returned when a tenant plan limit blocks the
	// operation.
	ErrLimitExceeded = errors.New("plan limit exceeded")

	// ErrValidation is returned for malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")

	// ErrIntegrity signals an internal invariant violation, for example a
	// stored blob whose hash no longer matches its row.
	ErrIntegrity = errors.New("integrity violation")
)
