package cram

import "errors"

// Error kinds specific to CRAM response construction (spec.md §7); digest
// lookup failures (NoState, NoTls, unknown digest) surface as the
// internal/digest package's own sentinel errors and pass through unchanged.
var (
	// ErrBadType is returned when a masked secret is used for a non-HMAC
	// operation (APOP-style digest(challenge||secret)): a masked secret
	// only ever holds HMAC intermediate state.
	ErrBadType = errors.New("cram: masked secret cannot produce a non-HMAC digest")

	// ErrMismatch is returned when the requested mechanism's digest name
	// does not match the masked secret's own hash function.
	ErrMismatch = errors.New("cram: mechanism digest does not match secret's hash function")
)
