// Package mlserr defines the sentinel error kinds the coordination engine
// distinguishes. Callers use errors.Is against these rather
// than matching on message text.
package mlserr

import "errors"

var (
	// ErrWireDecode marks a wire/serialisation failure. Never fatal: the
	// caller drops the single frame and logs.
	ErrWireDecode = errors.New("mlsgov: wire decode failed")

	// ErrMLSDecrypt marks an MLS decryption or signature-verification
	// failure on an inbound ciphertext. The caller drops the message.
	ErrMLSDecrypt = errors.New("mlsgov: mls decrypt/verify failed")

	// ErrEpochMismatch marks a recoverable epoch disagreement between the
	// local handle and an inbound message.
	ErrEpochMismatch = errors.New("mlsgov: epoch mismatch")

	// ErrNoGovState marks a message received before governance state has
	// been initialised for the group (buffered, not an error to the user
	// unless surfaced via a failed Accept).
	ErrNoGovState = errors.New("mlsgov: no governance state yet")

	// ErrBadSignature marks an action whose signature failed verification.
	ErrBadSignature = errors.New("mlsgov: action signature invalid")

	// ErrPrecondition marks a precondition violation visible to the user
	// (e.g. Add without a prior Invite).
	ErrPrecondition = errors.New("mlsgov: precondition violated")

	// ErrUnknownUser marks an identity unknown to the DS/AS.
	ErrUnknownUser = errors.New("mlsgov: unknown user")

	// ErrMaxRetries marks exhaustion of the client's retry budget.
	ErrMaxRetries = errors.New("mlsgov: max retries exceeded")

	// ErrPendingSlotOccupied marks an attempt to record a second pending
	// ordered action for a group that already has one in flight.
	ErrPendingSlotOccupied = errors.New("mlsgov: pending action slot occupied")
)
