package protocol

import "errors"

// Sentinel errors returned by this package. Callers match with errors.Is
// and convert to typed errors at component boundaries.
var (
	// ErrMalformedMessage indicates an inbound envelope that is not valid
	// JSON or is missing required header fields.
	ErrMalformedMessage = errors.New("protocol: malformed message envelope")

	// ErrBadSignature indicates an envelope whose sign field does not match
	// the recomputed digest.
	ErrBadSignature = errors.New("protocol: envelope signature mismatch")

	// ErrCipherInputs indicates an attempt to derive a device cipher before
	// the device UUID, account key, and MAC address are all known.
	ErrCipherInputs = errors.New("protocol: incomplete cipher derivation inputs")

	// ErrCiphertext indicates ciphertext that is not a whole number of AES
	// blocks after base64 decoding.
	ErrCiphertext = errors.New("protocol: ciphertext not block aligned")
)
