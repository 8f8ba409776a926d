// Package provider holds the error type shared by every port adapter family.
package provider

import (
	"errors"
	"fmt"
)

// PortError reports a remote failure from an STT, LLM, TTS or telephony
// adapter. Fallback wrappers use the Retryable hint to decide whether a
// secondary provider should take over; everything else propagates unchanged.
type PortError struct {
	// Provider tags the adapter that failed, e.g. "deepgram" or "twilio".
	Provider string

	// Op names the failed operation, e.g. "start_stream" or "end_call".
	Op string

	// Retryable hints that the same request may succeed on retry or on a
	// fallback provider. Rate limits and 5xx responses are retryable;
	// authentication and validation failures are not.
	Retryable bool

	// Err is the original cause.
	Err error
}

// Error implements the error interface.
func (e *PortError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *PortError) Unwrap() error { return e.Err }

// NewPortError wraps cause as a PortError.
func NewPortError(providerTag, op string, retryable bool, cause error) *PortError {
	return &PortError{Provider: providerTag, Op: op, Retryable: retryable, Err: cause}
}

// IsRetryable reports whether err carries a retryable PortError hint
// anywhere in its chain.
func IsRetryable(err error) bool {
	var pe *PortError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
