package domain

import "fmt"

// Error taxonomy. Errors local to one signature or one content unit are
// isolated and logged upstream; only session-level corruption reaches the
// caller as a hard error.

// ValidationError rejects a bad signature definition before it can affect
// live scoring.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid signature: %s: %s", e.Field, e.Reason)
}

// ExtractionError is non-fatal: the unit is scored with zero signal and the
// failure is logged, never dropped silently.
type ExtractionError struct {
	Channel Channel
	Reason  string
	Cause   error
}

func (e *ExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("extract %s: %s: %v", e.Channel, e.Reason, e.Cause)
	}
	return fmt.Sprintf("extract %s: %s", e.Channel, e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// SequenceGapError reports out-of-order arrival. The unit is buffered for a
// bounded wait; if the gap never resolves it is filled with synthetic
// zero-score placeholders.
type SequenceGapError struct {
	SessionID string
	Expected  int64
	Got       int64
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("session %s: sequence gap: expected %d, got %d", e.SessionID, e.Expected, e.Got)
}

// SessionClosedError rejects content arriving after close. Caller error,
// never silently dropped.
type SessionClosedError struct {
	SessionID string
}

func (e *SessionClosedError) Error() string {
	return fmt.Sprintf("session %s is closed", e.SessionID)
}

// RegistryCompileError quarantines a single bad regex signature; it never
// aborts loading the rest of the batch.
type RegistryCompileError struct {
	SignatureID string
	Pattern     string
	Cause       error
}

func (e *RegistryCompileError) Error() string {
	return fmt.Sprintf("signature %s: pattern %q does not compile: %v", e.SignatureID, e.Pattern, e.Cause)
}

func (e *RegistryCompileError) Unwrap() error { return e.Cause }
