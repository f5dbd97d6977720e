package model

import (
	"errors"
	"fmt"
)

// Structural errors: rejected locally, step discarded, no ledger mutation.
var (
	// ErrCycleDetected means the proposed edge would create a cycle.
	ErrCycleDetected = errors.New("edge would create a cycle")
	// ErrUnknownNode means an edge endpoint or evidence ref does not exist.
	ErrUnknownNode = errors.New("unknown node")
)

// ErrSessionHalted means the session reached the kill switch and accepts
// no further graph mutations.
var ErrSessionHalted = errors.New("session is halted")

// ErrStoreUnavailable is transient: the underlying store could not be
// reached. The caller may retry the whole step submission.
var ErrStoreUnavailable = errors.New("ledger store unavailable")

// SequenceConflictError indicates two appends raced on the same session
// sequence number. Never retried internally; surfaced to the caller.
type SequenceConflictError struct {
	SessionID string
	Sequence  uint64
}

func (e *SequenceConflictError) Error() string {
	return fmt.Sprintf("sequence conflict: session %s seq %d already committed", e.SessionID, e.Sequence)
}

// HashMismatchError is fatal for the affected session: the hash chain is
// broken at Sequence. The session must be treated as compromised.
type HashMismatchError struct {
	SessionID string
	Sequence  uint64
	Detail    string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch: session %s seq %d: %s", e.SessionID, e.Sequence, e.Detail)
}

// MissingEntryError means a sequence number is absent from the ledger.
type MissingEntryError struct {
	SessionID string
	Sequence  uint64
}

func (e *MissingEntryError) Error() string {
	return fmt.Sprintf("missing ledger entry: session %s seq %d", e.SessionID, e.Sequence)
}

// PolicyError wraps a rule predicate evaluation failure. Fails closed:
// the affected rule counts as an implicit Fail verdict.
type PolicyError struct {
	RuleName string
	Err      error
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy rule %q: %v", e.RuleName, e.Err)
}

func (e *PolicyError) Unwrap() error { return e.Err }
