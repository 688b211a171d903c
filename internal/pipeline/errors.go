package pipeline

import (
	"errors"
	"fmt"

	"github.com/roach88/proofpipe/internal/completion"
	"github.com/roach88/proofpipe/internal/ir"
)

// Error is a classified pipeline failure for one requirement.
//
// Kinds:
//   - FORMALIZATION: completion response missing, malformed or mismatched
//   - TYPECHECK: the signature does not type-check
//   - SOUNDNESS: the soundness gate found a forbidden construct
//   - VERIFICATION: the verifier rejected the lemma or emitted a warning
//   - TRANSPORT: a collaborator call failed or timed out
type Error struct {
	Kind          ir.ErrorKind
	RequirementID string
	Message       string
	Err           error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.RequirementID != "" {
		return fmt.Sprintf("%s: %s (requirement=%s)", e.Kind, e.Message, e.RequirementID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying collaborator error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrDispositionSet is returned when a requirement's disposition is set twice.
var ErrDispositionSet = errors.New("disposition already set")

// ErrPhaseConflict is returned when a requirement would be both resolved in
// Phase 1 and entered into Phase 2.
var ErrPhaseConflict = errors.New("requirement cannot be resolved in phase 1 and enter phase 2")

// IsTransportError returns true if err is a TRANSPORT pipeline error.
// Uses errors.As to handle wrapped errors.
func IsTransportError(err error) bool {
	return KindOf(err) == ir.KindTransport
}

// IsSoundnessViolation returns true if err is a SOUNDNESS pipeline error.
func IsSoundnessViolation(err error) bool {
	return KindOf(err) == ir.KindSoundness
}

// KindOf returns the kind of a pipeline error, or "" for other errors.
func KindOf(err error) ir.ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// classifyCompletion turns a completion client error into a pipeline error.
// A schema failure means the service answered unusably; anything else means
// it could not be reached.
func classifyCompletion(requirementID string, err error) *Error {
	var se *completion.SchemaError
	if errors.As(err, &se) {
		return &Error{Kind: ir.KindFormalization, RequirementID: requirementID, Message: se.Error(), Err: err}
	}
	return &Error{Kind: ir.KindTransport, RequirementID: requirementID, Message: err.Error(), Err: err}
}
